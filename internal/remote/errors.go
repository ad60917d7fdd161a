// Package remote models the Drive hierarchy as a tree of nodes. Folders
// look up and create children, leaves transfer content; a node removed from
// the remote becomes a tombstone that rejects further operations.
package remote

import "errors"

var (
	// ErrAmbiguous means a name matched more than one child of a folder.
	// Drive allows duplicate names; this library treats them as a fatal
	// condition rather than silently picking one.
	ErrAmbiguous = errors.New("remote: name matches multiple entries")

	// ErrTypeConflict means an entry exists under the requested name but has
	// the wrong kind, e.g. Mkdir over an existing file.
	ErrTypeConflict = errors.New("remote: entry exists with conflicting type")

	// ErrAlreadyExists means an upload target name is already taken.
	ErrAlreadyExists = errors.New("remote: entry already exists")

	// ErrUnsupported means the operation does not apply to the node's kind,
	// e.g. descending into a file.
	ErrUnsupported = errors.New("remote: operation not supported for this entry")

	// ErrRemoved means the node was deleted and no further operations are
	// possible through it.
	ErrRemoved = errors.New("remote: entry has been removed")
)
