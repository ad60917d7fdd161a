package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/vheikkil/gdrive-go/internal/drive"
	"github.com/vheikkil/gdrive-go/internal/transfer"
)

// Kind discriminates folders from leaves (files).
type Kind int

const (
	KindFolder Kind = iota
	KindLeaf
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}

	return "file"
}

// Node is one entry in the remote hierarchy. Nodes are created by NewRoot and
// by traversal (Child, List, ResolvePath, Mkdir, Upload); they hold a
// non-owning pointer to their parent and inherit the API client and transfer
// engine from whichever ancestor carries them — normally the root.
//
// A Node is a point-in-time view: it caches the entry's ID, name, kind, and
// size as of lookup, and does not observe remote changes made behind its back.
type Node struct {
	name   string
	id     string
	kind   Kind
	size   int64
	parent *Node

	// Set on the root; inherited by descendants via the parent walk.
	client *drive.Client
	engine *transfer.Engine

	removed bool
}

// NewRoot returns the node for the Drive root folder. The client and engine
// attached here serve every node reached through it.
func NewRoot(client *drive.Client, engine *transfer.Engine) *Node {
	return &Node{
		name:   "/",
		id:     drive.RootID,
		kind:   KindFolder,
		client: client,
		engine: engine,
	}
}

// Name returns the entry's name as of lookup.
func (n *Node) Name() string { return n.name }

// ID returns the remote file ID, or "" after removal.
func (n *Node) ID() string { return n.id }

// Kind returns whether the node is a folder or a leaf.
func (n *Node) Kind() Kind { return n.kind }

// Size returns the content size in bytes as of lookup. Folders report zero.
func (n *Node) Size() int64 { return n.size }

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.kind == KindFolder }

// session walks up the parent chain to the node carrying the client and
// engine.
func (n *Node) session() (*drive.Client, *transfer.Engine) {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.client != nil {
			return cur.client, cur.engine
		}
	}

	return nil, nil
}

func (n *Node) guard(want Kind) error {
	if n.removed {
		return fmt.Errorf("%w: %s", ErrRemoved, n.name)
	}

	if n.kind != want {
		return fmt.Errorf("%w: %s is a %s", ErrUnsupported, n.name, n.kind)
	}

	return nil
}

// fromFile builds a child node from an API file resource.
func (n *Node) fromFile(f *drive.File) *Node {
	kind := KindLeaf
	if f.IsFolder() {
		kind = KindFolder
	}

	return &Node{
		name:   f.Name,
		id:     f.ID,
		kind:   kind,
		size:   f.Size,
		parent: n,
	}
}

// Child looks up the named entry in this folder. A missing child is not an
// error: Child returns nil, nil. More than one match returns ErrAmbiguous —
// the remote allows duplicate names, and picking one silently would make
// every subsequent operation act on an arbitrary entry.
func (n *Node) Child(ctx context.Context, name string) (*Node, error) {
	if err := n.guard(KindFolder); err != nil {
		return nil, err
	}

	client, _ := n.session()

	matches, err := client.FindChildren(ctx, n.id, name)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return n.fromFile(&matches[0]), nil
	default:
		return nil, fmt.Errorf("%w: %q in %s", ErrAmbiguous, name, n.name)
	}
}

// List returns all entries in this folder.
func (n *Node) List(ctx context.Context) ([]*Node, error) {
	if err := n.guard(KindFolder); err != nil {
		return nil, err
	}

	client, _ := n.session()

	files, err := client.ListChildren(ctx, n.id)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(files))
	for i := range files {
		nodes = append(nodes, n.fromFile(&files[i]))
	}

	return nodes, nil
}

// Mkdir creates the named subfolder and returns its node. Mkdir is
// idempotent: an existing folder under that name is returned as-is. An
// existing leaf under that name is ErrTypeConflict.
func (n *Node) Mkdir(ctx context.Context, name string) (*Node, error) {
	existing, err := n.Child(ctx, name)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if !existing.IsFolder() {
			return nil, fmt.Errorf("%w: %q is a file, not a folder", ErrTypeConflict, name)
		}

		return existing, nil
	}

	client, _ := n.session()

	created, err := client.CreateFolder(ctx, n.id, name)
	if err != nil {
		return nil, err
	}

	return n.fromFile(created), nil
}

// Upload transfers localPath into this folder as a new leaf named name and
// returns its node. An existing entry under that name — folder or leaf — is
// ErrAlreadyExists; overwriting is the caller's decision, made by removing
// the old entry first.
func (n *Node) Upload(ctx context.Context, localPath, name string, opts transfer.Options) (*Node, error) {
	existing, err := n.Child(ctx, name)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, fmt.Errorf("%w: %q in %s", ErrAlreadyExists, name, n.name)
	}

	client, engine := n.session()

	id, err := engine.Send(ctx, localPath, transfer.UploadMeta{Name: name, ParentID: n.id}, opts)
	if err != nil {
		return nil, err
	}

	created, err := client.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}

	return n.fromFile(created), nil
}

// Download transfers this leaf's content to localPath, resuming a partial
// local file if one exists.
func (n *Node) Download(ctx context.Context, localPath string, opts transfer.Options) error {
	if err := n.guard(KindLeaf); err != nil {
		return err
	}

	_, engine := n.session()

	return engine.Receive(ctx, n.id, localPath, opts)
}

// Remove deletes the entry from the remote and tombstones the node: the ID
// is cleared and every later operation through this node fails with
// ErrRemoved. Child nodes obtained earlier are not tombstoned — they fail
// naturally when the remote reports their IDs gone.
func (n *Node) Remove(ctx context.Context) error {
	if n.removed {
		return fmt.Errorf("%w: %s", ErrRemoved, n.name)
	}

	// The root has no parent to remove it from; a recursive delete of the
	// entire drive is never what the caller meant.
	if n.parent == nil {
		return fmt.Errorf("%w: cannot remove the root folder", ErrUnsupported)
	}

	client, _ := n.session()

	if err := client.DeleteFile(ctx, n.id); err != nil {
		return err
	}

	n.removed = true
	n.id = ""

	return nil
}

// ResolvePath walks a slash-separated path from this folder and returns the
// node it names, or nil, nil when any component is missing. Empty components
// (leading, trailing, doubled slashes) are ignored. A leaf in a non-final
// position is ErrUnsupported: files have no children.
func (n *Node) ResolvePath(ctx context.Context, path string) (*Node, error) {
	if err := n.guard(KindFolder); err != nil {
		return nil, err
	}

	cur := n

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}

		if !cur.IsFolder() {
			return nil, fmt.Errorf("%w: %s is a file, cannot descend into it", ErrUnsupported, cur.name)
		}

		next, err := cur.Child(ctx, part)
		if err != nil {
			return nil, err
		}

		if next == nil {
			return nil, nil
		}

		cur = next
	}

	return cur, nil
}

// MkdirAll walks a slash-separated path from this folder, creating missing
// folders along the way, and returns the final folder node. Any existing
// leaf on the path is ErrTypeConflict.
func (n *Node) MkdirAll(ctx context.Context, path string) (*Node, error) {
	if err := n.guard(KindFolder); err != nil {
		return nil, err
	}

	cur := n

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}

		next, err := cur.Mkdir(ctx, part)
		if err != nil {
			return nil, err
		}

		cur = next
	}

	return cur, nil
}
