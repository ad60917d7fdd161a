package drive

// FolderMimeType is the MIME type Drive assigns to folder entries.
const FolderMimeType = "application/vnd.google-apps.folder"

// RootID is the alias Drive accepts for the root folder of a drive.
const RootID = "root"

// File represents a Drive file or folder entry, normalized from the
// API response — callers never see raw API data.
type File struct {
	ID       string
	Name     string
	MimeType string
	Size     int64 // 0 for folders; Drive reports size only for binary content
	ParentID string
	Trashed  bool
}

// IsFolder reports whether the entry is a folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}
