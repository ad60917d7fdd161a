package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// fileFields is the fields projection requested for every file resource.
const fileFields = "id,name,mimeType,size,trashed,parents"

// listPageSize is the pageSize for ListChildren requests. 1000 is the
// maximum the Drive API allows for file collections.
const listPageSize = 1000

// fileResource mirrors the Drive v3 file JSON exactly. Unexported — callers
// use File via toFile() normalization. Size is a string in the wire format.
type fileResource struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Size     string   `json:"size,omitempty"`
	Trashed  bool     `json:"trashed,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

type fileListResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type createFileRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

// toFile normalizes a Drive file resource into our File type.
func (r *fileResource) toFile(logger *slog.Logger) File {
	f := File{
		ID:       r.ID,
		Name:     r.Name,
		MimeType: r.MimeType,
		Trashed:  r.Trashed,
	}

	if len(r.Parents) > 0 {
		f.ParentID = r.Parents[0]
	}

	if r.Size != "" {
		size, err := strconv.ParseInt(r.Size, 10, 64)
		if err != nil {
			logger.Warn("invalid size in file resource, using zero",
				slog.String("file_id", r.ID),
				slog.String("raw", r.Size),
			)
		} else {
			f.Size = size
		}
	}

	return f
}

// escapeQueryTerm escapes a string literal for interpolation into a Drive
// search query. Backslashes and single quotes are the only characters the
// query grammar treats specially inside a quoted term.
func escapeQueryTerm(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// GetFile retrieves a single file resource by ID.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	c.logger.Debug("getting file", slog.String("file_id", fileID))

	path := fmt.Sprintf("/files/%s?fields=%s", url.PathEscape(fileID), url.QueryEscape(fileFields))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResource
	if decErr := json.NewDecoder(resp.Body).Decode(&fr); decErr != nil {
		return nil, fmt.Errorf("drive: decoding file response: %w", decErr)
	}

	f := fr.toFile(c.logger)

	return &f, nil
}

// FindChildren returns the non-trashed children of parentID whose name
// exactly equals name. At most two entries are requested: one is the normal
// case, two proves the name is duplicated so the caller can reject it.
func (c *Client) FindChildren(ctx context.Context, parentID, name string) ([]File, error) {
	c.logger.Debug("finding children by name",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		escapeQueryTerm(parentID), escapeQueryTerm(name))

	path := fmt.Sprintf("/files?q=%s&pageSize=2&fields=%s",
		url.QueryEscape(q), url.QueryEscape("files("+fileFields+")"))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var flr fileListResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&flr); decErr != nil {
		return nil, fmt.Errorf("drive: decoding file list response: %w", decErr)
	}

	files := make([]File, 0, len(flr.Files))
	for i := range flr.Files {
		files = append(files, flr.Files[i].toFile(c.logger))
	}

	return files, nil
}

// ListChildren returns all non-trashed children of a folder, handling
// pagination automatically.
func (c *Client) ListChildren(ctx context.Context, parentID string) ([]File, error) {
	c.logger.Debug("listing children", slog.String("parent_id", parentID))

	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryTerm(parentID))

	var files []File

	pageToken := ""

	for {
		path := fmt.Sprintf("/files?q=%s&pageSize=%d&fields=%s",
			url.QueryEscape(q), listPageSize,
			url.QueryEscape("nextPageToken,files("+fileFields+")"))
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		resp, err := c.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var flr fileListResponse

		decErr := json.NewDecoder(resp.Body).Decode(&flr)
		resp.Body.Close()

		if decErr != nil {
			return nil, fmt.Errorf("drive: decoding file list response: %w", decErr)
		}

		for i := range flr.Files {
			files = append(files, flr.Files[i].toFile(c.logger))
		}

		if flr.NextPageToken == "" {
			break
		}

		pageToken = flr.NextPageToken
	}

	c.logger.Debug("listed children",
		slog.String("parent_id", parentID),
		slog.Int("total", len(files)),
	)

	return files, nil
}

// CreateFolder creates a new folder under the given parent.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*File, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	reqBody := createFileRequest{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentID},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("drive: marshaling create folder request: %w", err)
	}

	path := "/files?fields=" + url.QueryEscape(fileFields)

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResource
	if decErr := json.NewDecoder(resp.Body).Decode(&fr); decErr != nil {
		return nil, fmt.Errorf("drive: decoding create folder response: %w", decErr)
	}

	f := fr.toFile(c.logger)
	if f.MimeType == "" {
		f.MimeType = FolderMimeType
	}

	return &f, nil
}

// DeleteFile permanently deletes a file or folder by ID (HTTP 204).
// Folder deletion is recursive on the Drive side.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	c.logger.Info("deleting file", slog.String("file_id", fileID))

	path := "/files/" + url.PathEscape(fileID)

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204 No Content — drain to reuse the connection.
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("drive: draining delete response body: %w", copyErr)
	}

	return nil
}

// ContentURL returns the alt=media content URL for a file, used by the
// transfer engine for range-addressed downloads.
func (c *Client) ContentURL(fileID string) string {
	return c.baseURL + "/files/" + url.PathEscape(fileID) + "?alt=media"
}

// ResumableUploadPath is the metadata path that initiates a resumable upload
// session against the upload base URL.
const ResumableUploadPath = "/files?uploadType=resumable"
