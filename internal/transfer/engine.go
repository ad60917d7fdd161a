// Package transfer implements the resumable chunked transfer engine: it
// moves one object at a time between local disk and Drive in bounded-size
// chunks, survives interruption at any chunk boundary, and verifies a
// running content digest against what the remote reports.
package transfer

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content digest, not security
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/vheikkil/gdrive-go/internal/drive"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 10_000_000

// statusResumeIncomplete is the status Drive returns for an accepted
// intermediate chunk or a resume probe ("308 Resume Incomplete").
const statusResumeIncomplete = 308

// maxErrBodyBytes caps how much of an error response body is read for the
// error message.
const maxErrBodyBytes = 8 << 10

// ProgressFunc is invoked with cumulative bytes transferred after every
// accepted chunk. It must not block indefinitely.
type ProgressFunc func(transferred, total int64)

// Options configures a single transfer.
type Options struct {
	ChunkSize int64 // 0 = DefaultChunkSize
	Progress  ProgressFunc
}

func (o Options) chunkSize() int64 {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}

	return DefaultChunkSize
}

// UploadMeta names the remote entry an upload creates.
type UploadMeta struct {
	Name     string
	ParentID string
}

// Engine drives resumable transfers. One Engine serves many sequential
// transfers; each invocation owns its session state exclusively, so
// concurrent transfers of different objects need no locking beyond what
// the HTTP client and session store already provide.
type Engine struct {
	client *drive.Client
	store  *SessionStore // nil disables cross-restart upload resume
	logger *slog.Logger
}

// NewEngine creates a transfer engine. store may be nil when upload session
// persistence is not wanted.
func NewEngine(client *drive.Client, store *SessionStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{client: client, store: store, logger: logger}
}

// Receive downloads the remote file to localPath in byte-range chunks,
// resuming from however many bytes the local file already holds. A missing
// local file means "resume from zero". Every chunk must answer 206 Partial
// Content; anything else aborts with the transport error and leaves the
// partial bytes on disk, so re-invoking resumes where this attempt stopped.
// The engine runs the chunk sequence once through to success or first
// failure — retry policy belongs to the caller.
func (e *Engine) Receive(ctx context.Context, fileID, localPath string, opts Options) error {
	chunkSize := opts.chunkSize()

	var localSize int64

	fi, err := os.Stat(localPath)
	switch {
	case err == nil:
		localSize = fi.Size()
	case errors.Is(err, fs.ErrNotExist):
		// fresh download
	default:
		return fmt.Errorf("transfer: stat %s: %w", localPath, err)
	}

	remote, err := e.client.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	e.logger.Debug("receive",
		slog.String("file_id", fileID),
		slog.String("local_path", localPath),
		slog.Int64("local_size", localSize),
		slog.Int64("remote_size", remote.Size),
	)

	// Already complete: nothing to transfer, so the progress callback
	// stays silent — it reports accepted chunks only.
	if localSize >= remote.Size {
		e.logger.Debug("local file already complete", slog.String("local_path", localPath))
		return nil
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:mnd // standard file perms
	if err != nil {
		return fmt.Errorf("transfer: opening %s for append: %w", localPath, err)
	}
	defer f.Close()

	contentURL := e.client.ContentURL(fileID)

	for localSize < remote.Size {
		n, chunkErr := e.receiveChunk(ctx, contentURL, f, localSize, chunkSize)
		if chunkErr != nil {
			return chunkErr
		}

		localSize += n

		if opts.Progress != nil {
			opts.Progress(localSize, remote.Size)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("transfer: closing %s: %w", localPath, err)
	}

	return nil
}

// receiveChunk requests [offset, offset+chunkSize-1] and appends the
// response to w. Returns the number of bytes the remote actually returned —
// the final chunk is shorter than requested.
func (e *Engine) receiveChunk(ctx context.Context, contentURL string, w io.Writer, offset, chunkSize int64) (int64, error) {
	hdr := http.Header{}
	hdr.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+chunkSize-1))

	resp, err := e.client.DoRaw(ctx, http.MethodGet, contentURL, hdr, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes)) //nolint:errcheck // best-effort read for error message

		return 0, drive.NewAPIError(resp.StatusCode, string(body))
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		return 0, fmt.Errorf("transfer: appending chunk at offset %d: %w", offset, copyErr)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return 0, fmt.Errorf("transfer: short chunk at offset %d: got %d of %d bytes", offset, n, resp.ContentLength)
	}

	return n, nil
}

// Send uploads localPath as a new remote entry and returns the finalized
// file ID. Uploads are resumable: the session URI and confirmed offset are
// persisted after every accepted chunk, and a later invocation for the same
// unchanged local file re-probes the session and continues from the last
// byte the remote confirmed.
func (e *Engine) Send(ctx context.Context, localPath string, meta UploadMeta, opts Options) (string, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("transfer: stat %s: %w", localPath, err)
	}

	total := fi.Size()

	digest, err := fileMD5(localPath)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("transfer: opening %s: %w", localPath, err)
	}
	defer f.Close()

	e.logger.Debug("send",
		slog.String("local_path", localPath),
		slog.String("name", meta.Name),
		slog.Int64("size", total),
	)

	// Resume from a persisted session when the local file is unchanged.
	if rec := e.loadSession(ctx, localPath, digest, total); rec != nil {
		id, resumeErr := e.resumeSend(ctx, f, rec, total, opts)
		if resumeErr == nil {
			e.deleteSession(ctx, localPath)
			return id, nil
		}

		// Transient failures keep the record: the session URI and the
		// confirmed offset stay valid, so the next attempt re-probes and
		// continues instead of re-uploading confirmed bytes.
		if !errors.Is(resumeErr, ErrSessionExpired) {
			return "", resumeErr
		}

		// Only a dead session URI invalidates the record.
		e.deleteSession(ctx, localPath)

		e.logger.Info("upload session expired, starting fresh session",
			slog.String("local_path", localPath))
	}

	uri, err := e.initiateSession(ctx, meta, total)
	if err != nil {
		return "", err
	}

	sess := newChunkSession(uri, total)

	if e.store != nil {
		saveErr := e.store.Save(ctx, &SessionRecord{
			ID:         uuid.NewString(),
			LocalPath:  localPath,
			FileMD5:    digest,
			SessionURI: uri,
			TotalSize:  total,
		})
		if saveErr != nil {
			e.logger.Warn("failed to persist upload session — resume after restart will not work for this file",
				slog.String("local_path", localPath),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	id, err := e.sendChunks(ctx, f, sess, localPath, opts)
	if err != nil {
		// The session record persists so the next attempt can resume.
		return "", err
	}

	e.deleteSession(ctx, localPath)

	return id, nil
}

// loadSession returns the persisted session record for localPath when one
// exists and still matches the file's digest and size, nil otherwise.
// Records for changed files are dropped: their sessions describe bytes that
// no longer exist locally.
func (e *Engine) loadSession(ctx context.Context, localPath, digest string, total int64) *SessionRecord {
	if e.store == nil {
		return nil
	}

	rec, err := e.store.Load(ctx, localPath)
	if err != nil {
		e.logger.Warn("failed to load upload session",
			slog.String("local_path", localPath),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if rec == nil {
		return nil
	}

	if rec.FileMD5 != digest || rec.TotalSize != total {
		e.logger.Info("local file changed since session was created, discarding session",
			slog.String("local_path", localPath))
		e.deleteSession(ctx, localPath)

		return nil
	}

	return rec
}

// resumeSend re-probes a persisted session, re-seeds the running digest over
// the bytes the remote already holds, and continues chunking.
func (e *Engine) resumeSend(ctx context.Context, f io.ReaderAt, rec *SessionRecord, total int64, opts Options) (string, error) {
	sess := newChunkSession(rec.SessionURI, total)

	id, done, err := e.probe(ctx, sess)
	if err != nil {
		return "", err
	}

	if done {
		return id, nil
	}

	e.logger.Info("resuming upload session",
		slog.String("local_path", rec.LocalPath),
		slog.Int64("confirmed_offset", sess.ConfirmedOffset),
	)

	// The rolling checksum must cover every accepted byte, so replay the
	// confirmed prefix through the digest before sending new chunks.
	if sess.ConfirmedOffset > 0 {
		if _, seedErr := io.Copy(sess.runningDigest, io.NewSectionReader(f, 0, sess.ConfirmedOffset)); seedErr != nil {
			return "", fmt.Errorf("transfer: re-seeding digest for %s: %w", rec.LocalPath, seedErr)
		}
	}

	return e.sendChunks(ctx, f, sess, rec.LocalPath, opts)
}

// probe issues the zero-length Content-Range request that recovers how many
// bytes the remote has durably accepted. done is true when the remote
// reports the upload already finalized, in which case id is the file ID.
func (e *Engine) probe(ctx context.Context, sess *ChunkSession) (id string, done bool, err error) {
	hdr := http.Header{}
	hdr.Set("Content-Range", sess.probeContentRange())

	resp, err := e.client.DoRaw(ctx, http.MethodPut, sess.SessionURI, hdr, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case statusResumeIncomplete:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return "", false, fmt.Errorf("transfer: draining probe response: %w", drainErr)
		}

		end, ok, parseErr := parseAcceptedEnd(resp.Header)
		if parseErr != nil {
			return "", false, parseErr
		}

		if ok {
			sess.ConfirmedOffset = end + 1
		}

		return "", false, nil

	case http.StatusOK, http.StatusCreated:
		id, decErr := decodeFileID(resp.Body)

		return id, true, decErr

	case http.StatusNotFound, http.StatusGone:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return "", false, fmt.Errorf("transfer: draining probe response: %w", drainErr)
		}

		return "", false, ErrSessionExpired

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes)) //nolint:errcheck // best-effort read for error message

		return "", false, drive.NewAPIError(resp.StatusCode, string(body))
	}
}

// sendChunks drives the chunk loop from the session's confirmed offset to
// the end of the file. Chunks are buffered in memory so the running digest
// only ever covers bytes the remote has acknowledged.
func (e *Engine) sendChunks(ctx context.Context, f io.ReaderAt, sess *ChunkSession, localPath string, opts Options) (string, error) {
	// Zero-byte files have no chunks; the probe request finalizes them.
	if sess.TotalSize == 0 {
		id, done, err := e.probe(ctx, sess)
		if err != nil {
			return "", err
		}

		if !done {
			return "", fmt.Errorf("transfer: remote did not finalize empty upload")
		}

		if opts.Progress != nil {
			opts.Progress(0, 0)
		}

		return id, nil
	}

	chunkSize := opts.chunkSize()
	buf := make([]byte, chunkSize)

	for sess.ConfirmedOffset < sess.TotalSize {
		n := min(chunkSize, sess.TotalSize-sess.ConfirmedOffset)

		if readErr := readChunkAt(f, buf[:n], sess.ConfirmedOffset); readErr != nil {
			return "", fmt.Errorf("transfer: reading %s at offset %d: %w", localPath, sess.ConfirmedOffset, readErr)
		}

		id, done, err := e.sendChunk(ctx, sess, buf[:n])
		if err != nil {
			return "", err
		}

		if e.store != nil && !done {
			if updErr := e.store.UpdateOffset(ctx, localPath, sess.ConfirmedOffset); updErr != nil {
				e.logger.Warn("failed to persist confirmed offset",
					slog.String("local_path", localPath),
					slog.String("error", updErr.Error()),
				)
			}
		}

		if opts.Progress != nil {
			opts.Progress(sess.ConfirmedOffset, sess.TotalSize)
		}

		if done {
			return id, nil
		}
	}

	return "", fmt.Errorf("transfer: all bytes sent but remote never finalized the upload")
}

// sendChunk performs one chunk round-trip. On a 308 the echoed digest is
// checked against the running digest before the confirmed offset advances —
// a mismatch means the remote holds different bytes than we sent, and
// continuing would silently corrupt the object.
func (e *Engine) sendChunk(ctx context.Context, sess *ChunkSession, chunk []byte) (id string, done bool, err error) {
	hdr := http.Header{}
	hdr.Set("Content-Range", sess.contentRange(int64(len(chunk))))
	hdr.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.DoRaw(ctx, http.MethodPut, sess.SessionURI, hdr, bytes.NewReader(chunk))
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case statusResumeIncomplete:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return "", false, fmt.Errorf("transfer: draining chunk response: %w", drainErr)
		}

		sess.runningDigest.Write(chunk)

		if echoed := parseEchoedMD5(resp.Header); echoed != "" {
			if local := sess.digestSum(); echoed != local {
				e.logger.Error("chunk digest mismatch",
					slog.Int64("offset", sess.ConfirmedOffset),
					slog.String("remote_md5", echoed),
					slog.String("local_md5", local),
				)

				return "", false, fmt.Errorf("%w: offset %d", ErrChecksumMismatch, sess.ConfirmedOffset)
			}
		}

		sess.ConfirmedOffset += int64(len(chunk))

		return "", false, nil

	case http.StatusOK, http.StatusCreated:
		sess.runningDigest.Write(chunk)
		sess.ConfirmedOffset += int64(len(chunk))

		id, decErr := decodeFileID(resp.Body)

		return id, true, decErr

	case http.StatusNotFound, http.StatusGone:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return "", false, fmt.Errorf("transfer: draining chunk response: %w", drainErr)
		}

		return "", false, ErrSessionExpired

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes)) //nolint:errcheck // best-effort read for error message

		return "", false, drive.NewAPIError(resp.StatusCode, string(body))
	}
}

// initiateSession creates a resumable upload session and returns its URI.
// The URI is the sole handle for every subsequent chunk and stays valid
// across process restarts.
func (e *Engine) initiateSession(ctx context.Context, meta UploadMeta, total int64) (string, error) {
	reqBody := struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents,omitempty"`
	}{Name: meta.Name}

	if meta.ParentID != "" {
		reqBody.Parents = []string{meta.ParentID}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("transfer: marshaling session metadata: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("X-Upload-Content-Length", strconv.FormatInt(total, 10))

	resp, err := e.client.DoUpload(ctx, http.MethodPost, drive.ResumableUploadPath, hdr, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return "", fmt.Errorf("transfer: draining session response: %w", drainErr)
	}

	uri := resp.Header.Get("Location")
	if uri == "" {
		return "", fmt.Errorf("transfer: session initiation response missing Location header")
	}

	e.logger.Debug("upload session established", slog.String("name", meta.Name))

	return uri, nil
}

// readChunkAt fills buf from r at the given offset. ReadAt either fills the
// buffer or returns an error; io.EOF with a full buffer is the normal final
// chunk case.
func readChunkAt(r io.ReaderAt, buf []byte, offset int64) error {
	n, err := r.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return err
	}

	if n != len(buf) {
		return fmt.Errorf("short read: got %d of %d bytes", n, len(buf))
	}

	return nil
}

// decodeFileID extracts the finalized file ID from a completion response.
func decodeFileID(r io.Reader) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}

	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return "", fmt.Errorf("transfer: decoding completion response: %w", err)
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("transfer: completion response missing file id")
	}

	return parsed.ID, nil
}

// deleteSession removes a persisted session record, logging on failure.
// Deletion failures are non-fatal: worst case a stale record is discarded
// on the next digest check.
func (e *Engine) deleteSession(ctx context.Context, localPath string) {
	if e.store == nil {
		return
	}

	if err := e.store.Delete(ctx, localPath); err != nil {
		e.logger.Warn("failed to delete session record",
			slog.String("local_path", localPath),
			slog.String("error", err.Error()),
		)
	}
}

// fileMD5 computes the base64-encoded MD5 of a file on disk.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // content digest, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("transfer: hashing %s: %w", path, err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
