package transfer

import (
	"crypto/md5" //nolint:gosec // Drive echoes MD5 content digests; not used for security
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
)

// ErrChecksumMismatch is returned when the digest the remote reports for the
// bytes it has accepted disagrees with the locally computed running digest.
// Fatal for the current attempt; the session and confirmed offset stay valid
// for a fresh attempt that re-probes.
var ErrChecksumMismatch = errors.New("transfer: remote checksum does not match bytes sent")

// ErrSessionExpired is returned when a persisted session URI is no longer
// accepted by the remote. Callers start a fresh session.
var ErrSessionExpired = errors.New("transfer: upload session expired")

// ChunkSession is the bookkeeping for one resumable upload. It is owned by
// the Engine invocation driving it and discarded on completion; only the
// session URI and confirmed offset survive in the SessionStore.
type ChunkSession struct {
	SessionURI      string
	TotalSize       int64
	ConfirmedOffset int64
	runningDigest   hash.Hash
}

// newChunkSession creates the bookkeeping for one upload attempt.
func newChunkSession(uri string, totalSize int64) *ChunkSession {
	return &ChunkSession{
		SessionURI:    uri,
		TotalSize:     totalSize,
		runningDigest: md5.New(), //nolint:gosec // content digest, not security
	}
}

// digestSum returns the base64 MD5 of all bytes written to the running digest.
func (s *ChunkSession) digestSum() string {
	return base64.StdEncoding.EncodeToString(s.runningDigest.Sum(nil))
}

// contentRange formats the Content-Range header for a chunk at the session's
// confirmed offset.
func (s *ChunkSession) contentRange(length int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.ConfirmedOffset, s.ConfirmedOffset+length-1, s.TotalSize)
}

// probeContentRange is the zero-length Content-Range used to query how many
// bytes the remote has durably accepted.
func (s *ChunkSession) probeContentRange() string {
	return fmt.Sprintf("bytes */%d", s.TotalSize)
}

// parseAcceptedEnd extracts the last accepted byte offset from a 308
// response's Range header ("bytes=0-N"). Returns (0, false) when the header
// is absent, meaning no bytes have been accepted yet.
func parseAcceptedEnd(h http.Header) (int64, bool, error) {
	r := h.Get("Range")
	if r == "" {
		return 0, false, nil
	}

	rest, ok := strings.CutPrefix(r, "bytes=")
	if !ok {
		return 0, false, fmt.Errorf("transfer: malformed Range header %q", r)
	}

	_, endStr, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false, fmt.Errorf("transfer: malformed Range header %q", r)
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("transfer: malformed Range header %q: %w", r, err)
	}

	return end, true, nil
}

// parseEchoedMD5 extracts the base64 MD5 digest from an X-Goog-Hash header
// ("crc32c=...,md5=..."). Returns "" when the remote did not echo one.
func parseEchoedMD5(h http.Header) string {
	for _, v := range h.Values("X-Goog-Hash") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if md5val, ok := strings.CutPrefix(part, "md5="); ok {
				return md5val
			}
		}
	}

	return ""
}
