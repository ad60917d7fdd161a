package transfer

import (
	"crypto/md5" //nolint:gosec // content digest, not security
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentRange(t *testing.T) {
	s := newChunkSession("http://sess", 100)

	assert.Equal(t, "bytes 0-49/100", s.contentRange(50))

	s.ConfirmedOffset = 50
	assert.Equal(t, "bytes 50-99/100", s.contentRange(50))
}

func TestProbeContentRange(t *testing.T) {
	s := newChunkSession("http://sess", 12345)

	assert.Equal(t, "bytes */12345", s.probeContentRange())
}

func TestParseAcceptedEnd(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantEnd int64
		wantOK  bool
		wantErr bool
	}{
		{name: "absent", header: "", wantOK: false},
		{name: "zero accepted", header: "bytes=0-0", wantEnd: 0, wantOK: true},
		{name: "partial", header: "bytes=0-4999999", wantEnd: 4999999, wantOK: true},
		{name: "missing prefix", header: "0-499", wantErr: true},
		{name: "missing dash", header: "bytes=499", wantErr: true},
		{name: "non numeric", header: "bytes=0-abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Range", tc.header)
			}

			end, ok, err := parseAcceptedEnd(h)

			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantEnd, end)
		})
	}
}

func TestParseEchoedMD5(t *testing.T) {
	h := http.Header{}
	h.Set("X-Goog-Hash", "crc32c=AAAAAA==, md5=1B2M2Y8AsgTpgAmY7PhCfg==")

	assert.Equal(t, "1B2M2Y8AsgTpgAmY7PhCfg==", parseEchoedMD5(h))
}

func TestParseEchoedMD5_Absent(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, parseEchoedMD5(h))

	h.Set("X-Goog-Hash", "crc32c=AAAAAA==")
	assert.Empty(t, parseEchoedMD5(h))
}

func TestDigestSum_MatchesWholeInput(t *testing.T) {
	s := newChunkSession("http://sess", 10)

	// Feeding the digest chunk by chunk must equal hashing all bytes at once.
	s.runningDigest.Write([]byte("hello"))
	s.runningDigest.Write([]byte("world"))

	whole := md5.Sum([]byte("helloworld")) //nolint:gosec // content digest, not security
	want := base64.StdEncoding.EncodeToString(whole[:])

	assert.Equal(t, want, s.digestSum())
}
