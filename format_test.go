package main

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{10 * 1024 * 1024, "10.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatSize(tc.bytes), "bytes=%d", tc.bytes)
	}
}

func TestPrintTable_AlignsColumns(t *testing.T) {
	var sb strings.Builder

	printTable(&sb,
		[]string{"NAME", "SIZE"},
		[][]string{
			{"short", "1.0 KB"},
			{"a-much-longer-name", "512 B"},
		},
	)

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	// Every row starts its SIZE column at the same offset.
	assert.Equal(t, strings.Index(lines[1], "1.0 KB"), strings.Index(lines[2], "512 B"))
}

func TestCleanRemotePath(t *testing.T) {
	assert.Equal(t, "", cleanRemotePath("/"))
	assert.Equal(t, "", cleanRemotePath(""))
	assert.Equal(t, "a/b", cleanRemotePath("/a/b/"))
}

func TestRm_RefusesRoot(t *testing.T) {
	// The guard fires before any session or network setup.
	for _, path := range []string{"/", "", "//"} {
		cmd := newRmCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{path})

		err := cmd.Execute()
		require.Error(t, err, "path=%q", path)
		assert.Contains(t, err.Error(), "root", "path=%q", path)
	}
}

func TestSplitParentAndName(t *testing.T) {
	tests := []struct {
		in, parent, name string
	}{
		{"foo/bar/baz", "foo/bar", "baz"},
		{"/foo/bar/", "foo", "bar"},
		{"baz", "", "baz"},
		{"/", "", ""},
	}

	for _, tc := range tests {
		parent, name := splitParentAndName(tc.in)
		assert.Equal(t, tc.parent, parent, "in=%q", tc.in)
		assert.Equal(t, tc.name, name, "in=%q", tc.in)
	}
}
