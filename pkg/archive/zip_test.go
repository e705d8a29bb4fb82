package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/docstage/docstage/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(b)
	}
	return out
}

func TestZipArchiver_Package(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	a := &ZipArchiver{Now: func() time.Time { return stamp }, Comment: "docstage"}

	data, err := a.Package([]engine.ArchiveEntry{
		{Name: "linearized-a.pdf", Data: []byte("%PDF a")},
		{Name: "linearized-c.pdf", Data: []byte("%PDF c")},
		{Name: "empty.pdf", Data: nil},
	})
	require.NoError(t, err)

	files := readZip(t, data)
	assert.Equal(t, map[string]string{
		"linearized-a.pdf": "%PDF a",
		"linearized-c.pdf": "%PDF c",
		"empty.pdf":        "",
	}, files)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "docstage", zr.Comment)
	require.Len(t, zr.File, 3)
	assert.Equal(t, "linearized-a.pdf", zr.File[0].Name, "entries keep their order")
	assert.Equal(t, zip.Deflate, zr.File[0].Method)
	assert.True(t, zr.File[0].Modified.Equal(stamp), "modified = %v", zr.File[0].Modified)
}

func TestZipArchiver_Errors(t *testing.T) {
	a := NewZipArchiver()

	tests := []struct {
		name    string
		entries []engine.ArchiveEntry
	}{
		{"no entries", nil},
		{"empty name", []engine.ArchiveEntry{{Name: ""}}},
		{"absolute", []engine.ArchiveEntry{{Name: "/etc/passwd"}}},
		{"parent", []engine.ArchiveEntry{{Name: "../a.pdf"}}},
		{"backslash", []engine.ArchiveEntry{{Name: `..\a.pdf`}}},
		{"duplicate", []engine.ArchiveEntry{{Name: "a.pdf"}, {Name: "./a.pdf"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Package(tt.entries)
			assert.Error(t, err)
		})
	}
}

func TestZipArchiver_Satisfies(t *testing.T) {
	var _ engine.Archiver = NewZipArchiver()
}
