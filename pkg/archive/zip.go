// Package archive packages batch outputs into a single zip file.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/docstage/docstage/pkg/engine"
)

// ZipArchiver implements engine.Archiver with deflate-compressed zip
// entries. Entries are written in the order given.
type ZipArchiver struct {
	// Now stamps entry modification times. Defaults to time.Now.
	Now func() time.Time

	// Comment is stored as the archive comment when set.
	Comment string
}

// NewZipArchiver returns a ZipArchiver stamping entries with the current time.
func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{Now: time.Now}
}

// Package writes entries into a zip archive. Names must be unique,
// relative and free of ".." elements.
func (a *ZipArchiver) Package(entries []engine.ArchiveEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries to archive")
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	modified := now()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name, err := entryName(entry.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate archive entry %q", name)
		}
		seen[name] = struct{}{}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %s: %w", name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("failed to write entry %s: %w", name, err)
		}
	}

	if a.Comment != "" {
		if err := zw.SetComment(a.Comment); err != nil {
			return nil, fmt.Errorf("failed to set comment: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}

func entryName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("archive entry name is empty")
	}
	if strings.Contains(name, `\`) || path.IsAbs(name) {
		return "", fmt.Errorf("invalid archive entry name %q", name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid archive entry name %q", name)
	}
	return clean, nil
}
