// Package outputs mints identities and locations for files the worker
// produces.
package outputs

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yourorg/bulkextractor-worker/internal/model"
)

// NewID returns a fresh 32 character hex identifier.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Extension returns the extension of a file name including the dot. A
// leading dot marks a hidden file, not an extension, so ".bashrc" has none.
func Extension(name string) string {
	base := filepath.Base(name)
	trimmed := strings.TrimLeft(base, ".")
	if trimmed == "" {
		return ""
	}
	return filepath.Ext(trimmed)
}

// NewFile mints an output file named displayName inside dir. The file is
// not created; Path is where it must be written.
func NewFile(dir, displayName, dataType string) model.OutputFile {
	id := NewID()
	ext := Extension(displayName)
	return model.OutputFile{
		ID:          id,
		DisplayName: displayName,
		Extension:   ext,
		Path:        filepath.Join(dir, id+ext),
		DataType:    dataType,
	}
}
