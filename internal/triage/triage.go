// Package triage separates the files an extractor run produced into the
// ones worth keeping and the empty placeholders it leaves for scanners that
// found nothing.
package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/bulkextractor-worker/internal/model"
	"github.com/yourorg/bulkextractor-worker/internal/outputs"
)

// DataType tags every file relocated by Extract.
const DataType = "bulkextractor:artifact"

type Walker struct {
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Walker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Walker{log: log}
}

// Extract copies every non-empty regular file under src into dst as
// <id><ext> and returns one record per copy, in lexical walk order. Empty
// files are skipped. src is never modified. Each copy lands under a
// temporary name and is renamed into place. Copies finished before a
// failure are left in dst and their records are returned with the error.
func Extract(src, dst string) ([]model.OutputFile, error) {
	return New(nil).Extract(src, dst)
}

func (e *Walker) Extract(src, dst string) ([]model.OutputFile, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", src)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	out := []model.OutputFile{}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			e.log.WithField("file", path).Debug("skipping empty artifact")
			return nil
		}

		rec := outputs.NewFile(dst, d.Name(), DataType)
		size, sum, err := copyFile(path, rec.Path)
		if err != nil {
			return fmt.Errorf("copy %s: %w", path, err)
		}
		rec.Size = size
		rec.SHA256 = sum
		if rel, err := filepath.Rel(src, path); err == nil {
			rec.Source = filepath.ToSlash(rel)
		}
		e.log.WithFields(logrus.Fields{
			"file": path,
			"id":   rec.ID,
			"size": humanize.Bytes(uint64(size)),
		}).Debug("kept artifact")
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

// copyFile writes src to dst through a temporary sibling and returns the
// number of bytes copied and their SHA-256.
func copyFile(src, dst string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return 0, "", err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		tmp.Close()
		return 0, "", err
	}
	if err := tmp.Close(); err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
