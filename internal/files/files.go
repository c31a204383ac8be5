// Package files stages uploaded attachments with a storage collaborator
// before the report references them.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"haven/internal/report"
)

// Store streams one uploaded document to backing storage and returns the
// reference the report will carry. Callers filter zero-size parts before
// staging.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (report.FileRef, error)
}

// LocalStore writes attachments under a single directory with generated
// names, keeping the original filename only in the returned reference.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, name string, r io.Reader) (report.FileRef, error) {
	path := filepath.Join(s.dir, uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return report.FileRef{}, fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return report.FileRef{}, fmt.Errorf("stream attachment %q: %w", name, err)
	}
	return report.FileRef{Name: name, Path: path, Size: size}, nil
}
