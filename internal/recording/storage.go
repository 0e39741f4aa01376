package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/spf13/afero"
)

// Backend is the storage collaborator for finalized artifacts. The core
// only needs write-and-locate; the location string round-trips for later
// retrieval and is otherwise opaque.
type Backend interface {
	Write(ctx context.Context, name string, data []byte) (location string, err error)
	Delete(ctx context.Context, location string) error
}

// FSBackend writes artifacts to an afero filesystem rooted at BaseDir.
// With afero.NewOsFs this is the local-disk backend; with NewMemMapFs it
// doubles as the in-memory backend for tests.
type FSBackend struct {
	FS      afero.Fs
	BaseDir string
}

func NewOSBackend(baseDir string) *FSBackend {
	return &FSBackend{FS: afero.NewOsFs(), BaseDir: baseDir}
}

func NewMemBackend() *FSBackend {
	return &FSBackend{FS: afero.NewMemMapFs(), BaseDir: "/recordings"}
}

func (b *FSBackend) Write(_ context.Context, name string, data []byte) (string, error) {
	if err := b.FS.MkdirAll(b.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", b.BaseDir, err)
	}
	loc := path.Join(b.BaseDir, name)
	if err := afero.WriteFile(b.FS, loc, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", loc, err)
	}
	return loc, nil
}

func (b *FSBackend) Delete(_ context.Context, location string) error {
	err := b.FS.Remove(location)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", location, err)
	}
	return nil
}
