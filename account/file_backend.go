package account

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores one JSON file per owner in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrBackendUnavailable)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Owner ids are opaque; encode them so any id maps to a safe file name.
func (b *FileBackend) path(ownerID string) string {
	return filepath.Join(b.dir, base64.RawURLEncoding.EncodeToString([]byte(ownerID))+".json")
}

// Load reads and decodes the owner file.
func (b *FileBackend) Load(_ context.Context, ownerID string) (*Owner, error) {
	data, err := os.ReadFile(b.path(ownerID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	o, err := Decode(data)
	if err != nil {
		return nil, err
	}
	o.ID = ownerID
	return o, nil
}

// Save writes the owner file through a temp file and rename.
func (b *FileBackend) Save(_ context.Context, owner *Owner) error {
	data, err := Encode(owner)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, ".owner-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmpName, b.path(owner.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Delete removes the owner file.
func (b *FileBackend) Delete(_ context.Context, ownerID string) error {
	if err := os.Remove(b.path(ownerID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
