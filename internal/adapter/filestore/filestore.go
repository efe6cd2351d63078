package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"

	"github.com/spf13/afero"
)

// BlobStore keeps one blob per file. Saves go through a temporary file and a
// rename, so a crash leaves either the old or the new content.
type BlobStore struct {
	fs   afero.Fs
	path string
}

func NewBlobStore(fsys afero.Fs, dir, name string) *BlobStore {
	return &BlobStore{
		fs:   fsys,
		path: filepath.Join(dir, name+".json"),
	}
}

// NewCOPBlobStore is the on-disk location of the state of a COP accumulator.
func NewCOPBlobStore(fsys afero.Fs, dir, name string) *BlobStore {
	return NewBlobStore(fsys, dir, fmt.Sprintf("cop_%s", name))
}

func (s *BlobStore) Path() string {
	return s.path
}

func (s *BlobStore) Load() ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, s.path, err)
	}
	return data, nil
}

func (s *BlobStore) Save(blob []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrPersistence, dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %w", domain.ErrPersistence, dir, err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(blob)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Rename(tmpName, s.path)
	}
	if err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", domain.ErrPersistence, s.path, err)
	}
	return nil
}

// ensure interface compliance
var _ port.BlobStore = (*BlobStore)(nil)
