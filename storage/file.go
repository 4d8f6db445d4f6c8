package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/strayfield/tilecache/tilemath"
)

// FileStorage keeps payloads under {root}/{zoom}/{x}/{y}.{ext}.
type FileStorage struct {
	root string
	ext  string
}

// NewFileStorage creates the root directory if needed. ext is the tile file
// extension without the dot, "png" for the usual raster sources.
func NewFileStorage(root, ext string) (*FileStorage, error) {
	if ext == "" {
		ext = "png"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create tile root: %w", err)
	}
	return &FileStorage{root: root, ext: ext}, nil
}

// Root returns the cache root directory.
func (s *FileStorage) Root() string { return s.root }

func (s *FileStorage) path(key tilemath.Key) string {
	return filepath.Join(s.root,
		strconv.Itoa(key.Zoom),
		strconv.Itoa(key.X),
		strconv.Itoa(key.Y)+"."+s.ext,
	)
}

func (s *FileStorage) Read(key tilemath.Key) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Write is atomic: the payload lands under its final name only once fully
// written, so a crash never leaves a truncated tile behind.
func (s *FileStorage) Write(key tilemath.Key, data []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStorage) Delete(key tilemath.Key) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStorage) Exists(key tilemath.Key) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}
