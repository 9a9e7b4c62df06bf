// Package covers keeps downloaded cover images on local disk, one
// "<key>.jpg" file per book.
package covers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coverscan/internal/apperr"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func FileName(key string) string { return key + ".jpg" }

// KeyFromFileName reverses FileName and rejects anything that could escape
// the store directory.
func KeyFromFileName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("cover file %q: %w", name, apperr.ErrInvalidArgument)
	}
	return strings.TrimSuffix(name, filepath.Ext(name)), nil
}

func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, FileName(key))
}

// Save writes the cover atomically via a temp file and rename.
func (s *Store) Save(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".cover-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(key))
}

// Delete removes a cover. A missing file is not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key)) // #nosec G304 -- key is validated by KeyFromFileName or derived from an ISBN
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("cover %s: %w", key, apperr.ErrNotFound)
	}
	return data, err
}

// List returns the keys of every stored cover.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !IsCoverFile(e.Name()) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return keys, nil
}

// IsCoverFile reports whether name looks like a finished cover image. Hidden
// files include the temp files Save writes before renaming.
func IsCoverFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}
