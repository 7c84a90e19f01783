// Package store keeps generated PNG artifacts as flat files named by opaque id.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"AniObjCut/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ext = ".png"

// ErrMissing is returned for ids that were never stored or were already delivered.
var ErrMissing = errors.New("artifact not found")

type FileStore struct {
	dir string
}

func New(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

// Ensure creates the output directory. Calling it again is a no-op.
func (s *FileStore) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", s.dir, err)
	}
	return nil
}

// Put writes data under a fresh id. name is only used for logging.
func (s *FileStore) Put(name string, data []byte) (string, error) {
	if err := s.Ensure(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	logger.Log().Debug("stored artifact", zap.String("id", id), zap.String("name", name), zap.Int("bytes", len(data)))
	return id, nil
}

// Take returns the artifact and removes it. Concurrent callers for the same id see it at most once.
func (s *FileStore) Take(id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrMissing
	}
	claimed := filepath.Join(s.dir, ".take-"+id+"-"+uuid.NewString())
	if err := os.Rename(s.path(id), claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("claim artifact %s: %w", id, err)
	}
	defer func() {
		if err := os.Remove(claimed); err != nil {
			logger.Log().Error("remove delivered artifact", zap.String("id", id), zap.Error(err))
		}
	}()
	data, err := os.ReadFile(claimed)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return data, nil
}

// Delete removes an artifact without reading it. Deleting a missing id is not an error.
func (s *FileStore) Delete(id string) error {
	if !validID(id) {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+ext)
}

// ids are generated here; anything that does not parse as one never touches the filesystem
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}
