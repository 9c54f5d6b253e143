package blob

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// Object describes a stored upload.
type Object struct {
	Key      string
	Checksum string
	Size     int64
}

// FileStore keeps uploads as flat files under one directory. Keys are
// generated by Put and never contain path separators.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put copies r into a new file and returns its key with the sha256 of the content.
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "upload"
	}
	key := fmt.Sprintf("%s_%s", uuid.New().String(), base)
	path := filepath.Join(s.dir, key)

	dst, err := os.Create(path) // #nosec G304 -- key is uuid + basename
	if err != nil {
		return Object{}, fmt.Errorf("create blob: %w", err)
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return Object{}, fmt.Errorf("write blob: %w", err)
	}

	return Object{Key: key, Checksum: fmt.Sprintf("%x", hash.Sum(nil)), Size: n}, nil
}

func (s *FileStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}
