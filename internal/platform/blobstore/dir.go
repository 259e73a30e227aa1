package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DirBlobStore keeps each blob as <id>.bin next to an <id>.json metadata
// file under a single directory.
type DirBlobStore struct {
	root    string
	maxSize int64
}

// NewDirBlobStore creates root if needed.
func NewDirBlobStore(root string, maxSize int64) (*DirBlobStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DirBlobStore{root: root, maxSize: maxSize}, nil
}

func (s *DirBlobStore) paths(id string) (string, string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrBlobNotFound
	}
	base := filepath.Join(s.root, id)
	return base + ".bin", base + ".json", nil
}

func (s *DirBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readLimited(&meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	bin, js, _ := s.paths(meta.ID)

	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(bin, data, 0o600); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := os.WriteFile(js, encoded, 0o600); err != nil {
		os.Remove(bin)
		return nil, fmt.Errorf("write blob metadata: %w", err)
	}
	return &meta, nil
}

func (s *DirBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	bin, _, _ := s.paths(id)
	f, err := os.Open(bin)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, meta, nil
}

func (s *DirBlobStore) Delete(_ context.Context, id string) error {
	bin, js, err := s.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(js); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob metadata: %w", err)
	}
	if err := os.Remove(bin); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *DirBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	_, js, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(js)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode blob metadata: %w", err)
	}
	return &meta, nil
}
