package blobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// LocalStore keeps model packages as files in a directory.
type LocalStore struct {
	BaseDir string
}

var _ Blobstore = &LocalStore{}

func (s *LocalStore) path(info BlobInfo) (string, error) {
	key := filepath.FromSlash(info.Key)
	if key == "" || !filepath.IsLocal(key) {
		return "", fmt.Errorf("invalid blob key %q", info.Key)
	}
	return filepath.Join(s.BaseDir, key), nil
}

// Open returns the stored file for info, or an error satisfying os.ErrNotExist.
func (s *LocalStore) Open(ctx context.Context, info BlobInfo) (*os.File, error) {
	p, err := s.path(info)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening blob %q: %w", info.Key, err)
	}
	return f, nil
}

func (s *LocalStore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	f, err := s.Open(ctx, info)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := writeToFile(ctx, f, destPath); err != nil {
		return fmt.Errorf("copying blob %q: %w", info.Key, err)
	}
	return nil
}

func (s *LocalStore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	p, err := s.path(info)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		log.Info("blob already exists", "path", p)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", p, err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, p)
	if err != nil {
		return fmt.Errorf("storing blob %q: %w", info.Key, err)
	}
	log.Info("stored blob", "path", p, "bytes", n)
	return nil
}
