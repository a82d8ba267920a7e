package blobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// ParseLocation resolves a model package location to the store holding it:
// gs://<bucket>/<key>, http(s)://<host>/<path>/<key>, or a local file path.
func ParseLocation(location string) (BlobReader, BlobInfo, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, BlobInfo{}, fmt.Errorf("parsing %q: %w", location, err)
		}
		dir, key := path.Split(u.Path)
		if key == "" {
			return nil, BlobInfo{}, fmt.Errorf("location %q does not name an object", location)
		}
		base := *u
		base.Path = dir
		base.RawPath = ""
		return &HTTPStore{BaseURL: &base}, BlobInfo{Key: key}, nil

	default:
		store, info, err := ParseStore(location)
		if err != nil {
			return nil, BlobInfo{}, err
		}
		return store, info, nil
	}
}

// ParseStore is like ParseLocation but only accepts writable stores: GCS and the
// local filesystem.
func ParseStore(location string) (Blobstore, BlobInfo, error) {
	if strings.HasPrefix(location, "gs://") {
		bucket, key, _ := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if bucket == "" || key == "" {
			return nil, BlobInfo{}, fmt.Errorf("location %q must have the form gs://<bucket>/<key>", location)
		}
		return &GCSBlobstore{Bucket: bucket}, BlobInfo{Key: key}, nil
	}
	if strings.Contains(location, "://") {
		return nil, BlobInfo{}, fmt.Errorf("unsupported location %q (expected gs:// or a local path)", location)
	}
	dir, key := filepath.Split(location)
	if key == "" {
		return nil, BlobInfo{}, fmt.Errorf("location %q does not name a file", location)
	}
	if dir == "" {
		dir = "."
	}
	return &LocalStore{BaseDir: dir}, BlobInfo{Key: key}, nil
}

// Loader fetches model packages, retrying transient failures.
type Loader struct {
	// CacheDir receives downloaded packages; defaults to os.TempDir().
	CacheDir string

	// MaxAttempts is the number of times to attempt a download before failing.
	MaxAttempts int

	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration
}

// Fetch returns the bytes of the package at location. Local files are read in
// place; remote packages are downloaded into CacheDir first.
func (l *Loader) Fetch(ctx context.Context, location string) ([]byte, error) {
	reader, info, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	if local, ok := reader.(*LocalStore); ok {
		p, err := local.path(info)
		if err != nil {
			return nil, err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading model package %q: %w", p, err)
		}
		return b, nil
	}

	cacheDir := l.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}
	localPath := filepath.Join(cacheDir, path.Base(info.Key))

	if err := l.DownloadToFile(ctx, reader, info, localPath); err != nil {
		return nil, fmt.Errorf("downloading model package %q: %w", location, err)
	}
	klog.FromContext(ctx).Info("model package downloaded", "location", location, "path", localPath)

	b, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading model package %q: %w", localPath, err)
	}
	return b, nil
}

// DownloadToFile downloads info, retrying until MaxAttempts is reached. Missing
// objects are not retried.
func (l *Loader) DownloadToFile(ctx context.Context, reader BlobReader, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	maxAttempts := max(l.MaxAttempts, 1)

	attempt := 0
	for {
		attempt++

		err := reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= maxAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.RetryInterval):
		}
	}
}
