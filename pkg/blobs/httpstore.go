package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPStore reads model packages from a plain HTTP server, e.g. a blob cache.
type HTTPStore struct {
	// BaseURL is joined with the blob key to form the download URL.
	BaseURL *url.URL

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ BlobReader = &HTTPStore{}

func (l *HTTPStore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	u := l.BaseURL.JoinPath(info.Key).String()

	r, err := l.open(ctx, u)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}
	defer r.Close()

	if _, err := writeToFile(ctx, r, destPath); err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}
	return nil
}

func (l *HTTPStore) open(ctx context.Context, url string) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpClient := l.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("blob not found: %w", os.ErrNotExist)
		}
		return nil, fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}

	return &loggingBody{ReadCloser: resp.Body, ctx: ctx, url: url, startedAt: time.Now()}, nil
}

// loggingBody logs the transfer size and duration once the body is closed.
type loggingBody struct {
	io.ReadCloser
	ctx       context.Context
	url       string
	startedAt time.Time
	n         int64
}

func (b *loggingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *loggingBody) Close() error {
	klog.FromContext(b.ctx).Info("downloaded blob", "url", b.url, "bytes", b.n, "duration", time.Since(b.startedAt))
	return b.ReadCloser.Close()
}
