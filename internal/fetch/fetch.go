// Package fetch downloads remote artifacts. Transient transport errors
// are retried inside a single download attempt; a download that still
// fails is reported to the caller and never retried at stage level.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

// Downloader fetches URLs to local files.
type Downloader struct {
	client *retryablehttp.Client
}

// New constructs a Downloader with a quiet retrying HTTP client.
func New() *Downloader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Downloader{client: client}
}

// Download fetches url into dest, creating parent directories as
// needed. The file is written under a temporary name and renamed into
// place so a failed download never leaves a plausible-looking artifact.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".partial-*")
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	return nil
}
