package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/melbahja/got"
)

// FetchObject downloads a stored object (e.g. a completed record's public URL)
// to a local file. Useful for verifying an upload round-trip.
func FetchObject(ctx context.Context, client *http.Client, url string, destPath string) error {
	if url == "" {
		return fmt.Errorf("object URL is empty")
	}

	downloader := got.New()
	if client != nil {
		downloader.Client = client
	}

	if err := downloader.Do(got.NewDownload(ctx, url, destPath)); err != nil {
		return fmt.Errorf("download object: %w", err)
	}
	return nil
}
