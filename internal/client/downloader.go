package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/generatecover/api/internal/model"
)

const (
	downloadUserAgent = "Generate Cover Service"
	maxImageBytes     = 32 << 20
)

// ImageDownloader fetches generated image bytes
type ImageDownloader interface {
	Download(ctx context.Context, imageURL string) ([]byte, error)
}

// HTTPDownloader implements ImageDownloader over plain HTTP(S)
type HTTPDownloader struct {
	httpClient *http.Client
}

// NewHTTPDownloader creates a downloader with a 30 second timeout
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Download fetches imageURL. Invalid URLs, non-200 responses and empty
// bodies are all reported as download errors.
func (d *HTTPDownloader) Download(ctx context.Context, imageURL string) ([]byte, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, model.NewError(model.ErrKindDownload, "invalid image URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, model.NewError(model.ErrKindDownload, "failed to create download request", err)
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, model.NewError(model.ErrKindDownload, "failed to download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewError(model.ErrKindDownload,
			fmt.Sprintf("failed to download image: status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, model.NewError(model.ErrKindDownload, "failed to read image body", err)
	}
	if len(data) == 0 {
		return nil, model.NewError(model.ErrKindDownload, "downloaded image is empty", nil)
	}
	if len(data) > maxImageBytes {
		return nil, model.NewError(model.ErrKindDownload, "downloaded image exceeds size limit", nil)
	}
	return data, nil
}
