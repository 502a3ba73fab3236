package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"tgmirror/internal/domain"
)

const maxDownloadRetries = 3

// sharedHTTPClient returns the pooled client used for file downloads.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// DownloadMedia streams an attachment into w and returns the byte count.
func (b *Bot) DownloadMedia(ctx context.Context, ref domain.MediaRef, w io.Writer) (int64, error) {
	if ref.FileID == "" {
		return 0, fmt.Errorf("media has no file id")
	}
	fileURL, err := b.api.GetFileDirectURL(ref.FileID)
	if err != nil {
		return 0, fmt.Errorf("get file %s: %w", ref.FileID, err)
	}

	resp, err := b.getWithRetry(ctx, fileURL)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: HTTP %d", ref.FileID, resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	return n, nil
}

// getWithRetry retries network failures, 5xx and 429 with exponential
// backoff plus jitter. The URL embeds the bot token and is never logged.
func (b *Bot) getWithRetry(ctx context.Context, fileURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxDownloadRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			b.logger.Warn("retrying file download", "attempt", attempt+1, "backoff", backoff)
			if err := b.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := b.http.Do(req)
		if err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				err = urlErr.Err
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("failed after %d retries: %w", maxDownloadRetries, lastErr)
}
