package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// artworkProber checks whether CDN artwork exists. CDN edges return
// transient 5xx often enough that HEADs are retried.
type artworkProber struct {
	client *retryablehttp.Client
}

func newArtworkProber(transport http.RoundTripper) *artworkProber {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: 10 * time.Second}
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default()
	return &artworkProber{client: rc}
}

// exists reports whether url answers a HEAD with 200. A definite 404/403
// is (false, nil); anything else after retries is an error.
func (p *artworkProber) exists(ctx context.Context, url string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("HEAD %s: status %d", url, resp.StatusCode)
	}
}
