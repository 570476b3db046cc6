// Package probe answers "how big is this remote resource, and is it real?"
// without downloading it: HEAD first, then a 64-byte ranged GET when servers
// reject or lie on HEAD.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"mediafetch/internal/httpx"
	"mediafetch/internal/sniff"
	"mediafetch/models"
)

// DefaultTimeout bounds a single probe, HEAD and GET fallback included.
const DefaultTimeout = 10 * time.Second

// ErrAccessDenied marks an HTTP 403. The policy layer surfaces it as
// "access denied" instead of a generic not-found, so it must stay
// distinguishable from other failures.
var ErrAccessDenied = errors.New("access denied by remote server")

// ErrRejected marks a response that answered but is not a media payload
// (JSON error envelope, HTML error page, wrong content family).
var ErrRejected = errors.New("response rejected by content validation")

// Client probes remote media resources.
type Client struct {
	timeout time.Duration
}

// NewClient returns a probe client with the default 10s timeout.
func NewClient() *Client {
	return &Client{timeout: DefaultTimeout}
}

// NewClientWithTimeout is used by tests to shrink the probe window.
func NewClientWithTimeout(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// ProbeSize determines the resource's size in MB. A nil error with an absent
// SizeMB means the resource is plausibly valid but its size is unknown;
// callers must treat that as non-fatal.
func (c *Client) ProbeSize(ctx context.Context, rawURL string, hc httpx.HeaderContext, proxyURL string, isVideo bool) (models.ProbeResult, error) {
	client, err := httpx.NewClient(httpx.Options{Timeout: c.timeout, ProxyURL: proxyURL})
	if err != nil {
		return models.ProbeResult{}, err
	}

	if res, final, err := c.head(ctx, client, rawURL, hc, isVideo); final {
		return res, err
	}
	return c.rangedGet(ctx, client, rawURL, hc, isVideo)
}

// head issues the HEAD probe. final=false means the caller should fall back
// to a ranged GET.
func (c *Client) head(ctx context.Context, client *http.Client, rawURL string, hc httpx.HeaderContext, isVideo bool) (models.ProbeResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return models.ProbeResult{}, true, fmt.Errorf("build probe request: %w", err)
	}
	httpx.ApplyHeaders(req, hc)

	resp, err := client.Do(req)
	if err != nil {
		// HEAD-unsupported transports and timeouts fall through to GET.
		return models.ProbeResult{}, false, nil
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status == http.StatusForbidden {
		// Load-bearing for the policy engine's access-denied signaling.
		return models.ProbeResult{Status: &status}, true, ErrAccessDenied
	}
	if status < 200 || status >= 300 {
		return models.ProbeResult{}, false, nil
	}

	res := sniff.Validate(resp.Header, nil, isVideo)
	if !res.Valid {
		return models.ProbeResult{}, false, nil
	}
	mb, ok := sniff.SizeFromHeaders(resp.Header)
	if !ok {
		// Valid but sizeless; the ranged GET may surface a Content-Range total.
		return models.ProbeResult{}, false, nil
	}
	return models.ProbeResult{SizeMB: &mb, Status: &status}, true, nil
}

// rangedGet fetches the first 64 bytes and re-runs validation with the body
// preview available.
func (c *Client) rangedGet(ctx context.Context, client *http.Client, rawURL string, hc httpx.HeaderContext, isVideo bool) (models.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	httpx.ApplyHeaders(req, hc)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniff.PreviewSize-1))

	resp, err := client.Do(req)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("probe GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status == http.StatusForbidden {
		return models.ProbeResult{Status: &status}, ErrAccessDenied
	}
	if status < 200 || status >= 300 {
		return models.ProbeResult{Status: &status}, fmt.Errorf("probe GET %s: status %d", rawURL, status)
	}

	preview := make([]byte, sniff.PreviewSize)
	n, _ := io.ReadFull(resp.Body, preview)
	preview = preview[:n]

	res := sniff.Validate(resp.Header, preview, isVideo)
	if !res.Valid {
		log.Printf("[probe] content rejected for %s (status %d, content-type %q)", rawURL, status, resp.Header.Get("Content-Type"))
		return models.ProbeResult{Status: &status}, ErrRejected
	}

	if mb, ok := sniff.SizeFromHeaders(resp.Header); ok {
		return models.ProbeResult{SizeMB: &mb, Status: &status}, nil
	}
	return models.ProbeResult{Status: &status}, nil
}
