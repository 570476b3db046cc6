// Package sniff decides whether an HTTP response is a genuine media payload.
// Platforms routinely answer media URLs with 200-status JSON error bodies or
// HTML error pages, so extensions and status codes cannot be trusted; this
// package inspects headers and, when needed, a short byte preview.
package sniff

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// PreviewSize is how many leading body bytes a caller should read when the
// response carries no Content-Type. 64 bytes is enough to spot platform
// error envelopes without committing to a full download.
const PreviewSize = 64

const bytesPerMB = 1 << 20

// Result is the outcome of a validation. When a body preview was consumed to
// reach the verdict it is passed back so the downloader can prepend it instead
// of re-fetching those bytes.
type Result struct {
	Valid   bool
	Preview []byte
}

// Validate checks response headers and an optional body preview against the
// expected media family. preview may be nil when the caller only has headers
// (HEAD responses); in that case an absent Content-Type is only acceptable
// for images.
func Validate(header http.Header, preview []byte, expectVideo bool) Result {
	contentType := strings.ToLower(header.Get("Content-Type"))

	// JSON and text bodies are platform error responses, never media.
	if strings.Contains(contentType, "application/json") || strings.HasPrefix(contentType, "text/") {
		return Result{Valid: false}
	}

	if contentType == "" {
		if preview == nil {
			// Without a preview there is nothing to judge by. Image
			// CDNs frequently omit Content-Type, so give images the
			// benefit of the doubt; video callers must re-probe with
			// a body read.
			return Result{Valid: !expectVideo}
		}
		if isErrorBody(preview) {
			return Result{Valid: false}
		}
		return Result{Valid: true, Preview: preview}
	}

	if expectVideo {
		if strings.HasPrefix(contentType, "video/") ||
			strings.Contains(contentType, "mp4") ||
			strings.Contains(contentType, "octet-stream") {
			return Result{Valid: true, Preview: preview}
		}
		return Result{Valid: false}
	}

	if strings.HasPrefix(contentType, "image/") {
		return Result{Valid: true, Preview: preview}
	}
	return Result{Valid: false}
}

// isErrorBody reports whether a body preview looks like a platform error
// payload rather than media bytes.
func isErrorBody(preview []byte) bool {
	trimmed := strings.TrimLeft(string(preview), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		if strings.Contains(trimmed, "error_code") || strings.Contains(trimmed, "error_response") {
			return true
		}
	}
	// Content sniffing catches HTML error pages and other textual bodies
	// that slipped past the header checks.
	switch mt := mimetype.Detect(preview); {
	case mt.Is("text/html"), mt.Is("application/json"):
		return true
	}
	return false
}

// SizeFromHeaders extracts a byte-length estimate in MB. Content-Range's
// trailing total is preferred over Content-Length because ranged responses
// report only the slice length in the latter.
func SizeFromHeaders(header http.Header) (float64, bool) {
	if cr := header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndexByte(cr, '/'); idx >= 0 {
			total := strings.TrimSpace(cr[idx+1:])
			if n, err := strconv.ParseInt(total, 10, 64); err == nil && n >= 0 {
				return float64(n) / bytesPerMB, true
			}
		}
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			return float64(n) / bytesPerMB, true
		}
	}
	return 0, false
}

// SizeMB converts a byte count to MB using 1 MiB = 1,048,576 bytes.
func SizeMB(bytes int64) float64 {
	return float64(bytes) / bytesPerMB
}
