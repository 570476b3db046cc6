// Package download performs the actual media transfers: single-URL content
// fetches with streaming-to-disk, and a batch scheduler that runs many items
// under a global concurrency cap with per-item mirror failover.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"mediafetch/internal/httpx"
	"mediafetch/internal/sniff"
)

// ErrContentRejected marks a response that validated as a non-media payload.
// It is permanent for that URL: the scheduler will not retry it, though it
// still moves on to remaining mirrors.
var ErrContentRejected = errors.New("content validation rejected response")

const (
	videoTimeout = 300 * time.Second
	imageTimeout = 30 * time.Second
	chunkSize    = 1 << 20 // 1 MiB streaming chunks for video
)

// PathGenerator computes the destination path for a download from the
// response content type and source URL. Callers choose the strategy: cache
// subdirectory keyed by media id, or a process temp file.
type PathGenerator func(contentType, rawURL string) (string, error)

// FetchOptions carries the per-item request context.
type FetchOptions struct {
	IsVideo  bool
	Headers  httpx.HeaderContext
	ProxyURL string
}

// Downloader fetches one URL to disk.
type Downloader struct {
	fs afero.Fs
}

// NewDownloader returns a Downloader writing through the given filesystem.
func NewDownloader(fs afero.Fs) *Downloader {
	return &Downloader{fs: fs}
}

// Fetch GETs the URL, re-validates the response, and streams it to the path
// the generator chooses. Returns the written path and its size in MB. No file
// is left behind on any failure path.
func (d *Downloader) Fetch(ctx context.Context, rawURL string, pathGen PathGenerator, opts FetchOptions) (string, float64, error) {
	timeout := imageTimeout
	if opts.IsVideo {
		timeout = videoTimeout
	}
	client, err := httpx.NewClient(httpx.Options{Timeout: timeout, ProxyURL: opts.ProxyURL})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	httpx.ApplyHeaders(req, opts.Headers)

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	// Re-validate before writing anything: a preview read is only needed
	// when the server omitted Content-Type.
	contentType := resp.Header.Get("Content-Type")
	var preview []byte
	if contentType == "" {
		buf := make([]byte, sniff.PreviewSize)
		n, rerr := io.ReadFull(resp.Body, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return "", 0, fmt.Errorf("read preview from %s: %w", rawURL, rerr)
		}
		preview = buf[:n]
	}
	verdict := sniff.Validate(resp.Header, preview, opts.IsVideo)
	if !verdict.Valid {
		return "", 0, fmt.Errorf("%w: %s (content-type %q)", ErrContentRejected, rawURL, contentType)
	}

	path, err := pathGen(contentType, rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("generate path: %w", err)
	}
	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("create parent dir: %w", err)
	}

	if err := d.writeBody(path, verdict.Preview, resp.Body, opts.IsVideo); err != nil {
		return "", 0, err
	}

	sizeMB, ok := sniff.SizeFromHeaders(resp.Header)
	if !ok {
		// No usable length header; measure what actually landed on disk.
		info, serr := d.fs.Stat(path)
		if serr != nil {
			d.removePartial(path)
			return "", 0, fmt.Errorf("stat %s: %w", path, serr)
		}
		sizeMB = sniff.SizeMB(info.Size())
	}
	return path, sizeMB, nil
}

// writeBody streams the response to path. The preview prefix consumed during
// validation is written first; losing or duplicating those bytes corrupts
// the file.
func (d *Downloader) writeBody(path string, preview []byte, body io.Reader, isVideo bool) error {
	f, err := d.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	fail := func(werr error) error {
		f.Close()
		d.removePartial(path)
		return werr
	}

	if len(preview) > 0 {
		if _, err := f.Write(preview); err != nil {
			return fail(fmt.Errorf("write preview to %s: %w", path, err))
		}
	}

	if isVideo {
		// Chunked streaming bounds memory for large files.
		buf := make([]byte, chunkSize)
		if _, err := io.CopyBuffer(f, body, buf); err != nil {
			return fail(fmt.Errorf("stream to %s: %w", path, err))
		}
	} else {
		data, err := io.ReadAll(body)
		if err != nil {
			return fail(fmt.Errorf("read image body: %w", err))
		}
		if _, err := f.Write(data); err != nil {
			return fail(fmt.Errorf("write %s: %w", path, err))
		}
	}

	if err := f.Close(); err != nil {
		d.removePartial(path)
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (d *Downloader) removePartial(path string) {
	if err := d.fs.Remove(path); err != nil {
		log.Printf("[download] could not remove partial file %s: %v", path, err)
	}
}
