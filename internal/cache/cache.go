// Package cache manages the flat on-disk namespace downloaded media lives in.
// The directory is ephemeral: one subdirectory per logical media item, keyed
// by a generated media id, swept by cleanup calls from whoever ends up owning
// the files.
package cache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const sentinelName = ".write-check"

// Cache wraps a cache directory on an afero filesystem. Production uses
// afero.NewOsFs(); tests swap in a memory filesystem.
type Cache struct {
	fs  afero.Fs
	dir string
}

// New returns a Cache rooted at dir.
func New(fs afero.Fs, dir string) *Cache {
	return &Cache{fs: fs, dir: dir}
}

// Dir returns the cache root path.
func (c *Cache) Dir() string {
	return c.dir
}

// Fs exposes the underlying filesystem for collaborators that write into the
// cache (downloader, HLS assembler).
func (c *Cache) Fs() afero.Fs {
	return c.fs
}

// Available reports whether the cache directory can be created and written.
// It never returns an error: a sentinel file is written and removed, and any
// failure along the way simply yields false. Calling it repeatedly leaves no
// residue.
func (c *Cache) Available() bool {
	if c.dir == "" {
		return false
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		log.Printf("[cache] directory %s not creatable: %v", c.dir, err)
		return false
	}
	sentinel := filepath.Join(c.dir, sentinelName)
	if err := afero.WriteFile(c.fs, sentinel, []byte("ok"), 0o644); err != nil {
		log.Printf("[cache] directory %s not writable: %v", c.dir, err)
		return false
	}
	if err := c.fs.Remove(sentinel); err != nil {
		log.Printf("[cache] could not remove sentinel in %s: %v", c.dir, err)
	}
	return true
}

// ItemDir returns (and creates) the subdirectory for one media id.
func (c *Cache) ItemDir(mediaID string) (string, error) {
	dir := filepath.Join(c.dir, mediaID)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create item dir %s: %w", dir, err)
	}
	return dir, nil
}

// TempDir creates a uniquely named scratch directory under the cache root for
// HLS assembly workspaces.
func (c *Cache) TempDir(prefix string) (string, error) {
	dir := filepath.Join(c.dir, prefix+"-"+uuid.NewString())
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	return dir, nil
}

// CleanupFile removes a single file. Missing paths are fine; nothing is ever
// raised for them.
func (c *Cache) CleanupFile(path string) {
	if path == "" {
		return
	}
	if err := c.fs.Remove(path); err != nil && !isNotExist(err) {
		log.Printf("[cache] cleanup %s: %v", path, err)
	}
}

// CleanupFiles removes each of the given files, tolerating missing ones.
func (c *Cache) CleanupFiles(paths []string) {
	for _, p := range paths {
		c.CleanupFile(p)
	}
}

// CleanupDir removes a directory tree. With ignoreErrors the removal is
// best-effort; otherwise the first failure is returned. A missing directory
// is never an error.
func (c *Cache) CleanupDir(path string, ignoreErrors bool) error {
	if path == "" {
		return nil
	}
	err := c.fs.RemoveAll(path)
	if err == nil || isNotExist(err) {
		return nil
	}
	if ignoreErrors {
		log.Printf("[cache] cleanup dir %s: %v", path, err)
		return nil
	}
	return fmt.Errorf("cleanup dir %s: %w", path, err)
}

// Stats returns the number of files under the cache root and their total
// byte size.
func (c *Cache) Stats() (count int, sizeBytes int64) {
	_ = afero.Walk(c.fs, c.dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		count++
		sizeBytes += info.Size()
		return nil
	})
	return
}

// Clear removes every item directory under the cache root, keeping the root
// itself.
func (c *Cache) Clear() error {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	var failed int
	for _, entry := range entries {
		if err := c.fs.RemoveAll(filepath.Join(c.dir, entry.Name())); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to remove %d entries", failed)
	}
	return nil
}

// MediaID derives a stable id for a source URL: the last all-digit path
// segment when one exists (platform post ids), otherwise an 8-character hash
// plus a timestamp so concurrent fetches of unrelated URLs never collide.
func MediaID(sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := len(segments) - 1; i >= 0; i-- {
			if seg := segments[i]; seg != "" && isAllDigits(seg) {
				return seg
			}
		}
	}
	h := fnv.New32a()
	h.Write([]byte(sourceURL))
	return fmt.Sprintf("%08x_%d", h.Sum32(), time.Now().Unix())
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// isNotExist matches both os and afero in-memory not-found errors.
func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return strings.Contains(err.Error(), "file does not exist")
}
