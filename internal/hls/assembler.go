package hls

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"mediafetch/internal/download"
	"mediafetch/internal/httpx"
	"mediafetch/internal/sniff"
)

// DefaultSegmentConcurrency bounds in-flight segment fetches per manifest, so
// one large HLS asset cannot monopolize the scheduler's global budget by
// fanning out unbounded segment requests.
const DefaultSegmentConcurrency = 10

const manifestTimeout = 30 * time.Second

// Assembler turns an HLS manifest URL into a single local media file.
type Assembler struct {
	fs          afero.Fs
	tempRoot    string
	ffmpegPath  string
	concurrency int
}

// NewAssembler returns an Assembler. ffmpegPath may be empty, in which case
// streams with separate audio degrade to video-only output. concurrency <= 0
// selects the default.
func NewAssembler(fs afero.Fs, tempRoot, ffmpegPath string, concurrency int) *Assembler {
	if concurrency <= 0 {
		concurrency = DefaultSegmentConcurrency
	}
	return &Assembler{fs: fs, tempRoot: tempRoot, ffmpegPath: ffmpegPath, concurrency: concurrency}
}

// Assemble downloads and reconstructs the stream behind manifestURL into
// destPath, returning the final size in MB. The temp workspace is removed on
// every exit path.
func (a *Assembler) Assemble(ctx context.Context, manifestURL, destPath string, opts download.FetchOptions) (float64, error) {
	client, err := httpx.NewClient(httpx.Options{Timeout: manifestTimeout, ProxyURL: opts.ProxyURL})
	if err != nil {
		return 0, err
	}

	workDir := filepath.Join(a.tempRoot, "hls-"+uuid.NewString())
	if err := a.fs.MkdirAll(workDir, 0o755); err != nil {
		return 0, fmt.Errorf("create hls workspace: %w", err)
	}
	defer func() {
		if rmErr := a.fs.RemoveAll(workDir); rmErr != nil {
			log.Printf("[hls] could not remove workspace %s: %v", workDir, rmErr)
		}
	}()

	videoURL, audioURL, err := a.resolvePlaylists(ctx, client, manifestURL, opts)
	if err != nil {
		return 0, err
	}

	videoMerged, err := a.downloadTrack(ctx, client, videoURL, workDir, "video", opts)
	if err != nil {
		return 0, err
	}

	finalSource := videoMerged
	if audioURL != "" {
		audioMerged, aerr := a.downloadTrack(ctx, client, audioURL, workDir, "audio", opts)
		if aerr != nil {
			log.Printf("[hls] audio track failed, delivering video-only: %v", aerr)
		} else {
			muxed := filepath.Join(workDir, "muxed.mp4")
			if merr := a.remux(ctx, videoMerged, audioMerged, muxed); merr != nil {
				log.Printf("[hls] remux degraded to video-only output: %v", merr)
			} else {
				finalSource = muxed
			}
		}
	}

	if err := a.fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}
	if err := a.moveFile(finalSource, destPath); err != nil {
		return 0, err
	}

	info, err := a.fs.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", destPath, err)
	}
	return sniff.SizeMB(info.Size()), nil
}

// resolvePlaylists fetches the manifest and, when it is a master playlist,
// follows it to the variant URLs. A manifest with no .m3u8 references is a
// media playlist itself.
func (a *Assembler) resolvePlaylists(ctx context.Context, client *http.Client, manifestURL string, opts download.FetchOptions) (videoURL, audioURL string, err error) {
	body, base, err := a.fetchText(ctx, client, manifestURL, opts)
	if err != nil {
		return "", "", fmt.Errorf("fetch manifest: %w", err)
	}
	master := ParseMaster(body, base)
	if master.VideoPlaylistURL == "" {
		return manifestURL, "", nil
	}
	return master.VideoPlaylistURL, master.AudioPlaylistURL, nil
}

// downloadTrack fetches one media playlist's segments under the bounded pool
// and concatenates them, init segment first, into a single merged file.
func (a *Assembler) downloadTrack(ctx context.Context, client *http.Client, playlistURL, workDir, prefix string, opts download.FetchOptions) (string, error) {
	body, base, err := a.fetchText(ctx, client, playlistURL, opts)
	if err != nil {
		return "", fmt.Errorf("fetch %s playlist: %w", prefix, err)
	}
	pl := ParseMedia(body, base)
	if len(pl.SegmentURLs) == 0 {
		return "", fmt.Errorf("%s playlist has no segments", prefix)
	}

	var initPath string
	if pl.InitSegmentURL != "" {
		initPath = filepath.Join(workDir, prefix+"_init.mp4")
		if err := a.fetchToFile(ctx, client, pl.InitSegmentURL, initPath, opts); err != nil {
			return "", fmt.Errorf("fetch init segment: %w", err)
		}
	}

	// Numbered temp files let sorted filenames reconstruct original order
	// even though completion order is unordered.
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(a.concurrency).WithCancelOnError()
	for i, segURL := range pl.SegmentURLs {
		segURL := segURL
		segPath := filepath.Join(workDir, fmt.Sprintf("%s_%05d.m4s", prefix, i))
		p.Go(func(ctx context.Context) error {
			return a.fetchToFile(ctx, client, segURL, segPath, opts)
		})
	}
	if err := p.Wait(); err != nil {
		return "", fmt.Errorf("download %s segments: %w", prefix, err)
	}

	segPaths, err := a.sortedSegments(workDir, prefix)
	if err != nil {
		return "", err
	}
	merged := filepath.Join(workDir, prefix+"_merged.mp4")
	if err := a.concatenate(initPath, segPaths, merged); err != nil {
		return "", err
	}
	return merged, nil
}

// sortedSegments lists the numbered segment files for a prefix in name order.
func (a *Assembler) sortedSegments(workDir, prefix string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, workDir)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && len(name) > len(prefix)+1 && name[:len(prefix)+1] == prefix+"_" && filepath.Ext(name) == ".m4s" {
			paths = append(paths, filepath.Join(workDir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// concatenate writes the init segment (if any) then every segment file,
// byte-for-byte, into out. No re-encoding happens here.
func (a *Assembler) concatenate(initPath string, segPaths []string, out string) error {
	dst, err := a.fs.Create(out)
	if err != nil {
		return fmt.Errorf("create merged file: %w", err)
	}
	defer dst.Close()

	appendFile := func(path string) error {
		src, err := a.fs.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	}

	if initPath != "" {
		if err := appendFile(initPath); err != nil {
			return fmt.Errorf("append init segment: %w", err)
		}
	}
	for _, p := range segPaths {
		if err := appendFile(p); err != nil {
			return fmt.Errorf("append segment %s: %w", p, err)
		}
	}
	return nil
}

// remux stream-copies separate video and audio tracks into one container.
// Any failure here is recoverable; callers fall back to video-only output.
func (a *Assembler) remux(ctx context.Context, videoPath, audioPath, out string) error {
	if a.ffmpegPath == "" {
		return fmt.Errorf("no multiplexer configured")
	}
	cmd := exec.CommandContext(ctx, a.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w (%s)", a.ffmpegPath, err, lastLine(output))
	}
	return nil
}

// lastLine trims ffmpeg's noisy output down to its final line for logs.
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// fetchText GETs a playlist and returns its body plus base URL for relative
// resolution.
func (a *Assembler) fetchText(ctx context.Context, client *http.Client, rawURL string, opts download.FetchOptions) (string, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, err
	}
	httpx.ApplyHeaders(req, opts.Headers)

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return string(body), resp.Request.URL, nil
}

// fetchToFile GETs a segment straight to disk.
func (a *Assembler) fetchToFile(ctx context.Context, client *http.Client, rawURL, path string, opts download.FetchOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	httpx.ApplyHeaders(req, opts.Headers)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	f, err := a.fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		a.fs.Remove(path)
		return fmt.Errorf("write segment %s: %w", path, err)
	}
	return f.Close()
}

// moveFile renames when possible and falls back to copy+remove across
// filesystem boundaries.
func (a *Assembler) moveFile(src, dst string) error {
	if err := a.fs.Rename(src, dst); err == nil {
		return nil
	}
	in, err := a.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := a.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		a.fs.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return a.fs.Remove(src)
}
