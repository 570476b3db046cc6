// Package fetch is the policy layer of the media pipeline: it decides, per
// metadata record, whether media is served as direct remote links,
// materialized into the local cache, or rejected as oversized, and drives the
// download scheduler accordingly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"

	"mediafetch/config"
	"mediafetch/internal/cache"
	"mediafetch/internal/download"
	"mediafetch/internal/hls"
	"mediafetch/internal/httpx"
	"mediafetch/internal/probe"
	"mediafetch/models"
)

// Prober is the size/validity probe the engine consults before deciding.
type Prober interface {
	ProbeSize(ctx context.Context, rawURL string, hc httpx.HeaderContext, proxyURL string, isVideo bool) (models.ProbeResult, error)
}

// BatchRunner executes download batches under the global concurrency cap.
type BatchRunner interface {
	RunAll(ctx context.Context, tasks []download.Task, maxConcurrent int) []models.DownloadResult
}

// Engine enriches metadata records per the configured size policy. All
// shared state lives on the instance; nothing is process-global.
type Engine struct {
	cfg       config.FetchSettings
	cache     *cache.Cache
	prober    Prober
	runner    BatchRunner
	threshold float64 // clamped large-media threshold

	// cacheOK is computed once at startup; a cache directory that
	// disappears mid-run shows up as per-download failures instead.
	cacheOK bool

	shuttingDown atomic.Bool
	mu           sync.Mutex
	nextID       int64
	active       map[int64]context.CancelFunc
}

// NewEngine wires the production pipeline: downloader and HLS assembler
// writing into the cache filesystem, behind the batch scheduler.
func NewEngine(cfg config.FetchSettings, c *cache.Cache) *Engine {
	downloader := download.NewDownloader(c.Fs())
	assembler := hls.NewAssembler(c.Fs(), c.Dir(), cfg.FFmpegPath, cfg.SegmentConcurrency)
	return newEngine(cfg, c, probe.NewClient(), download.NewScheduler(downloader, assembler))
}

func newEngine(cfg config.FetchSettings, c *cache.Cache, prober Prober, runner BatchRunner) *Engine {
	e := &Engine{
		cfg:       cfg,
		cache:     c,
		prober:    prober,
		runner:    runner,
		threshold: cfg.ClampedLargeMediaThreshold(),
		cacheOK:   c.Available(),
		active:    make(map[int64]context.CancelFunc),
	}
	if cfg.PreDownloadAll && !e.cacheOK {
		log.Printf("[fetch] pre-download mode configured but cache directory %s is not writable; falling back to selective mode", c.Dir())
	}
	return e
}

// CacheAvailable reports the availability computed at startup.
func (e *Engine) CacheAvailable() bool {
	return e.cacheOK
}

// Shutdown flags the engine as stopping and cancels all outstanding work.
// Subsequent Process calls return immediately with empty results. Partial
// files of in-flight downloads are swept by the cache layer, not here.
func (e *Engine) Shutdown() {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.active = make(map[int64]context.CancelFunc)
	e.mu.Unlock()
	log.Printf("[fetch] engine shut down")
}

// track derives a cancellable context registered for shutdown.
func (e *Engine) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.active[id] = cancel
	e.mu.Unlock()
	return ctx, func() {
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) preDownloadActive() bool {
	return e.cfg.PreDownloadAll && e.cacheOK
}

// Process runs the decision state machine for one record and enriches it in
// place. Terminal states: no valid media, rejected oversized, direct remote
// links, or cached local files.
func (e *Engine) Process(ctx context.Context, rec *models.MetadataRecord) error {
	resetEnrichment(rec)

	if e.shuttingDown.Load() {
		log.Printf("[fetch] shutting down, skipping record %q", rec.Title)
		return nil
	}

	videoLists := nonEmptyLists(rec.VideoURLs)
	imageLists := nonEmptyLists(rec.ImageURLs)

	// Per-record pre-download overrides: outside global pre-download mode
	// an override drops that media class (see DESIGN.md).
	if rec.VideoPreDownload && !e.preDownloadActive() {
		videoLists = nil
	}
	if rec.ImagePreDownload && !e.preDownloadActive() {
		imageLists = nil
	}

	if len(videoLists) == 0 && len(imageLists) == 0 {
		return nil
	}

	ctx, release := e.track(ctx)
	defer release()

	videoItems := buildItems(videoLists, true, rec, e.cfg.UserAgent)
	imageItems := buildItems(imageLists, false, rec, e.cfg.UserAgent)

	// Probe video sizes up front when a hard limit demands a precheck or
	// selective mode needs them for the decision.
	var probes []probeOutcome
	if len(videoItems) > 0 && (e.cfg.MaxTotalSizeMB > 0 || !e.preDownloadActive()) {
		probes = e.probeVideos(ctx, videoItems)
		for _, p := range probes {
			if p.denied {
				rec.AccessDenied = true
			}
		}
		rec.VideoSizes, rec.MaxVideoSizeMB, rec.TotalVideoSizeMB = foldProbeSizes(probes)
	}

	// Hard-limit precheck short-circuits the whole record, not just the
	// offending item.
	if e.cfg.MaxTotalSizeMB > 0 && rec.MaxVideoSizeMB > e.cfg.MaxTotalSizeMB {
		log.Printf("[fetch] record %q rejected: probed %.1f MB exceeds limit %.1f MB",
			rec.Title, rec.MaxVideoSizeMB, e.cfg.MaxTotalSizeMB)
		e.rejectOversized(rec, "")
		return nil
	}

	if e.preDownloadActive() {
		return e.materializeAll(ctx, rec, videoItems, imageItems)
	}

	// Selective mode: video probes above, image validation here.
	validVideos := 0
	for _, p := range probes {
		if p.valid {
			validVideos++
		}
	}
	validImages, imgDenied := e.validateImages(ctx, imageItems)
	if imgDenied {
		rec.AccessDenied = true
	}
	rec.FailedVideoCount = len(videoItems) - validVideos
	rec.FailedImageCount = len(imageItems) - validImages
	rec.HasValidMedia = validVideos > 0 || validImages > 0

	if e.threshold > 0 && rec.MaxVideoSizeMB > e.threshold && e.cacheOK && validVideos > 0 {
		rec.IsLargeMedia = true
		log.Printf("[fetch] record %q is large media (%.1f MB > %.1f MB), forcing local cache",
			rec.Title, rec.MaxVideoSizeMB, e.threshold)
		return e.materializeVideos(ctx, rec, videoItems, validImages)
	}

	// Direct remote links: nothing fetched beyond the probes.
	return nil
}

// materializeAll downloads every item of the record to the cache, then
// re-checks the hard limit against actual downloaded sizes.
func (e *Engine) materializeAll(ctx context.Context, rec *models.MetadataRecord, videoItems, imageItems []models.MediaItem) error {
	itemDir, err := e.cache.ItemDir(cache.MediaID(rec.SourceURL))
	if err != nil {
		return fmt.Errorf("prepare cache dir: %w", err)
	}

	tasks := make([]download.Task, 0, len(videoItems)+len(imageItems))
	for i, item := range videoItems {
		tasks = append(tasks, download.Task{Item: item, PathGen: pathGen(itemDir, "video", i)})
	}
	for i, item := range imageItems {
		tasks = append(tasks, download.Task{Item: item, PathGen: pathGen(itemDir, "image", i)})
	}

	results := e.runner.RunAll(ctx, tasks, e.cfg.MaxConcurrentDownloads)
	videoResults := results[:len(videoItems)]
	imageResults := results[len(videoItems):]

	paths := make([]string, 0, len(results))
	sizes := make([]float64, 0, len(videoResults))
	var maxMB, totalMB float64
	var failedVideos, failedImages int
	for _, r := range videoResults {
		if !r.Success {
			failedVideos++
			continue
		}
		paths = append(paths, r.FilePath)
		sizes = append(sizes, r.SizeMB)
		totalMB += r.SizeMB
		if r.SizeMB > maxMB {
			maxMB = r.SizeMB
		}
	}
	for _, r := range imageResults {
		if !r.Success {
			failedImages++
			continue
		}
		paths = append(paths, r.FilePath)
	}

	rec.VideoSizes, rec.MaxVideoSizeMB, rec.TotalVideoSizeMB = sizes, maxMB, totalMB
	rec.FailedVideoCount, rec.FailedImageCount = failedVideos, failedImages

	// Actual sizes may differ from probe estimates; both violation paths
	// converge on the same terminal state with every written byte removed.
	if e.cfg.MaxTotalSizeMB > 0 && maxMB > e.cfg.MaxTotalSizeMB {
		log.Printf("[fetch] record %q rejected post-download: %.1f MB exceeds limit %.1f MB",
			rec.Title, maxMB, e.cfg.MaxTotalSizeMB)
		e.rejectOversized(rec, itemDir)
		return nil
	}

	rec.FilePaths = paths
	rec.UseLocalFiles = len(paths) > 0
	rec.HasValidMedia = len(paths) > 0
	return nil
}

// materializeVideos force-caches just the record's videos; images keep their
// normal direct-link path.
func (e *Engine) materializeVideos(ctx context.Context, rec *models.MetadataRecord, videoItems []models.MediaItem, validImages int) error {
	itemDir, err := e.cache.ItemDir(cache.MediaID(rec.SourceURL))
	if err != nil {
		return fmt.Errorf("prepare cache dir: %w", err)
	}

	tasks := make([]download.Task, 0, len(videoItems))
	for i, item := range videoItems {
		tasks = append(tasks, download.Task{Item: item, PathGen: pathGen(itemDir, "video", i)})
	}
	results := e.runner.RunAll(ctx, tasks, e.cfg.MaxConcurrentDownloads)

	paths := make([]string, 0, len(results))
	sizes := make([]float64, 0, len(results))
	var maxMB, totalMB float64
	var failedVideos int
	for _, r := range results {
		if !r.Success {
			failedVideos++
			continue
		}
		paths = append(paths, r.FilePath)
		sizes = append(sizes, r.SizeMB)
		totalMB += r.SizeMB
		if r.SizeMB > maxMB {
			maxMB = r.SizeMB
		}
	}

	rec.VideoSizes, rec.MaxVideoSizeMB, rec.TotalVideoSizeMB = sizes, maxMB, totalMB
	rec.FailedVideoCount = failedVideos
	rec.HasValidMedia = len(paths) > 0 || validImages > 0

	if e.cfg.MaxTotalSizeMB > 0 && maxMB > e.cfg.MaxTotalSizeMB {
		log.Printf("[fetch] record %q rejected post-download: %.1f MB exceeds limit %.1f MB",
			rec.Title, maxMB, e.cfg.MaxTotalSizeMB)
		e.rejectOversized(rec, itemDir)
		return nil
	}

	rec.FilePaths = paths
	rec.UseLocalFiles = len(paths) > 0
	return nil
}

// rejectOversized moves the record into the rejected terminal state and
// sweeps everything written for it.
func (e *Engine) rejectOversized(rec *models.MetadataRecord, itemDir string) {
	if itemDir != "" {
		e.cache.CleanupDir(itemDir, true)
	}
	rec.ExceedsMaxSize = true
	rec.HasValidMedia = false
	rec.UseLocalFiles = false
	rec.IsLargeMedia = false
	rec.FilePaths = []string{}
	rec.FailedVideoCount = 0
	rec.FailedImageCount = 0
}

type probeOutcome struct {
	sizeMB *float64
	valid  bool
	denied bool
}

// probeVideos probes every video item concurrently under the download cap.
func (e *Engine) probeVideos(ctx context.Context, items []models.MediaItem) []probeOutcome {
	out := make([]probeOutcome, len(items))
	p := pool.New().WithMaxGoroutines(maxInt(e.cfg.MaxConcurrentDownloads, 1))
	for i, item := range items {
		i, item := i, item
		p.Go(func() {
			out[i] = e.probeItem(ctx, item)
		})
	}
	p.Wait()
	return out
}

// probeItem tries an item's mirrors in order until one validates.
func (e *Engine) probeItem(ctx context.Context, item models.MediaItem) probeOutcome {
	var outcome probeOutcome
	if e.shuttingDown.Load() {
		return outcome
	}
	hc := headerContext(item)
	for _, u := range item.CandidateURLs {
		res, err := e.prober.ProbeSize(ctx, u, hc, item.ProxyURL, item.IsVideo)
		if err == nil {
			outcome.sizeMB = res.SizeMB
			outcome.valid = true
			return outcome
		}
		if errors.Is(err, probe.ErrAccessDenied) {
			outcome.denied = true
		}
		log.Printf("[fetch] probe failed for %s: %v", u, err)
	}
	return outcome
}

// validateImages probes image items concurrently and reports how many are
// usable plus whether any mirror answered 403.
func (e *Engine) validateImages(ctx context.Context, items []models.MediaItem) (valid int, denied bool) {
	if len(items) == 0 {
		return 0, false
	}
	outcomes := make([]probeOutcome, len(items))
	p := pool.New().WithMaxGoroutines(maxInt(e.cfg.MaxConcurrentDownloads, 1))
	for i, item := range items {
		i, item := i, item
		p.Go(func() {
			outcomes[i] = e.probeItem(ctx, item)
		})
	}
	p.Wait()
	for _, o := range outcomes {
		if o.valid {
			valid++
		}
		if o.denied {
			denied = true
		}
	}
	return valid, denied
}

// resetEnrichment restores every engine-owned field to its default so a
// record can never leak state between runs.
func resetEnrichment(rec *models.MetadataRecord) {
	rec.FilePaths = []string{}
	rec.VideoSizes = []float64{}
	rec.MaxVideoSizeMB = 0
	rec.TotalVideoSizeMB = 0
	rec.UseLocalFiles = false
	rec.IsLargeMedia = false
	rec.ExceedsMaxSize = false
	rec.HasValidMedia = false
	rec.AccessDenied = false
	rec.FailedVideoCount = 0
	rec.FailedImageCount = 0
}

func nonEmptyLists(lists [][]string) [][]string {
	var out [][]string
	for _, l := range lists {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// buildItems converts candidate URL lists into immutable media items
// carrying the record's request context. The record's user agent wins over
// the configured one.
func buildItems(lists [][]string, isVideo bool, rec *models.MetadataRecord, defaultUserAgent string) []models.MediaItem {
	proxy := rec.ImageProxyURL()
	if isVideo {
		proxy = rec.VideoProxyURL()
	}
	headers := make(map[string]string, len(rec.ExtraHeaders)+1)
	for k, v := range rec.ExtraHeaders {
		headers[k] = v
	}
	ua := rec.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if ua != "" {
		headers["User-Agent"] = ua
	}

	items := make([]models.MediaItem, 0, len(lists))
	for _, urls := range lists {
		items = append(items, models.MediaItem{
			CandidateURLs:     urls,
			IsVideo:           isVideo,
			Headers:           headers,
			RefererURL:        rec.RefererURL,
			DefaultRefererURL: rec.DefaultRefererURL,
			OriginURL:         rec.OriginURL,
			ProxyURL:          proxy,
		})
	}
	return items
}

func headerContext(item models.MediaItem) httpx.HeaderContext {
	return httpx.HeaderContext{
		RefererURL:        item.RefererURL,
		DefaultRefererURL: item.DefaultRefererURL,
		OriginURL:         item.OriginURL,
		Extra:             item.Headers,
	}
}

// pathGen names cache files {kind}_{index}{ext} inside the record's item
// directory. Index-qualified names mean no two concurrent writers ever
// target the same path.
func pathGen(itemDir, kind string, index int) download.PathGenerator {
	return func(contentType, rawURL string) (string, error) {
		return filepath.Join(itemDir, fmt.Sprintf("%s_%d%s", kind, index, extensionFor(contentType, rawURL, kind))), nil
	}
}

// extensionFor picks a file extension from the response content type first,
// the URL path second, and a per-kind default last.
func extensionFor(contentType, rawURL, kind string) string {
	if contentType != "" {
		if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
			contentType = contentType[:idx]
		}
		if mt := mimetype.Lookup(strings.TrimSpace(contentType)); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 && ext != ".m3u8" {
			return ext
		}
	}
	if kind == "image" {
		return ".jpg"
	}
	return ".mp4"
}

func foldProbeSizes(probes []probeOutcome) (sizes []float64, maxMB, totalMB float64) {
	sizes = make([]float64, 0, len(probes))
	for _, p := range probes {
		if p.sizeMB == nil {
			continue
		}
		sizes = append(sizes, *p.sizeMB)
		totalMB += *p.sizeMB
		if *p.sizeMB > maxMB {
			maxMB = *p.sizeMB
		}
	}
	return sizes, maxMB, totalMB
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
