package download

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"mediafetch/internal/httpx"
	"mediafetch/models"
	"mediafetch/utils/mediakind"
)

// singleMirrorAttempts is the total number of tries for an item with exactly
// one candidate URL. Mirror lists get one try per mirror instead, so total
// attempts never multiply combinatorially.
const singleMirrorAttempts = 2

// HLSAssembler reconstructs a fragmented HLS stream into one local file.
// Implemented by internal/hls; an interface here keeps the dependency
// direction scheduler -> assembler without an import cycle.
type HLSAssembler interface {
	Assemble(ctx context.Context, manifestURL, destPath string, opts FetchOptions) (float64, error)
}

// Task pairs a media item with the path strategy its downloads should use.
type Task struct {
	Item    models.MediaItem
	PathGen PathGenerator
}

// Scheduler runs download batches under a global concurrency cap.
type Scheduler struct {
	downloader *Downloader
	assembler  HLSAssembler
}

// NewScheduler returns a Scheduler. assembler may be nil when HLS support is
// not wired (HLS items then fail cleanly instead of panicking).
func NewScheduler(downloader *Downloader, assembler HLSAssembler) *Scheduler {
	return &Scheduler{downloader: downloader, assembler: assembler}
}

// RunAll executes every task under a semaphore of size maxConcurrent and
// returns one result per task, in submission order: results[i].Index == i
// always holds, regardless of completion order, and one item's failure never
// aborts its siblings.
func (s *Scheduler) RunAll(ctx context.Context, tasks []Task, maxConcurrent int) []models.DownloadResult {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	results := make([]models.DownloadResult, len(tasks))

	p := pool.New().WithMaxGoroutines(maxConcurrent)
	for i, task := range tasks {
		i, task := i, task
		p.Go(func() {
			results[i] = s.runOne(ctx, i, task)
		})
	}
	p.Wait()
	return results
}

// runOne applies the per-item failover policy and converts every escape path
// into a failure result.
func (s *Scheduler) runOne(ctx context.Context, index int, task Task) (result models.DownloadResult) {
	result = models.DownloadResult{Index: index}
	urls := task.Item.CandidateURLs
	if len(urls) == 0 {
		result.Err = "no candidate urls"
		return result
	}
	result.SourceURL = urls[0]

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] item %d panicked: %v", index, r)
			result = models.DownloadResult{Index: index, SourceURL: urls[0], Err: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if len(urls) == 1 {
		// A single known source is worth one extra attempt on transient
		// failure; validation rejections are permanent for the URL.
		f, err := retry.DoWithData(
			func() (fetched, error) {
				return s.attempt(ctx, urls[0], task)
			},
			retry.Attempts(singleMirrorAttempts),
			retry.Context(ctx),
			retry.Delay(500*time.Millisecond),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, ErrContentRejected)
			}),
		)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.FilePath, result.SizeMB, result.Success = f.path, f.sizeMB, true
		return result
	}

	// Mirrors: one attempt each, in order, first success wins.
	var lastErr error
	for _, u := range urls {
		f, err := s.attempt(ctx, u, task)
		if err == nil {
			result.SourceURL = u
			result.FilePath, result.SizeMB, result.Success = f.path, f.sizeMB, true
			return result
		}
		log.Printf("[scheduler] item %d mirror %s failed: %v", index, u, err)
		lastErr = err
	}
	result.Err = lastErr.Error()
	return result
}

// fetched bundles an attempt's outputs so retry.DoWithData can carry them.
type fetched struct {
	path   string
	sizeMB float64
}

// attempt downloads one candidate URL, routing HLS manifests to the
// assembler and everything else to the plain downloader.
func (s *Scheduler) attempt(ctx context.Context, rawURL string, task Task) (fetched, error) {
	opts := FetchOptions{
		IsVideo: task.Item.IsVideo,
		Headers: httpx.HeaderContext{
			RefererURL:        task.Item.RefererURL,
			DefaultRefererURL: task.Item.DefaultRefererURL,
			OriginURL:         task.Item.OriginURL,
			Extra:             task.Item.Headers,
		},
		ProxyURL: task.Item.ProxyURL,
	}

	if mediakind.Classify(rawURL) == mediakind.KindHLS {
		if s.assembler == nil {
			return fetched{}, errors.New("hls assembler not configured")
		}
		destPath, err := task.PathGen("video/mp4", rawURL)
		if err != nil {
			return fetched{}, fmt.Errorf("generate path: %w", err)
		}
		sizeMB, err := s.assembler.Assemble(ctx, rawURL, destPath, opts)
		if err != nil {
			return fetched{}, err
		}
		return fetched{path: destPath, sizeMB: sizeMB}, nil
	}

	path, sizeMB, err := s.downloader.Fetch(ctx, rawURL, task.PathGen, opts)
	if err != nil {
		return fetched{}, err
	}
	return fetched{path: path, sizeMB: sizeMB}, nil
}
