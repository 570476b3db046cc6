package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"mediafetch/internal/cache"
	"mediafetch/models"
	"mediafetch/services/parser"
)

type fakeEngine struct {
	processed []*models.MetadataRecord
	enrich    func(rec *models.MetadataRecord)
}

func (f *fakeEngine) Process(ctx context.Context, rec *models.MetadataRecord) error {
	f.processed = append(f.processed, rec)
	if f.enrich != nil {
		f.enrich(rec)
	}
	return nil
}

func (f *fakeEngine) CacheAvailable() bool { return true }

func newTestHandler(engine *fakeEngine) *FetchHandler {
	return NewFetchHandler(
		parser.NewRouter(parser.NewGeneric()),
		engine,
		cache.New(afero.NewMemMapFs(), "/cache/media"),
	)
}

func TestFetchDirectLink(t *testing.T) {
	engine := &fakeEngine{enrich: func(rec *models.MetadataRecord) {
		rec.HasValidMedia = true
	}}
	h := newTestHandler(engine)

	body := strings.NewReader(`{"url":"https://cdn.example.com/clip.mp4"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", body)
	rr := httptest.NewRecorder()
	h.Fetch(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Record models.MetadataRecord `json:"record"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Record.HasValidMedia {
		t.Error("expected enriched record in response")
	}
	if resp.Record.SourceURL != "https://cdn.example.com/clip.mp4" {
		t.Errorf("source url = %q", resp.Record.SourceURL)
	}
	if len(engine.processed) != 1 {
		t.Fatalf("engine called %d times", len(engine.processed))
	}
}

func TestFetchExtractsLinkFromText(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	body := strings.NewReader(`{"text":"look at https://cdn.example.com/a.mp4 now"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", body)
	rr := httptest.NewRecorder()
	h.Fetch(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(engine.processed) != 1 || engine.processed[0].SourceURL != "https://cdn.example.com/a.mp4" {
		t.Errorf("processed = %+v", engine.processed)
	}
}

func TestFetchRejectsUnsupportedURL(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	body := strings.NewReader(`{"url":"https://example.com/profile/me"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", body)
	rr := httptest.NewRecorder()
	h.Fetch(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestFetchRejectsEmptyBody(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.Fetch(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/api/fetch/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" || resp["cacheAvailable"] != true {
		t.Errorf("resp = %v", resp)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := cache.New(fs, "/cache/media")
	if err := afero.WriteFile(fs, "/cache/media/123/video_0.mp4", []byte("abcd"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewFetchHandler(parser.NewRouter(parser.NewGeneric()), &fakeEngine{}, c)

	rr := httptest.NewRecorder()
	h.CacheStats(rr, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	var stats map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["fileCount"] != float64(1) {
		t.Errorf("fileCount = %v", stats["fileCount"])
	}

	rr = httptest.NewRecorder()
	h.ClearCache(rr, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	count, _ := c.Stats()
	if count != 0 {
		t.Errorf("cache should be empty after clear, has %d files", count)
	}
}
