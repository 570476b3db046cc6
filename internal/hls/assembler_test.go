package hls

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/internal/download"
)

// segmentServer serves a media playlist with n segments of the given sizes,
// plus an optional init segment.
func segmentServer(t *testing.T, segSizes []int, initSize int, failSegment int) (*httptest.Server, [][]byte, []byte) {
	t.Helper()
	segments := make([][]byte, len(segSizes))
	for i, size := range segSizes {
		segments[i] = bytes.Repeat([]byte{byte(i + 1)}, size)
	}
	var initData []byte
	if initSize > 0 {
		initData = bytes.Repeat([]byte{0xEE}, initSize)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString("#EXTM3U\n")
		if initSize > 0 {
			sb.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
		}
		for i := range segments {
			fmt.Fprintf(&sb, "#EXTINF:4.0,\nseg_%d.m4s\n", i)
		}
		sb.WriteString("#EXT-X-ENDLIST\n")
		w.Write([]byte(sb.String()))
	})
	mux.HandleFunc("/init.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(initData)
	})
	for i := range segments {
		i := i
		mux.HandleFunc(fmt.Sprintf("/seg_%d.m4s", i), func(w http.ResponseWriter, r *http.Request) {
			if i == failSegment {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(segments[i])
		})
	}
	return httptest.NewServer(mux), segments, initData
}

func workspacesUnder(t *testing.T, fs afero.Fs, root string) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return 0
	}
	var n int
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "hls-") {
			n++
		}
	}
	return n
}

// The assembled output must equal the sum of segment byte lengths exactly.
func TestAssembleByteExactNoInit(t *testing.T) {
	sizes := []int{100, 250, 75, 300}
	srv, segments, _ := segmentServer(t, sizes, 0, -1)
	defer srv.Close()

	fs := afero.NewMemMapFs()
	a := NewAssembler(fs, "/tmp/hls", "", 3)
	sizeMB, err := a.Assemble(context.Background(), srv.URL+"/media.m3u8", "/cache/item/video_0.mp4", download.FetchOptions{IsVideo: true})
	require.NoError(t, err)

	got, err := afero.ReadFile(fs, "/cache/item/video_0.mp4")
	require.NoError(t, err)

	var want []byte
	for _, seg := range segments {
		want = append(want, seg...)
	}
	assert.Equal(t, len(want), len(got), "output must be exactly the sum of segment lengths")
	assert.Equal(t, want, got, "segments must be concatenated in playlist order")
	assert.Equal(t, float64(len(want))/(1<<20), sizeMB)

	assert.Zero(t, workspacesUnder(t, fs, "/tmp/hls"), "workspace must be removed on success")
}

func TestAssembleByteExactWithInit(t *testing.T) {
	sizes := []int{64, 128}
	srv, segments, initData := segmentServer(t, sizes, 48, -1)
	defer srv.Close()

	fs := afero.NewMemMapFs()
	a := NewAssembler(fs, "/tmp/hls", "", 2)
	_, err := a.Assemble(context.Background(), srv.URL+"/media.m3u8", "/cache/item/video_0.mp4", download.FetchOptions{IsVideo: true})
	require.NoError(t, err)

	got, err := afero.ReadFile(fs, "/cache/item/video_0.mp4")
	require.NoError(t, err)

	want := append([]byte{}, initData...)
	for _, seg := range segments {
		want = append(want, seg...)
	}
	assert.Equal(t, len(initData)+sizes[0]+sizes[1], len(got))
	assert.Equal(t, want, got, "init segment bytes must come first")
}

func TestAssembleMasterPlaylistVideoOnlyDegradation(t *testing.T) {
	// Master with a separate audio rendition but no ffmpeg configured:
	// delivery degrades to the video-only merged stream, not a failure.
	sizes := []int{100, 100}
	srv, segments, _ := segmentServer(t, sizes, 0, -1)
	defer srv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "#EXTM3U\n#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"a\",URI=\"%s/media.m3u8\"\n#EXT-X-STREAM-INF:BANDWIDTH=1\n%s/media.m3u8\n", srv.URL, srv.URL)
	})
	master := httptest.NewServer(mux)
	defer master.Close()

	fs := afero.NewMemMapFs()
	a := NewAssembler(fs, "/tmp/hls", "", 2)
	_, err := a.Assemble(context.Background(), master.URL+"/master.m3u8", "/cache/item/video_0.mp4", download.FetchOptions{IsVideo: true})
	require.NoError(t, err, "remux unavailability must never fail the download")

	got, err := afero.ReadFile(fs, "/cache/item/video_0.mp4")
	require.NoError(t, err)
	assert.Equal(t, len(segments[0])+len(segments[1]), len(got))
}

func TestAssembleFailedSegmentCleansWorkspace(t *testing.T) {
	sizes := []int{100, 100, 100}
	srv, _, _ := segmentServer(t, sizes, 0, 1)
	defer srv.Close()

	fs := afero.NewMemMapFs()
	a := NewAssembler(fs, "/tmp/hls", "", 2)
	_, err := a.Assemble(context.Background(), srv.URL+"/media.m3u8", "/cache/item/video_0.mp4", download.FetchOptions{IsVideo: true})
	require.Error(t, err)

	assert.Zero(t, workspacesUnder(t, fs, "/tmp/hls"), "workspace must be removed on failure too")
	exists, _ := afero.Exists(fs, "/cache/item/video_0.mp4")
	assert.False(t, exists)
}

func TestAssembleEmptyPlaylistFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/empty.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-ENDLIST\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewAssembler(afero.NewMemMapFs(), "/tmp/hls", "", 2)
	_, err := a.Assemble(context.Background(), srv.URL+"/empty.m3u8", "/cache/v.mp4", download.FetchOptions{})
	assert.Error(t, err)
}
