package parser

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"mediafetch/models"
	"mediafetch/utils/mediakind"
)

// Generic handles bare media links: any URL pointing straight at a video
// file, image file, or HLS manifest. It never fetches the page; the record is
// built from the URL alone. Register it last so platform parsers win.
type Generic struct{}

func NewGeneric() *Generic {
	return &Generic{}
}

// CanParse accepts http(s) URLs with a recognizable media extension.
func (g *Generic) CanParse(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	return mediakind.HasMediaExtension(rawURL)
}

// ExtractLinks returns only the direct media links in the text.
func (g *Generic) ExtractLinks(text string) []string {
	var out []string
	for _, u := range ExtractURLs(text) {
		if g.CanParse(u) {
			out = append(out, u)
		}
	}
	return out
}

// Parse builds a single-item record from the link itself.
func (g *Generic) Parse(ctx context.Context, client *http.Client, rawURL string) (*models.MetadataRecord, error) {
	rec := &models.MetadataRecord{
		Title:     titleFromURL(rawURL),
		SourceURL: rawURL,
	}
	if mediakind.IsImage(rawURL) {
		rec.ImageURLs = [][]string{{rawURL}}
	} else {
		rec.VideoURLs = [][]string{{rawURL}}
	}
	return rec, nil
}

// titleFromURL falls back to the URL host when the path has no usable name.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return u.Host
	}
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	return base
}
