// Package mediakind classifies media URLs by extension so the scheduler can
// route them to the right fetch pipeline. Classification is purely lexical;
// content sniffing happens later, once a response is in hand.
package mediakind

import "strings"

// Kind is the fetch pipeline a URL should be routed to.
type Kind int

const (
	// KindVideo is the default: unknown extensions are treated as
	// streamable video rather than rejected.
	KindVideo Kind = iota
	KindImage
	KindHLS
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindHLS:
		return "hls"
	default:
		return "video"
	}
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg"}

var videoExtensions = []string{".mp4", ".mkv", ".mov", ".avi", ".flv", ".f4v", ".webm", ".wmv", ".m4v"}

// Classify returns the Kind for a raw URL. HLS manifests win over everything,
// then images, then known video containers; anything else defaults to video.
func Classify(rawURL string) Kind {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, ".m3u8") {
		return KindHLS
	}
	if matchesExtension(lower, imageExtensions) {
		return KindImage
	}
	if matchesExtension(lower, videoExtensions) {
		return KindVideo
	}
	return KindVideo
}

// IsImage reports whether the URL classifies as an image.
func IsImage(rawURL string) bool {
	return Classify(rawURL) == KindImage
}

// HasMediaExtension reports whether the URL names a recognizable media asset
// outright: an HLS manifest or a known image/video extension. Unlike Classify
// it does not default unknown URLs to video.
func HasMediaExtension(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, ".m3u8") {
		return true
	}
	return matchesExtension(lower, imageExtensions) || matchesExtension(lower, videoExtensions)
}

// matchesExtension checks each extension at end-of-path or immediately before
// a query string, so "a.jpg?sig=x" matches but "a.jpg.html" does not.
func matchesExtension(lowerURL string, exts []string) bool {
	path := lowerURL
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
