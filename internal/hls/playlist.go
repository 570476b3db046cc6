// Package hls reconstructs fragmented HLS streams: manifest parsing, bounded
// segment fan-out, byte-exact concatenation, and optional stream-copy remux
// of separate video/audio renditions.
package hls

import (
	"net/url"
	"strings"
)

// MasterInfo is the result of scanning a master playlist.
type MasterInfo struct {
	VideoPlaylistURL string
	AudioPlaylistURL string // empty when the stream has no separate audio rendition
}

// MediaPlaylist is an ordered segment list with an optional initialization
// segment.
type MediaPlaylist struct {
	InitSegmentURL string
	SegmentURLs    []string
}

// ParseMaster scans a master playlist for the video variant and an optional
// audio rendition. An empty VideoPlaylistURL means the body was not a master
// playlist and the original URL should be treated as a media playlist
// directly.
func ParseMaster(body string, base *url.URL) MasterInfo {
	var info MasterInfo
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXT-X-MEDIA:") && strings.Contains(line, "TYPE=AUDIO") {
				if uri := attributeValue(line, "URI"); uri != "" && info.AudioPlaylistURL == "" {
					info.AudioPlaylistURL = resolve(base, uri)
				}
			}
			continue
		}
		if strings.Contains(line, ".m3u8") && info.VideoPlaylistURL == "" {
			info.VideoPlaylistURL = resolve(base, line)
		}
	}
	return info
}

// ParseMedia extracts the init segment (EXT-X-MAP) and the ordered segment
// URIs from a media playlist. Relative URIs are resolved against the
// playlist's own base URL.
func ParseMedia(body string, base *url.URL) MediaPlaylist {
	var pl MediaPlaylist
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXT-X-MAP:") {
				if uri := attributeValue(line, "URI"); uri != "" {
					pl.InitSegmentURL = resolve(base, uri)
				}
			}
			continue
		}
		pl.SegmentURLs = append(pl.SegmentURLs, resolve(base, line))
	}
	return pl
}

// attributeValue pulls a quoted KEY="value" attribute out of a playlist tag
// line.
func attributeValue(line, key string) string {
	marker := key + `="`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// resolve joins a possibly-relative playlist URI against the playlist base.
func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
