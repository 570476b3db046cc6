package models

// MetadataRecord is the normalized result a platform parser produces for one
// shared link. The fetch engine enriches it in place and hands it to the
// message-rendering layer; it must not be mutated after that handoff.
//
// Every field has a meaningful zero value so a parser only needs to fill in
// what it knows.
type MetadataRecord struct {
	Title  string `json:"title"`
	Author string `json:"author"`

	// Request context the source platform requires. RefererURL takes
	// precedence over DefaultRefererURL when both are set.
	RefererURL        string            `json:"refererUrl,omitempty"`
	DefaultRefererURL string            `json:"defaultRefererUrl,omitempty"`
	OriginURL         string            `json:"originUrl,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	ExtraHeaders      map[string]string `json:"extraHeaders,omitempty"`
	ProxyURL          string            `json:"proxyUrl,omitempty"`
	UseVideoProxy     bool              `json:"useVideoProxy,omitempty"`
	UseImageProxy     bool              `json:"useImageProxy,omitempty"`

	// Per-record overrides of the global pre-download toggle.
	VideoPreDownload bool `json:"videoPreDownload,omitempty"`
	ImagePreDownload bool `json:"imagePreDownload,omitempty"`

	// Candidate URL lists. Each inner list holds mirrors of one logical
	// asset, ordered by preference.
	VideoURLs [][]string `json:"videoUrls,omitempty"`
	ImageURLs [][]string `json:"imageUrls,omitempty"`

	// SourceURL is the original link the record was parsed from. Used to
	// derive the cache media id.
	SourceURL string `json:"sourceUrl,omitempty"`

	// Fields below are filled by the fetch engine.
	FilePaths        []string  `json:"filePaths,omitempty"`
	VideoSizes       []float64 `json:"videoSizes,omitempty"`
	MaxVideoSizeMB   float64   `json:"maxVideoSizeMb,omitempty"`
	TotalVideoSizeMB float64   `json:"totalVideoSizeMb,omitempty"`
	UseLocalFiles    bool      `json:"useLocalFiles"`
	IsLargeMedia     bool      `json:"isLargeMedia"`
	ExceedsMaxSize   bool      `json:"exceedsMaxSize"`
	HasValidMedia    bool      `json:"hasValidMedia"`
	AccessDenied     bool      `json:"accessDenied,omitempty"`
	FailedVideoCount int       `json:"failedVideoCount"`
	FailedImageCount int       `json:"failedImageCount"`
}

// VideoProxyURL returns the proxy to use for video requests, or "" when the
// record opts out.
func (r *MetadataRecord) VideoProxyURL() string {
	if r.UseVideoProxy {
		return r.ProxyURL
	}
	return ""
}

// ImageProxyURL returns the proxy to use for image requests, or "" when the
// record opts out.
func (r *MetadataRecord) ImageProxyURL() string {
	if r.UseImageProxy {
		return r.ProxyURL
	}
	return ""
}

// Referer returns the effective referer for outgoing requests.
func (r *MetadataRecord) Referer() string {
	if r.RefererURL != "" {
		return r.RefererURL
	}
	return r.DefaultRefererURL
}

// MediaItem is one logical asset submitted to the download scheduler.
// Immutable once built; consumed exactly once.
type MediaItem struct {
	CandidateURLs     []string
	IsVideo           bool
	Headers           map[string]string
	RefererURL        string
	DefaultRefererURL string
	OriginURL         string
	ProxyURL          string
}

// ProbeResult is the outcome of a size/validity probe. A nil SizeMB with a
// nil Status means the resource looked plausible but its size could not be
// determined; callers must treat that as non-fatal.
type ProbeResult struct {
	SizeMB *float64
	Status *int
}

// DownloadResult reports the terminal state of one MediaItem. Index always
// equals the item's submission position so callers can re-align results with
// their original URL lists.
type DownloadResult struct {
	SourceURL string
	FilePath  string
	SizeMB    float64
	Success   bool
	Index     int
	Err       string
}
