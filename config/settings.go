// Package config loads and persists the application settings JSON file,
// creating defaults on first run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LargeMediaCeilingMB is the fixed ceiling for the large-media threshold.
// Configured values above it are clamped down so a typo cannot disable
// forced caching for files too big to deliver as remote links.
const LargeMediaCeilingMB = 100.0

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server ServerSettings `json:"server"`
	Fetch  FetchSettings  `json:"fetch"`
	Log    LogConfig      `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// FetchSettings is the configuration surface the fetch engine consumes.
type FetchSettings struct {
	// MaxTotalSizeMB rejects any record whose largest video exceeds it.
	// 0 means unlimited.
	MaxTotalSizeMB float64 `json:"maxTotalSizeMb"`
	// LargeMediaThresholdMB forces local caching of videos above it even
	// when under the hard limit. 0 disables forced caching entirely;
	// values above LargeMediaCeilingMB are clamped.
	LargeMediaThresholdMB  float64 `json:"largeMediaThresholdMb"`
	CacheDirectory         string  `json:"cacheDirectory"`
	PreDownloadAll         bool    `json:"preDownloadAll"`
	MaxConcurrentDownloads int     `json:"maxConcurrentDownloads"`
	SegmentConcurrency     int     `json:"segmentConcurrency"`
	FFmpegPath             string  `json:"ffmpegPath"`
	UserAgent              string  `json:"userAgent"`
}

// ClampedLargeMediaThreshold applies the fixed ceiling.
func (f FetchSettings) ClampedLargeMediaThreshold() float64 {
	if f.LargeMediaThresholdMB > LargeMediaCeilingMB {
		return LargeMediaCeilingMB
	}
	return f.LargeMediaThresholdMB
}

// LogConfig represents file logging with rotation.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 8642},
		Fetch: FetchSettings{
			MaxTotalSizeMB:         0,  // no hard limit
			LargeMediaThresholdMB:  30, // force-cache videos above 30 MB
			CacheDirectory:         filepath.Join("cache", "media"),
			PreDownloadAll:         false,
			MaxConcurrentDownloads: 5,
			SegmentConcurrency:     10,
			FFmpegPath:             "ffmpeg",
		},
		Log: LogConfig{
			File:       filepath.Join("cache", "logs", "mediafetch.log"),
			MaxSize:    50, // MB per file
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
// Missing fields keep their defaults, so old config files survive upgrades.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if settings.Fetch.MaxConcurrentDownloads < 1 {
		settings.Fetch.MaxConcurrentDownloads = 1
	}
	return settings, nil
}

// Save writes settings atomically: temp file then rename.
func (m *Manager) Save(s Settings) error {
	if err := m.EnsureDir(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
