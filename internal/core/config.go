package core

import (
	"time"
)

type Config struct {
	Catalog   CatalogConfig
	YouTube   YouTubeConfig
	Extractor ExtractorConfig
	Cache     CacheConfig
	Spotify   SpotifyConfig
	Server    ServerConfig
	Log       LogConfig
}

type CatalogConfig struct {
	Path string
	// NoPersist disables the catalog entirely; every resolution builds a
	// transient record and only the volatile cache dedupes extractions.
	NoPersist bool
	// MaxIndexKeys bounds the in-memory external key index.
	MaxIndexKeys int
}

type YouTubeConfig struct {
	APIKey  string
	BaseURL string
}

type ExtractorConfig struct {
	Path    string
	Timeout time.Duration
}

type CacheConfig struct {
	// StaleThreshold is the maximum age of a persisted stream URL.
	StaleThreshold time.Duration
	// VolatileTTL is the lifetime of an in-process cache entry.
	VolatileTTL time.Duration
	// VolatileSize bounds the in-process cache.
	VolatileSize int
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path:         "./wevibe.db",
			MaxIndexKeys: 100000,
		},
		YouTube: YouTubeConfig{
			BaseURL: "https://www.googleapis.com/youtube/v3",
		},
		Extractor: ExtractorConfig{
			Path:    "yt-dlp",
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			StaleThreshold: 2 * time.Hour,
			VolatileTTL:    30 * time.Minute,
			VolatileSize:   4096,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
