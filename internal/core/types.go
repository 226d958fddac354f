package core

import (
	"context"
	"errors"
	"time"
)

// PlaceholderCoverArt is used when a song has no cover art of its own.
const PlaceholderCoverArt = "https://via.placeholder.com/300x300?text=WeVibe+Song"

// Song is a catalog record. A Song with an empty ID is transient: it was
// built for a single resolution and is never written to the catalog.
type Song struct {
	ID            string
	Title         string
	ExternalKey   string
	Thumb         string
	CoverArt      string
	StreamURL     string
	LastFetchedAt time.Time
	CreatedAt     time.Time
}

// Transient reports whether the song exists only for the current request.
func (s *Song) Transient() bool {
	return s.ID == ""
}

// StreamStale reports whether the persisted stream URL must be re-extracted.
// An empty URL or a missing fetch timestamp is always stale.
func (s *Song) StreamStale(now time.Time, threshold time.Duration) bool {
	if s.StreamURL == "" || s.LastFetchedAt.IsZero() {
		return true
	}
	return now.Sub(s.LastFetchedAt) > threshold
}

// SearchMatch is the best result the title search service returned for a
// query.
type SearchMatch struct {
	ExternalKey string
	Title       string
	Thumb       string
}

type ResolveSource int

const (
	// SourcePersistent means the URL came from a fresh catalog record.
	SourcePersistent ResolveSource = iota
	// SourceVolatile means the URL came from the in-process audio cache.
	SourceVolatile
	// SourceExtraction means a new extraction was performed.
	SourceExtraction
	// SourceShared means the request joined an extraction already in flight
	// for the same external key.
	SourceShared
)

func (s ResolveSource) String() string {
	switch s {
	case SourcePersistent:
		return "persistent"
	case SourceVolatile:
		return "volatile"
	case SourceExtraction:
		return "extraction"
	case SourceShared:
		return "shared"
	}
	return "unknown"
}

// StreamResult is the outcome of a successful resolution.
type StreamResult struct {
	AudioURL string
	Source   ResolveSource
	Song     *Song
}

var (
	// ErrMissingReference means the caller supplied neither id nor title.
	ErrMissingReference = errors.New("missing id or title")
	// ErrNoMatch means the lookup/search chain exhausted without producing
	// an external key.
	ErrNoMatch = errors.New("could not resolve external key")
	// ErrExtraction means the stream extractor failed or returned no
	// playable candidate.
	ErrExtraction = errors.New("no playable audio found")
	// ErrSongNotFound is returned by catalog lookups that miss.
	ErrSongNotFound = errors.New("song not found")
)

// CatalogStore is the persistent song record store.
type CatalogStore interface {
	GetByID(ctx context.Context, id string) (*Song, error)
	GetByExternalKey(ctx context.Context, key string) (*Song, error)
	// FindByTitle performs a case-insensitive fuzzy title lookup and
	// returns the closest match.
	FindByTitle(ctx context.Context, title string) (*Song, error)
	// Create persists the song and assigns its ID.
	Create(ctx context.Context, song *Song) error
	// SetExternalKey backfills the external key and display art. A
	// non-empty key already on the record is never overwritten.
	SetExternalKey(ctx context.Context, id, key, thumb, coverArt string) error
	// SetStream writes the stream URL together with its fetch timestamp.
	SetStream(ctx context.Context, id, url string, fetchedAt time.Time) error
}

// TitleSearcher resolves a free-text title to at most one external key.
// A nil match with a nil error means the service found nothing.
type TitleSearcher interface {
	SearchBest(ctx context.Context, title string) (*SearchMatch, error)
}

// StreamExtractor turns an external key into a direct audio stream URL.
type StreamExtractor interface {
	Extract(ctx context.Context, externalKey string) (string, error)
}

// AudioCache is the volatile stream URL cache keyed by external key.
type AudioCache interface {
	Get(key string) (string, bool)
	Add(key, url string)
	Len() int
}
