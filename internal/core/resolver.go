package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver turns a song reference into a playable audio stream URL. It owns
// the lookup → search → cache → extract pipeline and is safe for concurrent
// use; extractions are collapsed per external key so identical requests
// share one in-flight call.
type Resolver struct {
	config    *Config
	catalog   CatalogStore
	search    TitleSearcher
	extractor StreamExtractor
	cache     AudioCache
	logger    *zap.Logger

	flight singleflight.Group
	now    func() time.Time
}

func NewResolver(
	config *Config,
	catalog CatalogStore,
	search TitleSearcher,
	extractor StreamExtractor,
	cache AudioCache,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		config:    config,
		catalog:   catalog,
		search:    search,
		extractor: extractor,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
	}
}

// ResolveAudio resolves the reference to a stream URL. At least one of id
// and title must be non-empty. Terminal failures are ErrMissingReference,
// ErrNoMatch and ErrExtraction; anything else is an internal failure.
func (r *Resolver) ResolveAudio(ctx context.Context, id, title string) (*StreamResult, error) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)

	if id == "" && title == "" {
		return nil, ErrMissingReference
	}

	song := r.lookup(ctx, id, title)

	if song != nil && song.ExternalKey == "" {
		r.backfillExternalKey(ctx, song, title)
	}

	if song == nil {
		created, err := r.searchAndCreate(ctx, id, title)
		if err != nil {
			return nil, err
		}
		song = created
	}

	if song.ExternalKey == "" {
		return nil, ErrNoMatch
	}

	now := r.now()

	if !r.config.Catalog.NoPersist && !song.Transient() &&
		!song.StreamStale(now, r.config.Cache.StaleThreshold) {
		r.logger.Debug("Serving from catalog cache",
			zap.String("songID", song.ID),
			zap.String("externalKey", song.ExternalKey))
		return &StreamResult{AudioURL: song.StreamURL, Source: SourcePersistent, Song: song}, nil
	}

	if url, ok := r.cache.Get(song.ExternalKey); ok {
		r.logger.Debug("Serving from volatile cache",
			zap.String("externalKey", song.ExternalKey))
		return &StreamResult{AudioURL: url, Source: SourceVolatile, Song: song}, nil
	}

	url, shared, err := r.extractAndStore(ctx, song)
	if err != nil {
		return nil, err
	}

	source := SourceExtraction
	if shared {
		source = SourceShared
	}

	return &StreamResult{AudioURL: url, Source: source, Song: song}, nil
}

// lookup tries the catalog by the classified reference, then by the title
// parameter. Catalog read failures are logged and treated as misses.
func (r *Resolver) lookup(ctx context.Context, id, title string) *Song {
	var song *Song

	if id != "" {
		var err error
		switch kind := Classify(id); kind {
		case RefCatalogID:
			song, err = r.catalog.GetByID(ctx, id)
		case RefExternalKey:
			song, err = r.catalog.GetByExternalKey(ctx, id)
		case RefFreeText:
			song, err = r.catalog.FindByTitle(ctx, id)
		}
		if err != nil && !errors.Is(err, ErrSongNotFound) {
			r.logger.Warn("Catalog lookup failed", zap.String("ref", id), zap.Error(err))
		}
	}

	if song == nil && title != "" {
		found, err := r.catalog.FindByTitle(ctx, title)
		if err != nil && !errors.Is(err, ErrSongNotFound) {
			r.logger.Warn("Catalog title lookup failed", zap.String("title", title), zap.Error(err))
		}
		song = found
	}

	return song
}

// backfillExternalKey fixes a catalog record that predates key resolution.
// The search is best-effort: on a miss the record stays as it was and the
// resolution fails downstream with ErrNoMatch.
func (r *Resolver) backfillExternalKey(ctx context.Context, song *Song, title string) {
	query := title
	if query == "" {
		query = song.Title
	}
	if query == "" {
		return
	}

	match, err := r.search.SearchBest(ctx, query)
	if err != nil {
		r.logger.Warn("Title search failed during backfill",
			zap.String("query", query), zap.Error(err))
		return
	}
	if match == nil {
		return
	}

	song.ExternalKey = match.ExternalKey
	if song.Thumb == "" {
		song.Thumb = match.Thumb
	}
	if song.CoverArt == "" {
		song.CoverArt = match.Thumb
	}

	if !r.config.Catalog.NoPersist && !song.Transient() {
		if err := r.catalog.SetExternalKey(ctx, song.ID, song.ExternalKey, song.Thumb, song.CoverArt); err != nil {
			r.logger.Warn("Best-effort key backfill persist failed",
				zap.String("songID", song.ID), zap.Error(err))
		} else {
			r.logger.Info("Backfilled missing external key",
				zap.String("songID", song.ID),
				zap.String("externalKey", song.ExternalKey))
		}
	}
}

// searchAndCreate resolves an unknown reference through the title search
// service and builds a new record, persisted unless persistence is disabled.
func (r *Resolver) searchAndCreate(ctx context.Context, id, title string) (*Song, error) {
	query := title
	if query == "" {
		query = id
	}

	r.logger.Debug("Resolving unknown reference", zap.String("query", query))

	match, err := r.search.SearchBest(ctx, query)
	if err != nil {
		r.logger.Warn("Title search failed", zap.String("query", query), zap.Error(err))
		return nil, ErrNoMatch
	}
	if match == nil {
		return nil, ErrNoMatch
	}

	song := &Song{
		Title:       match.Title,
		ExternalKey: match.ExternalKey,
		Thumb:       match.Thumb,
		CoverArt:    match.Thumb,
	}
	if song.Title == "" {
		song.Title = query
	}
	if song.CoverArt == "" {
		song.CoverArt = PlaceholderCoverArt
	}

	if r.config.Catalog.NoPersist {
		r.logger.Debug("Created transient song", zap.String("title", song.Title))
		return song, nil
	}

	if err := r.catalog.Create(ctx, song); err != nil {
		// Best-effort: continue with a transient record.
		r.logger.Warn("Song create failed, continuing transient",
			zap.String("title", song.Title), zap.Error(err))
		song.ID = ""
		return song, nil
	}

	r.logger.Info("Created new song",
		zap.String("songID", song.ID),
		zap.String("title", song.Title),
		zap.String("externalKey", song.ExternalKey))
	return song, nil
}

// extractAndStore performs the extraction under singleflight and writes
// through both cache layers. The returned bool reports whether this call
// shared an extraction started by a concurrent request.
func (r *Resolver) extractAndStore(ctx context.Context, song *Song) (string, bool, error) {
	key := song.ExternalKey

	v, err, shared := r.flight.Do(key, func() (interface{}, error) {
		r.logger.Info("Extracting fresh audio stream", zap.String("externalKey", key))

		url, err := r.extractor.Extract(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrExtraction) {
				err = fmt.Errorf("%w: %v", ErrExtraction, err)
			}
			return nil, err
		}

		fetchedAt := r.now()
		if !r.config.Catalog.NoPersist && !song.Transient() {
			if perr := r.catalog.SetStream(ctx, song.ID, url, fetchedAt); perr != nil {
				r.logger.Warn("Best-effort stream persist failed",
					zap.String("songID", song.ID), zap.Error(perr))
			}
		}
		song.StreamURL = url
		song.LastFetchedAt = fetchedAt

		r.cache.Add(key, url)
		return url, nil
	})
	if err != nil {
		return "", false, err
	}

	return v.(string), shared, nil
}
