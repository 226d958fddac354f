// Package importer seeds the catalog from a Spotify playlist. It is a batch
// caller of the same search/catalog primitives the resolver uses: each track
// is resolved to a YouTube key by title and upserted into the catalog.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"wevibe/internal/core"
)

// MaxImportTracks caps one import run to protect the search API quota.
const MaxImportTracks = 25

type Summary struct {
	PlaylistName string
	Total        int
	Imported     int
	Existing     int
	Skipped      int
}

type Importer struct {
	config  *core.SpotifyConfig
	catalog core.CatalogStore
	search  core.TitleSearcher
	logger  *zap.Logger

	// fetch retrieves the playlist; replaced in tests.
	fetch func(ctx context.Context, playlistID string) (*spotify.FullPlaylist, error)
}

func New(config *core.SpotifyConfig, catalog core.CatalogStore, search core.TitleSearcher, logger *zap.Logger) *Importer {
	im := &Importer{
		config:  config,
		catalog: catalog,
		search:  search,
		logger:  logger,
	}
	im.fetch = im.fetchPlaylist
	return im
}

// ImportPlaylist imports up to MaxImportTracks tracks of the playlist.
// Tracks with no YouTube match are skipped, tracks whose key is already in
// the catalog are left alone.
func (im *Importer) ImportPlaylist(ctx context.Context, playlistID string) (*Summary, error) {
	playlist, err := im.fetch(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}

	summary := &Summary{
		PlaylistName: playlist.Name,
		Total:        len(playlist.Tracks.Tracks),
	}

	tracks := playlist.Tracks.Tracks
	if len(tracks) > MaxImportTracks {
		tracks = tracks[:MaxImportTracks]
	}

	for i := range tracks {
		track := &tracks[i].Track
		if track.Name == "" {
			summary.Skipped++
			continue
		}

		query := importQuery(track)

		match, err := im.search.SearchBest(ctx, query)
		if err != nil {
			im.logger.Warn("Title search failed during import",
				zap.String("query", query), zap.Error(err))
			summary.Skipped++
			continue
		}
		if match == nil {
			im.logger.Debug("No YouTube match for track", zap.String("query", query))
			summary.Skipped++
			continue
		}

		if _, err := im.catalog.GetByExternalKey(ctx, match.ExternalKey); err == nil {
			summary.Existing++
			continue
		}

		song := &core.Song{
			Title:       match.Title,
			ExternalKey: match.ExternalKey,
			Thumb:       match.Thumb,
			CoverArt:    match.Thumb,
		}
		if song.Title == "" {
			song.Title = query
		}
		if song.Thumb == "" && len(track.Album.Images) > 0 {
			song.Thumb = track.Album.Images[0].URL
			song.CoverArt = track.Album.Images[0].URL
		}
		if song.CoverArt == "" {
			song.CoverArt = core.PlaceholderCoverArt
		}

		if err := im.catalog.Create(ctx, song); err != nil {
			im.logger.Warn("Song create failed during import",
				zap.String("title", song.Title), zap.Error(err))
			summary.Skipped++
			continue
		}

		im.logger.Info("Imported song",
			zap.String("songID", song.ID),
			zap.String("title", song.Title),
			zap.String("externalKey", song.ExternalKey))
		summary.Imported++
	}

	return summary, nil
}

func (im *Importer) fetchPlaylist(ctx context.Context, playlistID string) (*spotify.FullPlaylist, error) {
	creds := &clientcredentials.Config{
		ClientID:     im.config.ClientID,
		ClientSecret: im.config.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	token, err := creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify token: %w", err)
	}

	client := spotify.New(spotifyauth.New().Client(ctx, token))
	return client.GetPlaylist(ctx, spotify.ID(playlistID))
}

// importQuery builds the "Title - Artist, Artist" search query used by the
// catalog import.
func importQuery(track *spotify.FullTrack) string {
	names := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		if artist.Name != "" {
			names = append(names, artist.Name)
		}
	}
	if len(names) == 0 {
		return track.Name
	}
	return fmt.Sprintf("%s - %s", track.Name, strings.Join(names, ", "))
}
