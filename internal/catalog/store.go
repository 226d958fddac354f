// Package catalog implements the persistent song record store on sqlite,
// fronted by an in-memory external key index.
package catalog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"wevibe/internal/core"
	"wevibe/pkg/fuzzy"
)

const schema = `
CREATE TABLE IF NOT EXISTS songs (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	external_key    TEXT NOT NULL DEFAULT '',
	thumb           TEXT NOT NULL DEFAULT '',
	cover_art       TEXT NOT NULL DEFAULT '',
	stream_url      TEXT NOT NULL DEFAULT '',
	last_fetched_at INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS songs_external_key
	ON songs(external_key) WHERE external_key != '';
CREATE INDEX IF NOT EXISTS songs_title ON songs(title COLLATE NOCASE);
`

const songColumns = "id, title, external_key, thumb, cover_art, stream_url, last_fetched_at, created_at"

// candidateLimit caps how many title matches are ranked in FindByTitle.
const candidateLimit = 10

const bloomFalsePositiveRate = 0.001

// Store is the sqlite-backed CatalogStore.
type Store struct {
	db         *sql.DB
	logger     *zap.Logger
	normalizer *fuzzy.Normalizer
	index      *keyIndex
}

// Open opens (and if needed creates) the catalog database at path.
func Open(path string, maxIndexKeys int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		normalizer: fuzzy.NewNormalizer(),
		index:      newKeyIndex(maxIndexKeys, bloomFalsePositiveRate),
	}

	if err := s.loadIndex(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetByID(ctx context.Context, id string) (*core.Song, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+songColumns+" FROM songs WHERE id = ?", id)
	return scanSong(row)
}

func (s *Store) GetByExternalKey(ctx context.Context, key string) (*core.Song, error) {
	if !s.index.MayHave(key) {
		return nil, core.ErrSongNotFound
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+songColumns+" FROM songs WHERE external_key = ?", key)
	song, err := scanSong(row)
	if err != nil {
		return nil, err
	}

	s.index.Add(key)
	return song, nil
}

// FindByTitle returns the catalog record whose title best matches the query,
// using a case-insensitive substring scan ranked by fuzzy similarity.
func (s *Store) FindByTitle(ctx context.Context, title string) (*core.Song, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+songColumns+` FROM songs
		 WHERE title LIKE '%' || ? || '%' ESCAPE '\' COLLATE NOCASE
		 ORDER BY created_at DESC LIMIT ?`,
		escapeLike(title), candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("title query: %w", err)
	}
	defer rows.Close()

	var (
		best      *core.Song
		bestScore float64
	)
	query := s.normalizer.NormalizeTitle(title)

	for rows.Next() {
		song, err := scanSongRows(rows)
		if err != nil {
			return nil, err
		}

		score := s.normalizer.CalculateSimilarity(query, s.normalizer.NormalizeTitle(song.Title))
		if best == nil || score > bestScore {
			best = song
			bestScore = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("title scan: %w", err)
	}

	if best == nil {
		return nil, core.ErrSongNotFound
	}
	return best, nil
}

func (s *Store) Create(ctx context.Context, song *core.Song) error {
	song.ID = newSongID()
	song.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO songs (id, title, external_key, thumb, cover_art, stream_url, last_fetched_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.Title, song.ExternalKey, song.Thumb, song.CoverArt,
		song.StreamURL, unixOrZero(song.LastFetchedAt), song.CreatedAt.Unix())
	if err != nil {
		song.ID = ""
		return fmt.Errorf("insert song: %w", err)
	}

	s.index.Add(song.ExternalKey)
	return nil
}

// SetExternalKey backfills the key and display art on an existing record.
// A record that already carries a different non-empty key is left untouched.
func (s *Store) SetExternalKey(ctx context.Context, id, key, thumb, coverArt string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE songs SET external_key = ?, thumb = ?, cover_art = ?
		 WHERE id = ? AND (external_key = '' OR external_key = ?)`,
		key, thumb, coverArt, id, key)
	if err != nil {
		return fmt.Errorf("backfill external key: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		// Existing key differs; keys are immutable once set.
		s.logger.Warn("Refusing to overwrite external key",
			zap.String("songID", id), zap.String("externalKey", key))
		return nil
	}

	s.index.Add(key)
	return nil
}

// SetStream writes the stream URL and its fetch timestamp together.
func (s *Store) SetStream(ctx context.Context, id, url string, fetchedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE songs SET stream_url = ?, last_fetched_at = ? WHERE id = ?",
		url, fetchedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("persist stream: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrSongNotFound
	}
	return nil
}

// IndexSize returns the number of external keys currently indexed.
func (s *Store) IndexSize() int {
	return s.index.Size()
}

func (s *Store) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT external_key FROM songs WHERE external_key != ''")
	if err != nil {
		return fmt.Errorf("load key index: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.index.Load(keys)
	s.logger.Debug("Loaded external key index", zap.Int("keys", len(keys)))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row *sql.Row) (*core.Song, error) {
	song, err := scanFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSongNotFound
	}
	return song, err
}

func scanSongRows(rows *sql.Rows) (*core.Song, error) {
	return scanFrom(rows)
}

func scanFrom(sc rowScanner) (*core.Song, error) {
	var (
		song        core.Song
		lastFetched int64
		created     int64
	)
	if err := sc.Scan(&song.ID, &song.Title, &song.ExternalKey, &song.Thumb,
		&song.CoverArt, &song.StreamURL, &lastFetched, &created); err != nil {
		return nil, err
	}

	if lastFetched > 0 {
		song.LastFetchedAt = time.Unix(lastFetched, 0)
	}
	song.CreatedAt = time.Unix(created, 0)
	return &song, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// newSongID generates a 24 character hexadecimal catalog identifier.
func newSongID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("song id entropy: %v", err))
	}
	return hex.EncodeToString(b[:])
}
