package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// Mock implementations for testing

type mockCatalog struct {
	mu        sync.Mutex
	songs     map[string]*Song
	nextID    int
	createErr error
	streamErr error

	createCalls    int
	setStreamCalls int
	setKeyCalls    int
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{songs: make(map[string]*Song)}
}

func (m *mockCatalog) add(song *Song) {
	m.songs[song.ID] = song
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if song, ok := m.songs[id]; ok {
		return song, nil
	}
	return nil, ErrSongNotFound
}

func (m *mockCatalog) GetByExternalKey(_ context.Context, key string) (*Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, song := range m.songs {
		if song.ExternalKey == key {
			return song, nil
		}
	}
	return nil, ErrSongNotFound
}

func (m *mockCatalog) FindByTitle(_ context.Context, title string) (*Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, song := range m.songs {
		if strings.Contains(strings.ToLower(song.Title), strings.ToLower(title)) {
			return song, nil
		}
	}
	return nil, ErrSongNotFound
}

func (m *mockCatalog) Create(_ context.Context, song *Song) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	song.ID = strings.Repeat("0", 23) + string(rune('0'+m.nextID))
	m.songs[song.ID] = song
	return nil
}

func (m *mockCatalog) SetExternalKey(_ context.Context, id, key, thumb, coverArt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setKeyCalls++
	song, ok := m.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	if song.ExternalKey == "" {
		song.ExternalKey = key
		song.Thumb = thumb
		song.CoverArt = coverArt
	}
	return nil
}

func (m *mockCatalog) SetStream(_ context.Context, id, url string, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStreamCalls++
	if m.streamErr != nil {
		return m.streamErr
	}
	song, ok := m.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	song.StreamURL = url
	song.LastFetchedAt = fetchedAt
	return nil
}

type mockSearcher struct {
	mu      sync.Mutex
	match   *SearchMatch
	err     error
	calls   int
	queries []string
}

func (m *mockSearcher) SearchBest(_ context.Context, title string) (*SearchMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.queries = append(m.queries, title)
	if m.err != nil {
		return nil, m.err
	}
	return m.match, nil
}

type mockExtractor struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
	block chan struct{}
}

func (m *mockExtractor) Extract(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return "", m.err
	}
	return m.url, nil
}

func (m *mockExtractor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]string)}
}

func (m *mockCache) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.entries[key]
	return url, ok
}

func (m *mockCache) Add(key, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = url
}

func (m *mockCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type testFixture struct {
	config    *Config
	catalog   *mockCatalog
	search    *mockSearcher
	extractor *mockExtractor
	cache     *mockCache
	resolver  *Resolver
	now       time.Time
}

func newFixture() *testFixture {
	f := &testFixture{
		config:    DefaultConfig(),
		catalog:   newMockCatalog(),
		search:    &mockSearcher{},
		extractor: &mockExtractor{url: "https://cdn.example/stream1"},
		cache:     newMockCache(),
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.resolver = NewResolver(f.config, f.catalog, f.search, f.extractor, f.cache, zap.NewNop())
	f.resolver.now = func() time.Time { return f.now }
	return f
}

func TestResolver_MissingReference(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.ResolveAudio(context.Background(), "", "  ")
	if !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
	if f.search.calls != 0 || f.extractor.callCount() != 0 {
		t.Error("no external calls expected for missing input")
	}
}

func TestResolver_FreshPersistentRecordIsIdempotent(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:            "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:         "Sunset Vibes",
		ExternalKey:   "abc123XYZ_9",
		StreamURL:     "https://cdn.example/cached",
		LastFetchedAt: f.now.Add(-10 * time.Minute),
	})

	for i := 0; i < 2; i++ {
		result, err := f.resolver.ResolveAudio(context.Background(), "64fe3a9b1c2d3e4f5a6b7c8d", "")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if result.AudioURL != "https://cdn.example/cached" {
			t.Errorf("resolve %d: got %q", i, result.AudioURL)
		}
		if result.Source != SourcePersistent {
			t.Errorf("resolve %d: source = %v, want persistent", i, result.Source)
		}
	}

	if f.extractor.callCount() != 0 {
		t.Errorf("extractor called %d times, want 0", f.extractor.callCount())
	}
}

func TestResolver_UnknownTitleSearchesAndExtractsOnce(t *testing.T) {
	f := newFixture()
	f.search.match = &SearchMatch{
		ExternalKey: "abc123XYZ_9",
		Title:       "Sunset Vibes (Official Video)",
		Thumb:       "https://img.example/thumb.jpg",
	}

	result, err := f.resolver.ResolveAudio(context.Background(), "", "Sunset Vibes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.AudioURL != "https://cdn.example/stream1" {
		t.Errorf("audioUrl = %q", result.AudioURL)
	}
	if result.Source != SourceExtraction {
		t.Errorf("source = %v, want extraction", result.Source)
	}
	if f.search.calls != 1 {
		t.Errorf("search calls = %d, want 1", f.search.calls)
	}
	if f.extractor.callCount() != 1 {
		t.Errorf("extractor calls = %d, want 1", f.extractor.callCount())
	}
	if f.catalog.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", f.catalog.createCalls)
	}

	// A follow-up resolution by the resulting external key must not extract
	// again: the persisted record is fresh now.
	result, err = f.resolver.ResolveAudio(context.Background(), "abc123XYZ_9", "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if result.Source != SourcePersistent {
		t.Errorf("second source = %v, want persistent", result.Source)
	}
	if f.extractor.callCount() != 1 {
		t.Errorf("extractor calls after second resolve = %d, want 1", f.extractor.callCount())
	}
}

func TestResolver_StaleRecordTriggersExtraction(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:            "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:         "Old Song",
		ExternalKey:   "oldkey12345",
		StreamURL:     "https://cdn.example/stale",
		LastFetchedAt: f.now.Add(-3 * time.Hour),
	})

	result, err := f.resolver.ResolveAudio(context.Background(), "64fe3a9b1c2d3e4f5a6b7c8d", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.AudioURL != "https://cdn.example/stream1" {
		t.Errorf("audioUrl = %q, want the freshly extracted URL", result.AudioURL)
	}
	if f.extractor.callCount() != 1 {
		t.Errorf("extractor calls = %d, want 1", f.extractor.callCount())
	}
	if f.catalog.setStreamCalls != 1 {
		t.Errorf("stream persists = %d, want 1", f.catalog.setStreamCalls)
	}
	if url, ok := f.cache.Get("oldkey12345"); !ok || url != "https://cdn.example/stream1" {
		t.Error("volatile cache not written through")
	}
}

func TestResolver_StaleRecordServedFromVolatileCache(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:            "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:         "Old Song",
		ExternalKey:   "oldkey12345",
		StreamURL:     "https://cdn.example/stale",
		LastFetchedAt: f.now.Add(-3 * time.Hour),
	})
	f.cache.Add("oldkey12345", "https://cdn.example/volatile")

	result, err := f.resolver.ResolveAudio(context.Background(), "64fe3a9b1c2d3e4f5a6b7c8d", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != SourceVolatile {
		t.Errorf("source = %v, want volatile", result.Source)
	}
	if result.AudioURL != "https://cdn.example/volatile" {
		t.Errorf("audioUrl = %q", result.AudioURL)
	}
	if f.extractor.callCount() != 0 {
		t.Errorf("extractor calls = %d, want 0", f.extractor.callCount())
	}
}

func TestResolver_TransientMode(t *testing.T) {
	f := newFixture()
	f.config.Catalog.NoPersist = true
	f.search.match = &SearchMatch{ExternalKey: "abc123XYZ_9", Title: "Sunset Vibes"}

	for i := 0; i < 2; i++ {
		result, err := f.resolver.ResolveAudio(context.Background(), "", "Sunset Vibes")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if result.AudioURL != "https://cdn.example/stream1" {
			t.Errorf("resolve %d: audioUrl = %q", i, result.AudioURL)
		}
		if !result.Song.Transient() {
			t.Errorf("resolve %d: expected a transient song", i)
		}
	}

	if f.extractor.callCount() != 1 {
		t.Errorf("extractor calls = %d, want 1 (second serve from volatile cache)", f.extractor.callCount())
	}
	if f.catalog.createCalls != 0 {
		t.Errorf("create calls = %d, want 0 in transient mode", f.catalog.createCalls)
	}
	if f.catalog.setStreamCalls != 0 {
		t.Errorf("stream persists = %d, want 0 in transient mode", f.catalog.setStreamCalls)
	}
}

func TestResolver_BackfillsMissingExternalKey(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:    "64fe3a9b1c2d3e4f5a6b7c8d",
		Title: "Sunset Vibes",
	})
	f.search.match = &SearchMatch{
		ExternalKey: "abc123XYZ_9",
		Title:       "Sunset Vibes (Official Video)",
		Thumb:       "https://img.example/thumb.jpg",
	}

	result, err := f.resolver.ResolveAudio(context.Background(), "", "Sunset Vibes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Song.ExternalKey != "abc123XYZ_9" {
		t.Errorf("externalKey = %q, want backfilled", result.Song.ExternalKey)
	}
	if f.catalog.setKeyCalls != 1 {
		t.Errorf("setKey calls = %d, want 1", f.catalog.setKeyCalls)
	}
	if f.extractor.callCount() != 1 {
		t.Errorf("extractor calls = %d, want 1", f.extractor.callCount())
	}
}

func TestResolver_NoSearchMatchIsTerminal(t *testing.T) {
	f := newFixture()
	f.search.match = nil

	_, err := f.resolver.ResolveAudio(context.Background(), "", "zzqqnonexistent")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if f.extractor.callCount() != 0 {
		t.Error("extractor must not run without an external key")
	}
}

func TestResolver_SearchFailureIsTerminal(t *testing.T) {
	f := newFixture()
	f.search.err = errors.New("upstream down")

	_, err := f.resolver.ResolveAudio(context.Background(), "", "Sunset Vibes")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestResolver_ExtractionFailure(t *testing.T) {
	f := newFixture()
	f.search.match = &SearchMatch{ExternalKey: "abc123XYZ_9", Title: "Sunset Vibes"}
	f.extractor.err = errors.New("yt-dlp exploded")

	_, err := f.resolver.ResolveAudio(context.Background(), "", "Sunset Vibes")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if f.cache.Len() != 0 {
		t.Error("nothing may be cached on extraction failure")
	}
	if f.catalog.setStreamCalls != 0 {
		t.Error("nothing may be persisted on extraction failure")
	}
}

func TestResolver_PersistFailureDoesNotFailResponse(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:          "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:       "Sunset Vibes",
		ExternalKey: "abc123XYZ_9",
	})
	f.catalog.streamErr = errors.New("disk full")

	result, err := f.resolver.ResolveAudio(context.Background(), "64fe3a9b1c2d3e4f5a6b7c8d", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.AudioURL != "https://cdn.example/stream1" {
		t.Errorf("audioUrl = %q", result.AudioURL)
	}
	if url, ok := f.cache.Get("abc123XYZ_9"); !ok || url != "https://cdn.example/stream1" {
		t.Error("volatile cache must be written even when persistence fails")
	}
}

func TestResolver_ConcurrentRequestsShareOneExtraction(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:          "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:       "Sunset Vibes",
		ExternalKey: "abc123XYZ_9",
	})
	f.extractor.block = make(chan struct{})

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.resolver.ResolveAudio(context.Background(), "64fe3a9b1c2d3e4f5a6b7c8d", "")
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = result.AudioURL
		}(i)
	}

	// Let every goroutine reach the extractor before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(f.extractor.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if results[i] != "https://cdn.example/stream1" {
			t.Errorf("request %d: audioUrl = %q", i, results[i])
		}
	}

	if got := f.extractor.callCount(); got != 1 {
		t.Errorf("extractor calls = %d, want 1 shared extraction", got)
	}
}

func TestResolver_SecondaryTitleLookup(t *testing.T) {
	f := newFixture()
	f.catalog.add(&Song{
		ID:            "64fe3a9b1c2d3e4f5a6b7c8d",
		Title:         "Sunset Vibes",
		ExternalKey:   "abc123XYZ_9",
		StreamURL:     "https://cdn.example/cached",
		LastFetchedAt: f.now.Add(-5 * time.Minute),
	})

	// The id misses as free text; the title parameter finds the record.
	result, err := f.resolver.ResolveAudio(context.Background(), "something else entirely", "sunset vibes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Source != SourcePersistent {
		t.Errorf("source = %v, want persistent", result.Source)
	}
}
