package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wevibe/internal/core"
	"wevibe/internal/youtube"
)

// AudioResolver is the resolution pipeline behind GET /audio.
type AudioResolver interface {
	ResolveAudio(ctx context.Context, id, title string) (*core.StreamResult, error)
}

// Searcher is the multi-result title search behind GET /search.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]youtube.Result, error)
}

func (s *Server) handleAudio(resolver AudioResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		title := r.URL.Query().Get("title")

		start := time.Now()
		result, err := resolver.ResolveAudio(r.Context(), id, title)

		outcome := s.classifyOutcome(err)
		s.metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
		s.metrics.ResolutionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

		if err != nil {
			switch {
			case errors.Is(err, core.ErrMissingReference):
				writeJSON(w, http.StatusBadRequest, errorBody("Missing id or title"))
			case errors.Is(err, core.ErrNoMatch):
				writeJSON(w, http.StatusNotFound, errorBody("Could not resolve YouTube ID"))
			case errors.Is(err, core.ErrExtraction):
				writeJSON(w, http.StatusNotFound, errorBody("No playable audio found"))
			default:
				s.logger.Error("Audio resolution failed",
					zap.String("id", id), zap.String("title", title), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, errorBody("Failed to fetch audio"))
			}
			return
		}

		switch result.Source {
		case core.SourcePersistent, core.SourceVolatile:
			s.metrics.CacheHitsTotal.WithLabelValues(result.Source.String()).Inc()
		case core.SourceExtraction, core.SourceShared:
			s.metrics.ExtractionsTotal.WithLabelValues("success").Inc()
		}

		writeJSON(w, http.StatusOK, map[string]string{"audioUrl": result.AudioURL})
	}
}

func (s *Server) handleSearch(searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("Missing search query"))
			return
		}

		results, err := searcher.Search(r.Context(), query, youtube.MaxSearchResults)
		if err != nil {
			s.metrics.SearchesTotal.WithLabelValues("error").Inc()
			s.logger.Error("Search failed", zap.String("query", query), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody("Failed to search YouTube"))
			return
		}

		if len(results) == 0 {
			s.metrics.SearchesTotal.WithLabelValues("empty").Inc()
			writeJSON(w, http.StatusNotFound, errorBody("No results found"))
			return
		}

		s.metrics.SearchesTotal.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, results)
	}
}

func (s *Server) classifyOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrMissingReference):
		return "bad_request"
	case errors.Is(err, core.ErrNoMatch):
		return "no_match"
	case errors.Is(err, core.ErrExtraction):
		s.metrics.ExtractionsTotal.WithLabelValues("failure").Inc()
		return "extraction_failed"
	default:
		return "internal_error"
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
