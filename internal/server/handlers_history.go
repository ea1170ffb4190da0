package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tryon/internal/api"
	"tryon/internal/history"
)

func (s *Server) cache(w http.ResponseWriter, r *http.Request) (*history.Cache, bool) {
	cache := s.svc.Cache()
	if cache == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "History store not configured", nil)
		return nil, false
	}
	return cache, true
}

// refresh reports whether ?refresh=true asks for a reload from the store.
func refresh(r *http.Request) bool {
	value := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("refresh")))
	return value == "1" || value == "true"
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	if refresh(r) {
		if err := cache.LoadHistory(r.Context()); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, api.HistoryListResponse{Results: api.FromTryOnResults(cache.History())})
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	if refresh(r) {
		if err := cache.LoadFavorites(r.Context()); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, api.HistoryListResponse{Results: api.FromTryOnResults(cache.Favorites())})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	result, err := cache.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryItemResponse{Result: api.FromTryOnResult(*result)})
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	var body api.FavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, api.NewError(messageInvalidBody, s.detail(err)))
		return
	}
	if body.IsFavorite == nil {
		s.writeJSON(w, http.StatusBadRequest, api.NewError(messageNoFavorite, ""))
		return
	}
	id := chi.URLParam(r, "id")
	if err := cache.ToggleFavorite(r.Context(), id, *body.IsFavorite); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := cache.Store().Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryItemResponse{Result: api.FromTryOnResult(*result)})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	if err := cache.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cache(w, r)
	if !ok {
		return
	}
	if err := cache.ClearAll(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
