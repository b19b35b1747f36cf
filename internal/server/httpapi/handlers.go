package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/synk/internal/common"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "backend ping failed", "error", err)
		s.writeJSON(w, r, http.StatusServiceUnavailable, NewErrorResponse("backend unavailable"))
		return
	}
	s.writeJSON(w, r, http.StatusOK, NewOKResponse())
}

// handleAccountTest answers OK once the digest middleware accepted the
// credentials, so clients can check them without touching any items.
func (s *Server) handleAccountTest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, NewOKResponse())
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", common.ErrorInvalidSchema, err))
		return
	}

	if _, err := s.users.Register(r.Context(), req.Username, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, NewOKResponse())
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	raw := r.URL.Query().Get("since")
	if raw == "" {
		items, err := s.sync.FetchAll(r.Context(), owner)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, items)
		return
	}

	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		s.writeError(w, r, fmt.Errorf("%w: since must be a non-negative integer", common.ErrorInvalidSchema))
		return
	}
	items, err := s.sync.FetchSince(r.Context(), owner, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, items)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	added, updated, err := s.sync.UpsertBatch(r.Context(), OwnerFromContext(r.Context()), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := NewOKResponse()
	resp.Added, resp.Updated = added, updated
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	deleted, err := s.sync.DeleteBatch(r.Context(), OwnerFromContext(r.Context()), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := NewOKResponse()
	resp.Deleted = deleted
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sync.Stats(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, stats)
}
