package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/processing"
)

type highlightRequest struct {
	Term *string `json:"term"`
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req highlightRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		term := ""
		if req.Term != nil {
			term = strings.TrimSpace(*req.Term)
		}
		s.signal.Set(term)
	case http.MethodDelete:
		s.signal.Clear()
	default:
		methodNotAllowed(w)
		return
	}
	respondJSON(w, http.StatusOK, s.signal.Snapshot())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	rec, err := s.jobs.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type definitionResponse struct {
	Term       string  `json:"term"`
	Definition *string `json:"definition"`
}

func (s *Server) handleDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	term := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/definition/"))
	if term == "" {
		respondError(w, http.StatusBadRequest, "term cannot be empty")
		return
	}
	def, err := s.defs.Definition(r.Context(), term)
	if err != nil {
		var apiErr *processing.Error
		if errors.As(err, &apiErr) {
			s.log.Warn("definition lookup rejected", zap.String("term", term), zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		} else {
			s.log.Warn("definition lookup failed", zap.String("term", term), zap.Error(err))
		}
		respondError(w, http.StatusBadGateway, "definition service unavailable")
		return
	}
	respondJSON(w, http.StatusOK, definitionResponse{Term: term, Definition: def})
}
