package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/processing"
)

// handleGraph serves the concept graph. document_ids may repeat or carry a
// comma separated list; without it every document contributes.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var ids []string
	for _, raw := range r.URL.Query()["document_ids"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	respondJSON(w, http.StatusOK, s.lib.Graph(ids...))
}

type conceptsRequest struct {
	Text string `json:"text"`
}

type conceptsResponse struct {
	Concepts []model.Concept `json:"concepts"`
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req conceptsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text cannot be empty")
		return
	}
	if s.concepts == nil {
		respondError(w, http.StatusServiceUnavailable, "concept extraction not configured")
		return
	}
	concepts, err := s.concepts.ExtractConcepts(r.Context(), req.Text)
	if err != nil {
		var apiErr *processing.Error
		if errors.As(err, &apiErr) {
			s.log.Warn("concept extraction rejected", zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		} else {
			s.log.Warn("concept extraction failed", zap.Error(err))
		}
		respondError(w, http.StatusBadGateway, "concept service unavailable")
		return
	}
	respondJSON(w, http.StatusOK, conceptsResponse{Concepts: concepts})
}
