package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/signing"
)

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.lib.Get(id); !ok {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	h, ok := s.handles.Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no original file for document")
		return
	}
	expires := s.now().Add(s.cfg.SignedURLTTL)
	q := s.signer.Query(id, h.Ref, expires)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     "/download?" + q.Encode(),
		"expires": strconv.FormatInt(expires.Unix(), 10),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	id := q.Get(signing.ParamID)
	if id == "" || q.Get(signing.ParamExpires) == "" || q.Get(signing.ParamSig) == "" {
		respondError(w, http.StatusBadRequest, "missing parameters")
		return
	}
	h, ok := s.handles.Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	switch err := s.signer.Verify(q, h.Ref, s.now()); {
	case errors.Is(err, signing.ErrExpired):
		respondError(w, http.StatusUnauthorized, "url expired")
		return
	case err != nil:
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	signedRef := h.Ref
	rc, h, err := s.handles.Open(r.Context(), id)
	if err == nil && h.Ref != signedRef {
		// Re-minted after the link was issued.
		rc.Close()
		err = blob.ErrNoHandle
	}
	if err != nil {
		if errors.Is(err, blob.ErrNoHandle) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.log.Error("failed to open original", zap.String("document_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "file unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", h.ContentType)
	if h.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(h.Size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": h.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("download interrupted", zap.String("document_id", id), zap.Error(err))
	}
}
