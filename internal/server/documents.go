package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/processing"
)

const maxJSONBody = 4 << 20

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, s.lib.Documents())
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	// The /documents/ prefix supports nested resources like /documents/{id}/activate.
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		// import and samples are actions only on POST, so documents with those
		// ids stay reachable through GET, PATCH and DELETE.
		switch {
		case r.Method == http.MethodPost && parts[0] == "import":
			s.handleImport(w, r)
		case r.Method == http.MethodPost && parts[0] == "samples":
			s.handleSamples(w, r)
		default:
			s.handleDocument(w, r, parts[0])
		}
		return
	}
	id := parts[0]
	switch parts[1] {
	case "activate":
		s.handleActivate(w, r, id)
	case "file-url":
		s.handleFileURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		doc, ok := s.lib.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		respondJSON(w, http.StatusOK, doc)
	case http.MethodPatch:
		s.handlePatch(w, r, id)
	case http.MethodDelete:
		if !s.lib.RemoveDocument(id) {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, id string) {
	var patch model.DocumentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.ReadStatus != nil && !patch.ReadStatus.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid readStatus %q", *patch.ReadStatus))
		return
	}
	doc, ok := s.lib.UpdateDocument(id, patch)
	if !ok {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.lib.SetCurrentDocument(id) {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	doc, ok := s.lib.CurrentDocument()
	if !ok {
		// Removed right after activation.
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var doc model.Document
	if err := decodeJSON(w, r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if doc.ID == "" {
		respondError(w, http.StatusBadRequest, "document id is required")
		return
	}
	if doc.ReadStatus == "" {
		doc.ReadStatus = model.StatusUnread
	}
	if !doc.ReadStatus.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid readStatus %q", doc.ReadStatus))
		return
	}
	if !s.lib.AddDocument(doc) {
		respondError(w, http.StatusConflict, "document already exists")
		return
	}
	stored, _ := s.lib.Get(doc.ID)
	respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	seeded := s.lib.AddSampleDocuments()
	respondJSON(w, http.StatusOK, map[string]any{
		"seeded": seeded,
		"count":  s.lib.Len(),
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, ok := s.lib.CurrentDocument()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

type uploadResponse struct {
	Job       string               `json:"job"`
	Status    processing.JobStatus `json:"status"`
	StatusURL string               `json:"statusUrl"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// http.MaxBytesReader wraps the Body to protect against oversized payloads.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	job, err := s.stagePart(part)
	part.Close()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.jobs.Create(job.ID, job.FileName)
	if err := s.dispatch.Submit(r.Context(), job); err != nil {
		if errors.Is(err, processing.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.log.Error("failed to queue job", zap.String("job_id", job.ID), zap.Error(err))
		_ = s.jobs.Update(job.ID, processing.JobFailed, "failed to queue job", "")
		_ = os.Remove(job.Path)
		respondError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	s.log.Info("upload queued", zap.String("job_id", job.ID), zap.String("file_name", job.FileName), zap.Int64("size", job.Size))
	respondJSON(w, http.StatusAccepted, uploadResponse{
		Job:       job.ID,
		Status:    processing.JobQueued,
		StatusURL: "/jobs/" + job.ID,
	})
}

// stagePart streams part into the staging directory, enforcing the size cap
// and the content type allow-list.
func (s *Server) stagePart(part *multipart.Part) (processing.Job, error) {
	jobID := uuid.NewString()
	staged, err := processing.Stage(s.uploadDir, jobID, part, s.cfg.MaxFileSize)
	if err != nil {
		return processing.Job{}, err
	}
	reject := func(err error) (processing.Job, error) {
		_ = os.Remove(staged.Path)
		return processing.Job{}, err
	}
	if staged.Size == 0 {
		return reject(errors.New("empty file"))
	}
	contentType := http.DetectContentType(staged.Head)
	if !s.allowedType(contentType) {
		return reject(fmt.Errorf("file type %s not allowed", contentType))
	}
	name := filepath.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}
	return processing.Job{
		ID:          jobID,
		Path:        staged.Path,
		FileName:    name,
		ContentType: contentType,
		Size:        staged.Size,
	}, nil
}

// allowedType compares base media types, so "text/plain" allows
// "text/plain; charset=utf-8".
func (s *Server) allowedType(contentType string) bool {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedTypes {
		want, _, err := mime.ParseMediaType(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(want, base) {
			return true
		}
	}
	return false
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
