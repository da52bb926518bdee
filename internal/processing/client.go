// Package processing talks to the external document processing service and
// turns its results into library documents, either inline or through a
// background worker pool.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

const (
	extractPath    = "/upload-and-extract"
	definitionPath = "/definition/"
	conceptsPath   = "/extract-concepts"
	fileField      = "file"
)

// Client is a processing service API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	defs       *cache.Cache
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithDefinitionTTL sets how long definition lookups are cached.
func WithDefinitionTTL(d time.Duration) Option {
	return func(client *Client) {
		client.defs = cache.New(d, 2*d)
	}
}

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(client *Client) {
		client.log = log.Named("processing")
	}
}

// NewClient creates a client for the service at baseURL
// (e.g., "http://localhost:8000").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		defs: cache.New(30*time.Minute, time.Hour),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract uploads file and returns the extracted document knowledge.
func (c *Client) Extract(ctx context.Context, file model.SourceFile) (*model.ProcessingResult, error) {
	body, contentType, err := multipartBody(file)
	if err != nil {
		return nil, wrapError(err, "Extract")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+extractPath, body)
	if err != nil {
		return nil, wrapError(fmt.Errorf("create request: %w", err), "Extract")
	}
	req.Header.Set("Content-Type", contentType)

	var result model.ProcessingResult
	if err := c.do(req, &result); err != nil {
		return nil, wrapError(err, "Extract")
	}
	c.log.Info("document extracted",
		zap.String("document_id", result.ID),
		zap.String("file_name", file.Name),
		zap.Int("concepts", len(result.Concepts)),
		zap.Int("relationships", len(result.Relationships)),
		zap.Int("difficulty_markers", len(result.DifficultyMarkers)))
	return &result, nil
}

type definitionResponse struct {
	Term       string  `json:"term"`
	Definition *string `json:"definition"`
}

// Definition looks a term up. A nil definition means the service knows none.
// Answers, including empty ones, are cached.
func (c *Client) Definition(ctx context.Context, term string) (*string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, wrapError(fmt.Errorf("term cannot be empty"), "Definition")
	}
	if cached, ok := c.defs.Get(term); ok {
		return copyString(cached.(*string)), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+definitionPath+url.PathEscape(term), nil)
	if err != nil {
		return nil, wrapError(fmt.Errorf("create request: %w", err), "Definition")
	}
	var resp definitionResponse
	if err := c.do(req, &resp); err != nil {
		return nil, wrapError(err, "Definition")
	}
	c.defs.Set(term, copyString(resp.Definition), cache.DefaultExpiration)
	c.log.Debug("definition fetched", zap.String("term", term), zap.Bool("found", resp.Definition != nil))
	return resp.Definition, nil
}

type conceptsRequest struct {
	Text string `json:"text"`
}

type conceptsResponse struct {
	Concepts []model.Concept `json:"concepts"`
}

// ExtractConcepts asks the service for the key concepts of a free text
// passage. The returned concepts carry terms only.
func (c *Client) ExtractConcepts(ctx context.Context, text string) ([]model.Concept, error) {
	if strings.TrimSpace(text) == "" {
		return nil, wrapError(fmt.Errorf("text cannot be empty"), "ExtractConcepts")
	}
	payload, err := json.Marshal(conceptsRequest{Text: text})
	if err != nil {
		return nil, wrapError(fmt.Errorf("encode request: %w", err), "ExtractConcepts")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+conceptsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, wrapError(fmt.Errorf("create request: %w", err), "ExtractConcepts")
	}
	req.Header.Set("Content-Type", "application/json")

	var resp conceptsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, wrapError(err, "ExtractConcepts")
	}
	if resp.Concepts == nil {
		resp.Concepts = []model.Concept{}
	}
	c.log.Debug("concepts extracted from text", zap.Int("chars", len(text)), zap.Int("concepts", len(resp.Concepts)))
	return resp.Concepts, nil
}

// do performs an HTTP request and decodes the JSON response.
func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage prefers the service's {"detail": "..."} body.
func errorMessage(body []byte) string {
	var detail struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != nil {
		if s, ok := detail.Detail.(string); ok {
			return s
		}
		if raw, err := json.Marshal(detail.Detail); err == nil {
			return string(raw)
		}
	}
	return strings.TrimSpace(string(body))
}

// wrapError wraps an error with an operation name if it's an API error.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		apiErr.Op = op
		return apiErr
	}
	return fmt.Errorf("%s: %w", op, err)
}

func multipartBody(file model.SourceFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	name := file.Name
	if name == "" {
		name = model.DefaultFileName
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
