// Package blob owns the binary handles of uploaded files: at most one live,
// revocable reference per document id, released exactly once.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

var (
	// ErrHandleExists is returned by Mint when the id already holds a handle.
	ErrHandleExists = errors.New("handle already exists for document")
	// ErrNoHandle is returned by Open for ids without a handle.
	ErrNoHandle = errors.New("no handle for document")
)

const defaultTimeout = 10 * time.Second

// Backend is the platform facility that turns bytes into a revocable
// reference. storage.MemoryBackend and s3storage.Storage implement it.
type Backend interface {
	Create(ctx context.Context, documentID string, file model.SourceFile) (string, error)
	Release(ctx context.Context, ref string) error
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Handle describes a minted reference.
type Handle struct {
	DocumentID  string
	Ref         string
	FileName    string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// Registry maps document ids to handles.
type Registry struct {
	mu      sync.Mutex
	backend Backend
	handles map[string]Handle
	timeout time.Duration
	log     *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log.Named("blob") }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry builds a registry over backend.
func NewRegistry(backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		handles: make(map[string]Handle),
		timeout: defaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mint creates a reference to file's bytes and records it under id.
func (r *Registry) Mint(id string, file model.SourceFile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; ok {
		return "", fmt.Errorf("mint %s: %w", id, ErrHandleExists)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ref, err := r.backend.Create(ctx, id, file)
	if err != nil {
		r.log.Error("failed to create blob reference", zap.String("document_id", id), zap.String("file_name", file.Name), zap.Error(err))
		return "", fmt.Errorf("mint %s: %w", id, err)
	}
	r.handles[id] = Handle{
		DocumentID:  id,
		Ref:         ref,
		FileName:    file.Name,
		ContentType: file.ContentType,
		Size:        int64(len(file.Data)),
		CreatedAt:   time.Now().UTC(),
	}
	r.log.Debug("blob reference created", zap.String("document_id", id), zap.String("ref", ref))
	return ref, nil
}

// Revoke releases and forgets the handle for id. Calling it again, or for an
// id that never had a handle, does nothing.
func (r *Registry) Revoke(id string) {
	r.mu.Lock()
	h, ok := r.handles[id]
	// The key goes first so the handle can never be released twice, even if
	// the backend call below fails.
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.backend.Release(ctx, h.Ref); err != nil {
		r.log.Warn("failed to release blob reference", zap.String("document_id", id), zap.String("ref", h.Ref), zap.Error(err))
		return
	}
	r.log.Debug("blob reference revoked", zap.String("document_id", id), zap.String("ref", h.Ref))
}

// Lookup returns the handle for id.
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Open streams the bytes behind id's handle.
func (r *Registry) Open(ctx context.Context, id string) (io.ReadCloser, Handle, error) {
	h, ok := r.Lookup(id)
	if !ok {
		return nil, Handle{}, ErrNoHandle
	}
	rc, err := r.backend.Open(ctx, h.Ref)
	if err != nil {
		return nil, Handle{}, fmt.Errorf("open %s: %w", id, err)
	}
	return rc, h, nil
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close revokes every remaining handle.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Revoke(id)
	}
}
