// Package storage contains the process-local binary reference backend. It
// plays the role a browser's object-URL facility plays for a web client: it
// turns uploaded bytes into an opaque, revocable reference.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

// RefPrefix starts every reference minted by MemoryBackend.
const RefPrefix = "blob:mindflow/"

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is; Go encourages sentinel errors for simple cases.
	ErrNotFound = errors.New("blob reference not found")
	// ErrExhausted is returned when accepting the bytes would exceed the budget.
	ErrExhausted = errors.New("blob memory budget exhausted")
)

type object struct {
	data        []byte
	name        string
	contentType string
	createdAt   time.Time
}

// MemoryBackend keeps referenced bytes in a map guarded by an RWMutex. A byte
// budget bounds how much upload data the process may pin at once.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*object
	used    int64
	limit   int64
}

// NewMemoryBackend constructs a MemoryBackend. A limit <= 0 means unbounded.
func NewMemoryBackend(limit int64) *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*object),
		limit:   limit,
	}
}

// Create stores a private copy of the file bytes and returns a fresh reference.
func (m *MemoryBackend) Create(_ context.Context, _ string, file model.SourceFile) (string, error) {
	m.mu.Lock()
	// defer schedules code to run when the function returns, guaranteeing the
	// mutex unlock even if the function exits early.
	defer m.mu.Unlock()
	size := int64(len(file.Data))
	if m.limit > 0 && m.used+size > m.limit {
		return "", ErrExhausted
	}
	data := make([]byte, len(file.Data))
	copy(data, file.Data)
	ref := RefPrefix + uuid.NewString()
	m.objects[ref] = &object{
		data:        data,
		name:        file.Name,
		contentType: file.ContentType,
		createdAt:   time.Now().UTC(),
	}
	m.used += size
	return ref, nil
}

// Release drops the bytes behind ref.
func (m *MemoryBackend) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[ref]
	if !ok {
		return ErrNotFound
	}
	m.used -= int64(len(obj.data))
	delete(m.objects, ref)
	return nil
}

// Open returns a reader over the bytes behind ref.
func (m *MemoryBackend) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.RLock()
	// Read locks allow multiple concurrent readers.
	defer m.mu.RUnlock()
	obj, ok := m.objects[ref]
	if !ok {
		return nil, ErrNotFound
	}
	// The stored slice is never mutated after Create, so sharing it is safe.
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Used reports the number of bytes currently pinned.
func (m *MemoryBackend) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Len reports the number of live references.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
