package processing

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// JobStatus is the lifecycle state of an upload job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobFailed     JobStatus = "failed"
)

// JobRecord is what clients poll after an upload.
type JobRecord struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// JobStore keeps job records for a limited time. Finished jobs expire after
// the TTL; nobody needs to clean them up.
type JobStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewJobStore creates a store whose records live for ttl after their last
// update.
func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobStore{
		cache: cache.New(ttl, ttl),
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a queued job.
func (s *JobStore) Create(id, fileName string) JobRecord {
	now := s.now()
	rec := JobRecord{
		ID:        id,
		FileName:  fileName,
		Status:    JobQueued,
		Message:   "waiting for a worker",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.cache.Set(id, rec, s.ttl)
	s.mu.Unlock()
	return rec
}

// Update moves a job to status. documentID is kept when empty.
func (s *JobStore) Update(id string, status JobStatus, message, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(id)
	if !ok {
		return ErrJobNotFound
	}
	rec := v.(JobRecord)
	rec.Status = status
	rec.Message = message
	if documentID != "" {
		rec.DocumentID = documentID
	}
	rec.UpdatedAt = s.now()
	s.cache.Set(id, rec, s.ttl)
	return nil
}

// Get returns the job with id.
func (s *JobStore) Get(id string) (JobRecord, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return JobRecord{}, ErrJobNotFound
	}
	return v.(JobRecord), nil
}

// Len reports the number of unexpired jobs.
func (s *JobStore) Len() int {
	return s.cache.ItemCount()
}
