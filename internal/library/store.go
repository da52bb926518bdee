// Package library is the canonical in-memory collection of loaded documents
// and the active-document pointer. The Store is the only writer of both; every
// other component reads snapshots or observes the change events it publishes.
package library

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/model"
)

// HandleRegistry mints and revokes binary handles. *blob.Registry satisfies it.
type HandleRegistry interface {
	Mint(id string, file model.SourceFile) (string, error)
	Revoke(id string)
}

// Publisher broadcasts change events. *events.Bus satisfies it.
type Publisher interface {
	Publish(topic string, payload any) error
}

// DuplicatePolicy decides what inserting an existing id does.
type DuplicatePolicy int

const (
	// DuplicateSkip keeps the existing document and drops the new one.
	DuplicateSkip DuplicatePolicy = iota
	// DuplicateReplace revokes the old handle and replaces the document.
	DuplicateReplace
)

// ParseDuplicatePolicy maps "replace" to DuplicateReplace and anything else to
// DuplicateSkip.
func ParseDuplicatePolicy(s string) DuplicatePolicy {
	if s == "replace" {
		return DuplicateReplace
	}
	return DuplicateSkip
}

// ChangeKind labels a DocumentEvent.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeReplaced ChangeKind = "replaced"
	ChangeUpdated  ChangeKind = "updated"
	ChangeRemoved  ChangeKind = "removed"
	ChangeCleared  ChangeKind = "cleared"
)

// DocumentEvent is published on events.TopicDocuments after each mutation.
type DocumentEvent struct {
	Kind     ChangeKind      `json:"kind"`
	ID       string          `json:"id,omitempty"`
	Document *model.Document `json:"document,omitempty"`
	Count    int             `json:"count"`
}

// CurrentEvent is published on events.TopicCurrent when the pointer moves.
type CurrentEvent struct {
	ID *string `json:"id"`
}

type pending struct {
	topic   string
	payload any
}

// Store owns the document collection, most recent first.
type Store struct {
	mu        sync.RWMutex
	docs      []model.Document
	currentID string

	// emitMu serializes mutations together with their events and is always
	// taken before mu. A slow publisher holds only emitMu, so readers keep
	// going while events leave in mutation order.
	emitMu sync.Mutex

	handles HandleRegistry
	pub     Publisher
	log     *zap.Logger
	now     func() time.Time
	policy  DuplicatePolicy
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log.Named("library") }
}

// WithPublisher makes the store broadcast change events.
func WithPublisher(pub Publisher) Option {
	return func(s *Store) { s.pub = pub }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDuplicatePolicy selects how duplicate ids are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// New creates an empty Store backed by handles.
func New(handles HandleRegistry, opts ...Option) *Store {
	s := &Store{
		handles: handles,
		log:     zap.NewNop(),
		now:     time.Now,
		policy:  DuplicateSkip,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDocument inserts a fully formed document at the front. A duplicate id is
// logged and ignored unless the store runs with DuplicateReplace. BlobURL is
// cleared because only AddUploadedDocument can mint handles.
func (s *Store) AddDocument(doc model.Document) bool {
	if doc.ID == "" {
		s.log.Warn("document without id, skipping add")
		return false
	}
	s.lock()
	idx := s.indexOf(doc.ID)
	if idx >= 0 && s.policy == DuplicateSkip {
		s.unlock()
		s.log.Warn("document already exists, skipping add", zap.String("document_id", doc.ID))
		return false
	}
	doc = doc.Clone()
	if doc.BlobURL != "" {
		s.log.Warn("dropping blob reference from manually added document", zap.String("document_id", doc.ID))
		doc.BlobURL = ""
	}
	kind := ChangeAdded
	if idx >= 0 {
		s.handles.Revoke(doc.ID)
		s.dropAt(idx)
		kind = ChangeReplaced
	}
	s.docs = append([]model.Document{doc}, s.docs...)
	count := len(s.docs)
	out := []pending{docEvent(kind, doc, count)}
	s.unlockAndEmit(out)
	s.log.Info("document added", zap.String("document_id", doc.ID), zap.String("kind", string(kind)), zap.Int("count", count))
	return true
}

// AddUploadedDocument builds a document from a processing result and inserts
// it at the front. When file is non-nil a binary handle is minted for it; a
// mint failure is logged and the document is added without BlobURL.
func (s *Store) AddUploadedDocument(result model.ProcessingResult, file *model.SourceFile) (model.Document, bool) {
	if result.ID == "" {
		s.log.Warn("processing result without id, skipping add")
		return model.Document{}, false
	}
	s.lock()
	idx := s.indexOf(result.ID)
	if idx >= 0 && s.policy == DuplicateSkip {
		s.unlock()
		s.log.Warn("document already exists, skipping add", zap.String("document_id", result.ID))
		return model.Document{}, false
	}
	kind := ChangeAdded
	if idx >= 0 {
		// The old bytes go before the new handle is minted under the same id.
		s.handles.Revoke(result.ID)
		s.dropAt(idx)
		kind = ChangeReplaced
	}

	doc := s.fromResult(result, file)
	if file != nil {
		ref, err := s.handles.Mint(doc.ID, *file)
		if err != nil {
			s.log.Warn("failed to create blob reference, continuing without it", zap.String("document_id", doc.ID), zap.Error(err))
		} else {
			doc.BlobURL = ref
		}
	}
	s.docs = append([]model.Document{doc}, s.docs...)
	count := len(s.docs)
	out := []pending{docEvent(kind, doc, count)}
	s.unlockAndEmit(out)
	s.log.Info("uploaded document added",
		zap.String("document_id", doc.ID),
		zap.String("title", doc.Title),
		zap.Bool("has_blob", doc.BlobURL != ""),
		zap.Int("count", count))
	return doc.Clone(), true
}

func (s *Store) fromResult(result model.ProcessingResult, file *model.SourceFile) model.Document {
	now := s.now()
	doc := model.Document{
		ID:                result.ID,
		Title:             result.Title,
		Authors:           []string{},
		Content:           []string{},
		Tags:              []string{},
		Concepts:          result.Concepts,
		Relationships:     result.Relationships,
		DifficultyMarkers: s.normalizeMarkers(result.ID, result.DifficultyMarkers),
		FileName:          model.DefaultFileName,
		FileType:          model.DefaultFileType,
		UploadDate:        now,
		LastReadDate:      now,
		ReadStatus:        model.StatusUnread,
	}
	if file != nil {
		if file.Name != "" {
			doc.FileName = file.Name
		}
		if file.ContentType != "" {
			doc.FileType = file.ContentType
		}
		doc.FileSize = file.Size
		if doc.FileSize == 0 {
			doc.FileSize = int64(len(file.Data))
		}
	}
	if doc.Title == "" {
		doc.Title = model.UntitledTitle
		if file != nil && file.Name != "" {
			doc.Title = file.Name
		}
	}
	if doc.Concepts == nil {
		doc.Concepts = []model.Concept{}
	}
	if doc.Relationships == nil {
		doc.Relationships = []model.Relationship{}
	}
	return doc.Clone()
}

// normalizeMarkers fills missing segment ids and keeps the first marker of
// each id.
func (s *Store) normalizeMarkers(docID string, in []model.SegmentDifficultyMarker) []model.SegmentDifficultyMarker {
	out := make([]model.SegmentDifficultyMarker, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		if m.SegmentID == "" {
			m.SegmentID = model.SegmentID(m.PageIndex, m.BlockIndexOnPage)
		}
		if _, dup := seen[m.SegmentID]; dup {
			s.log.Warn("duplicate difficulty marker dropped", zap.String("document_id", docID), zap.String("segment_id", m.SegmentID))
			continue
		}
		seen[m.SegmentID] = struct{}{}
		if m.Reasons == nil {
			m.Reasons = []string{}
		}
		out = append(out, m)
	}
	return out
}

// RemoveDocument revokes the document's handle, then removes it. When it was
// the active document the pointer moves to the new first document, or clears.
func (s *Store) RemoveDocument(id string) bool {
	s.lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.unlock()
		s.log.Debug("remove of unknown document ignored", zap.String("document_id", id))
		return false
	}
	s.handles.Revoke(id)
	s.dropAt(idx)
	out := []pending{{topic: events.TopicDocuments, payload: DocumentEvent{Kind: ChangeRemoved, ID: id, Count: len(s.docs)}}}
	if s.currentID == id {
		s.currentID = ""
		if len(s.docs) > 0 {
			s.currentID = s.docs[0].ID
		}
		out = append(out, s.currentEvent())
	}
	count := len(s.docs)
	s.unlockAndEmit(out)
	s.log.Info("document removed", zap.String("document_id", id), zap.Int("count", count))
	return true
}

// SetCurrentDocument points the active pointer at id. The document's
// LastReadDate advances to now the first time it is activated on a calendar
// day. An unknown id clears the pointer.
func (s *Store) SetCurrentDocument(id string) bool {
	s.lock()
	idx := s.indexOf(id)
	if idx < 0 {
		var out []pending
		if s.currentID != "" {
			s.currentID = ""
			out = append(out, s.currentEvent())
		}
		s.unlockAndEmit(out)
		s.log.Warn("document not found, clearing current document", zap.String("document_id", id))
		return false
	}
	var out []pending
	if s.currentID != id {
		s.currentID = id
		out = append(out, s.currentEvent())
	}
	now := s.now()
	doc := s.docs[idx]
	if !sameDay(doc.LastReadDate, now) {
		doc = doc.Clone()
		doc.LastReadDate = now
		s.docs[idx] = doc
		out = append(out, docEvent(ChangeUpdated, doc, len(s.docs)))
	}
	s.unlockAndEmit(out)
	return true
}

// UpdateDocument merges patch into the document with id and replaces its slot.
// An empty patch returns the document unchanged. Unknown ids and invalid read
// statuses are logged and ignored.
func (s *Store) UpdateDocument(id string, patch model.DocumentPatch) (model.Document, bool) {
	if patch.ReadStatus != nil && !patch.ReadStatus.Valid() {
		s.log.Warn("invalid read status, skipping update", zap.String("document_id", id), zap.String("read_status", string(*patch.ReadStatus)))
		return model.Document{}, false
	}
	s.lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.unlock()
		s.log.Debug("update of unknown document ignored", zap.String("document_id", id))
		return model.Document{}, false
	}
	if patch.IsEmpty() {
		doc := s.docs[idx].Clone()
		s.unlock()
		return doc, true
	}
	doc := patch.Apply(s.docs[idx])
	s.docs[idx] = doc
	out := []pending{docEvent(ChangeUpdated, doc, len(s.docs))}
	s.unlockAndEmit(out)
	return doc.Clone(), true
}

// Get returns a snapshot of the document with id.
func (s *Store) Get(id string) (model.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return model.Document{}, false
	}
	return s.docs[idx].Clone(), true
}

// Documents returns a snapshot of the collection, most recent first.
func (s *Store) Documents() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}

// CurrentDocument returns the active document.
func (s *Store) CurrentDocument() (model.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == "" {
		return model.Document{}, false
	}
	idx := s.indexOf(s.currentID)
	if idx < 0 {
		return model.Document{}, false
	}
	return s.docs[idx].Clone(), true
}

// CurrentDocumentID returns the active pointer.
func (s *Store) CurrentDocumentID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID, s.currentID != ""
}

// Len reports the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close removes every document, revoking each handle. It is the shutdown
// path; the store stays usable afterwards.
func (s *Store) Close() {
	s.lock()
	for _, d := range s.docs {
		s.handles.Revoke(d.ID)
	}
	removed := len(s.docs)
	s.docs = nil
	var out []pending
	if removed > 0 {
		out = append(out, pending{topic: events.TopicDocuments, payload: DocumentEvent{Kind: ChangeCleared}})
	}
	if s.currentID != "" {
		s.currentID = ""
		out = append(out, s.currentEvent())
	}
	s.unlockAndEmit(out)
	s.log.Info("library closed", zap.Int("removed", removed))
}

func (s *Store) indexOf(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) dropAt(idx int) {
	s.docs = append(s.docs[:idx:idx], s.docs[idx+1:]...)
}

// currentEvent must be called with mu held.
func (s *Store) currentEvent() pending {
	var id *string
	if s.currentID != "" {
		v := s.currentID
		id = &v
	}
	return pending{topic: events.TopicCurrent, payload: CurrentEvent{ID: id}}
}

// lock takes the write side: emitMu first, then mu.
func (s *Store) lock() {
	s.emitMu.Lock()
	s.mu.Lock()
}

// unlock releases a write lock that published nothing.
func (s *Store) unlock() {
	s.mu.Unlock()
	s.emitMu.Unlock()
}

// unlockAndEmit releases mu, publishes out in order, then releases emitMu.
func (s *Store) unlockAndEmit(out []pending) {
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	if s.pub == nil {
		return
	}
	for _, p := range out {
		if err := s.pub.Publish(p.topic, p.payload); err != nil {
			s.log.Warn("failed to publish library event", zap.String("topic", p.topic), zap.Error(err))
		}
	}
}

func docEvent(kind ChangeKind, doc model.Document, count int) pending {
	snapshot := doc.Clone()
	return pending{topic: events.TopicDocuments, payload: DocumentEvent{Kind: kind, ID: doc.ID, Document: &snapshot, Count: count}}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
