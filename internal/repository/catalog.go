package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
)

// ErrNotFound is returned for ids missing from the catalog.
var ErrNotFound = errors.New("document not found in catalog")

// Adder is the part of *library.Store that Restore needs.
type Adder interface {
	AddDocument(doc model.Document) bool
}

// DefaultApplyTimeout bounds a single mirrored write.
const DefaultApplyTimeout = 5 * time.Second

// querier is the subset of *pgxpool.Pool the catalog uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog mirrors the library into Postgres so it can be re-seeded after a
// restart. Binary handles are process-local and never stored.
type Catalog struct {
	pool         querier
	log          *zap.Logger
	now          func() time.Time
	applyTimeout time.Duration
}

// CatalogOption customises a Catalog.
type CatalogOption func(*Catalog)

// WithApplyTimeout overrides DefaultApplyTimeout. Zero or less disables the
// bound.
func WithApplyTimeout(d time.Duration) CatalogOption {
	return func(c *Catalog) { c.applyTimeout = d }
}

// NewCatalog constructs a catalog.
func NewCatalog(pool *pgxpool.Pool, log *zap.Logger, opts ...CatalogOption) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{
		pool:         pool,
		log:          log.Named("catalog"),
		now:          func() time.Time { return time.Now().UTC() },
		applyTimeout: DefaultApplyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert stores doc as the newest entry.
func (c *Catalog) Upsert(ctx context.Context, doc model.Document) error {
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	now := c.now()
	_, err = c.pool.Exec(ctx, `
		INSERT INTO library_documents (id, title, body, added_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, body = EXCLUDED.body, added_at = EXCLUDED.added_at, updated_at = EXCLUDED.updated_at
	`, doc.ID, doc.Title, body, now)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Update replaces the stored body of doc, keeping its position.
func (c *Catalog) Update(ctx context.Context, doc model.Document) error {
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx, `
		UPDATE library_documents SET title=$1, body=$2, updated_at=$3 WHERE id=$4
	`, doc.Title, body, c.now(), doc.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// Delete removes id.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM library_documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Get returns a document by id.
func (c *Catalog) Get(ctx context.Context, id string) (model.Document, error) {
	var body []byte
	err := c.pool.QueryRow(ctx, `SELECT body FROM library_documents WHERE id=$1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("select document: %w", err)
	}
	return decodeDocument(body)
}

// List returns every stored document, oldest first.
func (c *Catalog) List(ctx context.Context) ([]model.Document, error) {
	rows, err := c.pool.Query(ctx, `SELECT body FROM library_documents ORDER BY added_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			c.log.Warn("skipping undecodable catalog row", zap.Error(err))
			continue
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Restore adds every stored document to lib, oldest first, so the newest ends
// up at the front. It returns how many were accepted.
func (c *Catalog) Restore(ctx context.Context, lib Adder) (int, error) {
	docs, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	return restoreInto(lib, docs), nil
}

func restoreInto(lib Adder, docs []model.Document) int {
	n := 0
	for _, doc := range docs {
		if lib.AddDocument(doc) {
			n++
		}
	}
	return n
}

// Apply writes one library change. Cleared events are shutdown cleanup and
// leave the catalog alone. Each write is bounded by the apply timeout so a
// stuck database cannot hold the subscription, and the publisher behind it,
// forever.
func (c *Catalog) Apply(ctx context.Context, ev library.DocumentEvent) error {
	if c.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.applyTimeout)
		defer cancel()
	}
	switch ev.Kind {
	case library.ChangeAdded, library.ChangeReplaced:
		if ev.Document == nil {
			return fmt.Errorf("%s event for %s without document", ev.Kind, ev.ID)
		}
		return c.Upsert(ctx, *ev.Document)
	case library.ChangeUpdated:
		if ev.Document == nil {
			return fmt.Errorf("%s event for %s without document", ev.Kind, ev.ID)
		}
		return c.Update(ctx, *ev.Document)
	case library.ChangeRemoved:
		return c.Delete(ctx, ev.ID)
	case library.ChangeCleared:
		return nil
	default:
		return fmt.Errorf("unknown change kind %q", ev.Kind)
	}
}

// Mirror applies library events from envs until the channel closes.
func (c *Catalog) Mirror(ctx context.Context, envs <-chan events.Envelope) {
	for env := range envs {
		if env.Topic != events.TopicDocuments {
			continue
		}
		var ev library.DocumentEvent
		if err := env.Decode(&ev); err != nil {
			c.log.Warn("undecodable library event", zap.Error(err))
			continue
		}
		if err := c.Apply(ctx, ev); err != nil {
			c.log.Error("failed to mirror library change", zap.String("kind", string(ev.Kind)), zap.String("document_id", ev.ID), zap.Error(err))
			continue
		}
		c.log.Debug("library change mirrored", zap.String("kind", string(ev.Kind)), zap.String("document_id", ev.ID))
	}
}

func encodeDocument(doc model.Document) ([]byte, error) {
	doc.BlobURL = ""
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return body, nil
}

func decodeDocument(body []byte) (model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.BlobURL = ""
	return doc, nil
}
