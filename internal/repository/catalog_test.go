package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/storage"
)

func TestEncodeDocument_StripsBlobURL(t *testing.T) {
	year := "2022"
	doc := model.Document{
		ID:           "d1",
		Title:        "Flow",
		Year:         &year,
		Content:      []string{"p1"},
		BlobURL:      "blob:mindflow/abc",
		ReadStatus:   model.StatusReading,
		LastReadDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	body, err := encodeDocument(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "blobUrl")
	assert.Contains(t, string(body), `"readStatus":"reading"`)
	assert.Equal(t, "blob:mindflow/abc", doc.BlobURL, "caller's value untouched")

	back, err := decodeDocument(body)
	require.NoError(t, err)
	assert.Equal(t, "d1", back.ID)
	assert.Equal(t, "2022", *back.Year)
	assert.Empty(t, back.BlobURL)
	assert.True(t, doc.LastReadDate.Equal(back.LastReadDate))
}

func TestDecodeDocument_IgnoresStoredBlobURL(t *testing.T) {
	doc, err := decodeDocument([]byte(`{"id":"x","title":"t","blobUrl":"blob:old/1"}`))
	require.NoError(t, err)
	assert.Empty(t, doc.BlobURL)

	_, err = decodeDocument([]byte(`{`))
	assert.Error(t, err)
}

func TestRestoreInto_NewestEndsFirst(t *testing.T) {
	store := library.New(blob.NewRegistry(storage.NewMemoryBackend(0)))
	docs := []model.Document{
		{ID: "old", Title: "old"},
		{ID: "mid", Title: "mid"},
		{ID: "mid", Title: "dup"},
		{ID: "new", Title: "new"},
	}
	assert.Equal(t, 3, restoreInto(store, docs))

	got := store.Documents()
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "mid", got[1].Title)
	assert.Equal(t, "old", got[2].ID)
}

func TestApply_RejectsMalformedEvents(t *testing.T) {
	c := NewCatalog(nil, nil)
	ctx := context.Background()

	assert.Error(t, c.Apply(ctx, library.DocumentEvent{Kind: library.ChangeAdded, ID: "x"}))
	assert.Error(t, c.Apply(ctx, library.DocumentEvent{Kind: library.ChangeUpdated, ID: "x"}))
	assert.Error(t, c.Apply(ctx, library.DocumentEvent{Kind: "renamed", ID: "x"}))
	assert.NoError(t, c.Apply(ctx, library.DocumentEvent{Kind: library.ChangeCleared}))
}

// stuckDB never answers; every call waits for its context to end.
type stuckDB struct{}

func (stuckDB) Exec(ctx context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	<-ctx.Done()
	return pgconn.CommandTag{}, ctx.Err()
}

func (stuckDB) Query(ctx context.Context, _ string, _ ...any) (pgx.Rows, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stuckDB) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not used")
}

func TestApply_BoundedByTimeout(t *testing.T) {
	c := NewCatalog(nil, nil, WithApplyTimeout(20*time.Millisecond))
	c.pool = stuckDB{}
	doc := model.Document{ID: "x", Title: "X"}

	done := make(chan error, 1)
	go func() {
		done <- c.Apply(context.Background(), library.DocumentEvent{Kind: library.ChangeAdded, ID: "x", Document: &doc})
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("Apply did not give up on a stuck database")
	}
}

func TestNewCatalog_DefaultApplyTimeout(t *testing.T) {
	assert.Equal(t, DefaultApplyTimeout, NewCatalog(nil, nil).applyTimeout)
	assert.Zero(t, NewCatalog(nil, nil, WithApplyTimeout(0)).applyTimeout)
}

func TestMirror_KeepsDrainingPastStuckWrites(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	c := NewCatalog(nil, zap.New(core), WithApplyTimeout(10*time.Millisecond))
	c.pool = stuckDB{}

	envs := make(chan events.Envelope, 3)
	for _, id := range []string{"a", "b", "c"} {
		payload, err := json.Marshal(library.DocumentEvent{Kind: library.ChangeRemoved, ID: id})
		require.NoError(t, err)
		envs <- events.Envelope{Topic: events.TopicDocuments, Payload: payload}
	}
	close(envs)

	finished := make(chan struct{})
	go func() {
		c.Mirror(context.Background(), envs)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Mirror stalled on a stuck database")
	}
	assert.Equal(t, 3, logs.FilterMessage("failed to mirror library change").Len())
}
