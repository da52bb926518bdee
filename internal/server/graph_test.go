package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
)

type stubConcepts struct {
	got []string
	out []model.Concept
	err error
}

func (c *stubConcepts) ExtractConcepts(_ context.Context, text string) ([]model.Concept, error) {
	c.got = append(c.got, text)
	return c.out, c.err
}

func linkedDoc(id, source, target string) model.Document {
	return model.Document{
		ID:            id,
		Title:         "Doc " + id,
		Concepts:      []model.Concept{{Term: source}, {Term: target}},
		Relationships: []model.Relationship{{Source: source, Target: target}},
		FileType:      model.DefaultFileType,
		ReadStatus:    model.StatusUnread,
	}
}

func TestGraph(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.lib.AddDocument(linkedDoc("a", "Flow", "Focus")))
	require.True(t, f.lib.AddDocument(linkedDoc("b", "Flow", "Habit")))
	require.True(t, f.lib.AddDocument(linkedDoc("c", "Calm", "Rest")))

	rec := f.do(t, http.MethodGet, "/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[library.Graph](t, rec)
	assert.Len(t, all.Documents, 3)
	assert.Len(t, all.Links, 3)
	assert.Len(t, all.Nodes, 5)

	rec = f.do(t, http.MethodGet, "/graph?document_ids=a&document_ids=b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	two := decode[library.Graph](t, rec)
	assert.Equal(t, []library.GraphDocument{{ID: "b", Title: "Doc b"}, {ID: "a", Title: "Doc a"}}, two.Documents)
	assert.Len(t, two.Links, 2)
	require.Len(t, two.Nodes, 3)
	assert.Equal(t, "Flow", two.Nodes[0].ID)
	assert.Equal(t, []string{"b", "a"}, two.Nodes[0].DocumentIDs)

	rec = f.do(t, http.MethodGet, "/graph?document_ids=a,%20c", nil)
	comma := decode[library.Graph](t, rec)
	assert.Len(t, comma.Documents, 2)

	rec = f.do(t, http.MethodGet, "/graph?document_ids=missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nodes":[],"links":[],"documents":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/graph", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConcepts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/concepts", strings.NewReader(`{"text":"Flow needs focus."}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	stub := &stubConcepts{out: []model.Concept{{Term: "Flow"}, {Term: "Focus"}}}
	f.srv.concepts = stub

	rec = f.do(t, http.MethodPost, "/concepts", strings.NewReader(`{"text":"Flow needs focus."}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"concepts":[{"term":"Flow","definition":null},{"term":"Focus","definition":null}]}`, rec.Body.String())
	assert.Equal(t, []string{"Flow needs focus."}, stub.got)

	rec = f.do(t, http.MethodPost, "/concepts", strings.NewReader(`{"text":"   "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, stub.got, 1)

	stub.err = errors.New("connection refused")
	rec = f.do(t, http.MethodPost, "/concepts", strings.NewReader(`{"text":"x"}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodGet, "/concepts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
