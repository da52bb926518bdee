package processing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewClient("http://localhost:8000/")
		assert.Equal(t, "http://localhost:8000", c.baseURL)
		assert.Equal(t, 2*time.Minute, c.httpClient.Timeout)
	})

	t.Run("with custom HTTP client and timeout", func(t *testing.T) {
		custom := &http.Client{}
		c := NewClient("http://x", WithHTTPClient(custom), WithTimeout(5*time.Second))
		assert.Same(t, custom, c.httpClient)
		assert.Equal(t, 5*time.Second, custom.Timeout)
	})
}

func TestClient_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload-and-extract", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "flow.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.4", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "d1",
			"title": "Flow",
			"concepts": [{"term": "flow", "definition": null}],
			"relationships": [{"source": "flow", "target": "skill", "label": "co-occurrence"}],
			"difficulty_markers": [{"segment_id": "p0_b1", "page_index": 0, "block_index_on_page": 1, "text_preview": "x", "score": 0.4, "reasons": ["long"]}]
		}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	result, err := c.Extract(context.Background(), model.SourceFile{Name: "flow.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "d1", result.ID)
	assert.Equal(t, "Flow", result.Title)
	require.Len(t, result.Concepts, 1)
	assert.Nil(t, result.Concepts[0].Definition)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "co-occurrence", *result.Relationships[0].Label)
	require.Len(t, result.DifficultyMarkers, 1)
	assert.Equal(t, "p0_b1", result.DifficultyMarkers[0].SegmentID)
}

func TestClient_ExtractErrors(t *testing.T) {
	t.Run("detail message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "No text content could be extracted from the PDF."})
		}))
		defer server.Close()

		_, err := NewClient(server.URL).Extract(context.Background(), model.SourceFile{Name: "a.pdf"})
		require.Error(t, err)
		assert.True(t, IsUnprocessable(err))
		assert.False(t, IsNotFound(err))

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Extract", apiErr.Op)
		assert.Equal(t, "No text content could be extracted from the PDF.", apiErr.Message)
		assert.Equal(t, "Extract: 422 No text content could be extracted from the PDF.", err.Error())
	})

	t.Run("plain body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Not Found"))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).Extract(context.Background(), model.SourceFile{Name: "a.pdf"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{"))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).Extract(context.Background(), model.SourceFile{Name: "a.pdf"})
		require.Error(t, err)
		var apiErr *Error
		assert.NotErrorAs(t, err, &apiErr)
		assert.Contains(t, err.Error(), "decode response")
	})
}

func TestClient_DefinitionCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.EscapedPath() {
		case "/definition/Flow%20Theory":
			_, _ = io.WriteString(w, `{"term": "Flow Theory", "definition": "optimal experience"}`)
		default:
			_, _ = io.WriteString(w, `{"term": "x", "definition": null}`)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, WithDefinitionTTL(time.Minute))
	ctx := context.Background()

	def, err := c.Definition(ctx, "Flow Theory")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "optimal experience", *def)

	again, err := c.Definition(ctx, "Flow Theory")
	require.NoError(t, err)
	assert.Equal(t, "optimal experience", *again)
	assert.Equal(t, int32(1), hits.Load())

	unknown, err := c.Definition(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, unknown)
	unknown, err = c.Definition(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, unknown)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DefinitionEmptyTerm(t *testing.T) {
	_, err := NewClient("http://unused").Definition(context.Background(), "  ")
	assert.Error(t, err)
}

func TestClient_ExtractConcepts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract-concepts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Flow needs focus.", req["text"])
		_, _ = io.WriteString(w, `{"concepts": [{"term": "Flow"}, {"term": "Focus"}]}`)
	}))
	defer server.Close()

	concepts, err := NewClient(server.URL).ExtractConcepts(context.Background(), "Flow needs focus.")
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	assert.Equal(t, "Flow", concepts[0].Term)
	assert.Nil(t, concepts[0].Definition)
	assert.Equal(t, "Focus", concepts[1].Term)
}

func TestClient_ExtractConceptsErrors(t *testing.T) {
	_, err := NewClient("http://unused").ExtractConcepts(context.Background(), " \n")
	assert.EqualError(t, err, "ExtractConcepts: text cannot be empty")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail": "Text cannot be empty"}`)
	}))
	defer server.Close()

	_, err = NewClient(server.URL).ExtractConcepts(context.Background(), "x")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "ExtractConcepts", apiErr.Op)
}

func TestClient_ExtractConceptsEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"concepts": null}`)
	}))
	defer server.Close()

	concepts, err := NewClient(server.URL).ExtractConcepts(context.Background(), "x")
	require.NoError(t, err)
	assert.NotNil(t, concepts)
	assert.Empty(t, concepts)
}
