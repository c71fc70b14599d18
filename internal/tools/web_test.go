package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearchTool(t *testing.T) {
	var gotQuery, gotCount, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Go","url":"https://go.dev","description":"The Go language"},
			{"title":"Tour","url":"https://go.dev/tour"}
		]}}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool("key-1", 5)
	tool.endpoint = srv.URL

	out, err := tool.Execute(context.Background(), Origin{}, map[string]any{"query": "golang", "count": 2})
	require.NoError(t, err)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "2", gotCount)
	assert.Equal(t, "key-1", gotToken)
	assert.Contains(t, out, "Results for: golang")
	assert.Contains(t, out, "1. Go\n   https://go.dev\n   The Go language")
	assert.Contains(t, out, "2. Tour\n   https://go.dev/tour")
}

func TestWebSearchToolRequiresKey(t *testing.T) {
	out, _ := NewWebSearchTool("", 5).Execute(context.Background(), Origin{}, map[string]any{"query": "x"})
	assert.Equal(t, "Error: BRAVE_API_KEY not configured", out)
}

func TestWebSearchToolClampsMaxResults(t *testing.T) {
	assert.Equal(t, 10, NewWebSearchTool("k", 50).maxResults)
	assert.Equal(t, 1, NewWebSearchTool("k", 0).maxResults)
}

func TestWebFetchToolHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>t</title><style>p{}</style></head>
			<body><h1>Heading</h1><script>alert(1)</script><p>First   paragraph.</p>
			<ul><li>one</li><li>two</li></ul></body></html>`))
	}))
	defer srv.Close()

	out, err := NewWebFetchTool(0).Execute(context.Background(), Origin{}, map[string]any{"url": srv.URL})
	require.NoError(t, err)

	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "html", res.Extractor)
	assert.Contains(t, res.Text, "Heading")
	assert.Contains(t, res.Text, "First paragraph.")
	assert.Contains(t, res.Text, "- one")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "p{}")
}

func TestWebFetchToolJSONAndTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"k":"` + strings.Repeat("v", 500) + `"}`))
	}))
	defer srv.Close()

	out, _ := NewWebFetchTool(0).Execute(context.Background(), Origin{}, map[string]any{"url": srv.URL, "maxChars": 100})
	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "json", res.Extractor)
	assert.True(t, res.Truncated)
	assert.Equal(t, 100, res.Length)
	assert.True(t, strings.HasPrefix(res.Text, "{\n  \"k\""))
}

func TestWebFetchToolRejectsBadScheme(t *testing.T) {
	out, _ := NewWebFetchTool(0).Execute(context.Background(), Origin{}, map[string]any{"url": "file:///etc/passwd"})
	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Error, "only http/https allowed")
}
