package httpexec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestPaginatePageNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(w, map[string]any{
			"data":     []any{fmt.Sprintf("item-%d-a", p), fmt.Sprintf("item-%d-b", p)},
			"has_more": p < 3,
		})
	}))
	defer server.Close()

	c := testClient()
	result, err := c.Paginate(context.Background(), "n1", Request{URL: server.URL}, Policy{}, PageSpec{
		Strategy:    StrategyPageNumber,
		ItemsPath:   "body.data",
		HasMorePath: "body.has_more",
		PageSize:    2,
		MaxPages:    10,
	}, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.PagesFetched)
	assert.Len(t, result.Items, 6)
	assert.Equal(t, "item-1-a", result.Items[0])
	assert.Equal(t, 200, result.StatusCode)
}

func TestPaginateNextURL(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/p1":
			writeJSON(w, map[string]any{"data": []any{"a"}, "next": server.URL + "/p2"})
		case "/p2":
			writeJSON(w, map[string]any{"data": []any{"b"}, "next": ""})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := testClient()
	result, err := c.Paginate(context.Background(), "n1", Request{URL: server.URL + "/p1"}, Policy{}, PageSpec{
		Strategy:       StrategyNextURL,
		ItemsPath:      "body.data",
		NextCursorPath: "body.next",
	}, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesFetched)
	assert.Equal(t, []any{"a", "b"}, result.Items)
}

func TestPaginateCursorParam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(w, map[string]any{"data": []any{"a"}, "cursor": "c2"})
		case "c2":
			writeJSON(w, map[string]any{"data": []any{"b"}, "cursor": nil})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := testClient()
	result, err := c.Paginate(context.Background(), "n1", Request{URL: server.URL}, Policy{}, PageSpec{
		Strategy:       StrategyCursorParam,
		ItemsPath:      "body.data",
		NextCursorPath: "body.cursor",
	}, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesFetched)
	assert.Equal(t, []any{"a", "b"}, result.Items)
}

func TestPaginateOffsetLimit(t *testing.T) {
	all := []any{"a", "b", "c", "d", "e"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		if offset > len(all) {
			offset = len(all)
		}
		writeJSON(w, map[string]any{"data": all[offset:end]})
	}))
	defer server.Close()

	c := testClient()
	result, err := c.Paginate(context.Background(), "n1", Request{URL: server.URL}, Policy{}, PageSpec{
		Strategy:  StrategyOffsetLimit,
		ItemsPath: "body.data",
		PageSize:  2,
	}, map[string]any{})
	require.NoError(t, err)

	// Pages of 2,2,1: the short page stops the loop.
	assert.Equal(t, 3, result.PagesFetched)
	assert.Equal(t, all, result.Items)
}

func TestPaginateRespectsMaxPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{"x"}, "has_more": true})
	}))
	defer server.Close()

	c := testClient()
	result, err := c.Paginate(context.Background(), "n1", Request{URL: server.URL}, Policy{}, PageSpec{
		Strategy:    StrategyPageNumber,
		ItemsPath:   "body.data",
		HasMorePath: "body.has_more",
		MaxPages:    4,
	}, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 4, result.PagesFetched)
	assert.Len(t, result.Items, 4)
}

func TestPaginateUnknownStrategy(t *testing.T) {
	c := testClient()
	_, err := c.Paginate(context.Background(), "n1", Request{URL: "http://unused.test"}, Policy{}, PageSpec{
		Strategy: "spiral",
	}, map[string]any{})
	require.Error(t, err)
}
