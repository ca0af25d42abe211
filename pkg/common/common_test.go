package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSyncRef(t *testing.T) {
	ref := GenerateSyncRef()
	assert.True(t, strings.HasPrefix(ref, "SYNC-"))
	assert.Len(t, ref, 13)
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Offset(1, 50))
	assert.Equal(t, 50, Offset(2, 50))
	assert.Equal(t, 0, Offset(0, 50))
	assert.Equal(t, 0, Offset(-3, 50))
}

func TestPaginateResponse(t *testing.T) {
	data := []string{"a", "b"}

	result := PaginateResponse(data, 45, 2, 10, "")
	assert.Equal(t, "success", result.Message)
	assert.Equal(t, int64(45), result.Count)
	assert.Equal(t, 2, result.CurrentPage)
	assert.Equal(t, 3, result.NextPage)
	assert.Equal(t, 1, result.PrevPage)
	assert.Equal(t, 5, result.LastPage)

	// Last page has no next, first page has no previous.
	result = PaginateResponse(data, 45, 5, 10, "done")
	assert.Equal(t, "done", result.Message)
	assert.Equal(t, 0, result.NextPage)

	result = PaginateResponse(data, 45, 1, 10, "")
	assert.Equal(t, 0, result.PrevPage)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"name":"value"}`))
	}))
	t.Cleanup(srv.Close)

	resp, err := GetJSON(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer token"})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "value", body.Name)
}

func TestGetJSONKeepsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte("slow down"))
	}))
	t.Cleanup(srv.Close)

	resp, err := GetJSON(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "slow down", string(resp.Body))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(201)
	}))
	t.Cleanup(srv.Close)

	resp, err := PostJSON(context.Background(), srv.URL, map[string]int{"schoolId": 1}, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, 201, resp.StatusCode)
}

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		w.WriteHeader(200)
	}))
	t.Cleanup(srv.Close)

	data := url.Values{}
	data.Set("grant_type", "refresh_token")

	resp, err := PostForm(context.Background(), srv.URL, data)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
}

func TestResponses(t *testing.T) {
	success := NewSuccessResponse(map[string]int{"count": 3}, "ok")
	assert.True(t, success.Success)
	assert.Equal(t, http.StatusOK, success.Status)
	assert.Equal(t, "ok", success.Message)

	failure := NewErrorResponse("bad request", nil, http.StatusBadRequest)
	assert.False(t, failure.Success)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
}
