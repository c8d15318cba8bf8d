package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"agent_id": "alice.aid.pub"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestGetToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file-contents"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	var lastTransferred int64

	c := New()
	err := c.GetToFile(context.Background(), srv.URL, dest, func(transferred, total int64) {
		lastTransferred = transferred
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "file-contents", string(data))
	assert.Equal(t, int64(len("file-contents")), lastTransferred)
}

func TestPostMultipart(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "upload.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello upload"), 0o644))

	var gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotField = r.FormValue("group_id")
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	resp, err := c.PostMultipart(context.Background(), srv.URL, "file", srcPath,
		[]MultipartField{{Name: "group_id", Value: "g1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "g1", gotField)
}

func TestDialHookIsConsultedBeforeSystemResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	called := false
	c := New(WithDialHook(func(ctx context.Context, host string) (string, error) {
		called = true
		return "", nil // fall back to system resolver
	}))
	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, called)
}
