package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourceflow/flowsim/pkg/core"
)

type received struct {
	apiKey   string
	meta     core.UploadMetadata
	filename string
	content  []byte
}

// runsServer accepts uploads and decodes them into got.
func runsServer(t *testing.T, got *received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, runsPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		got.apiKey = r.Header.Get(apiKeyHdr)

		if !assert.NoError(t, r.ParseMultipartForm(10<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("meta")), &got.meta))

		file, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		got.filename = hdr.Filename
		got.content, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeExport(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func gunzip(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "secret", c.apiKey)
	assert.NotNil(t, c.httpClient)
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		assert.Empty(t, r.Header.Get(apiKeyHdr))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	assert.ErrorContains(t, New(url, "").Healthcheck(context.Background()), "request failed")
}

func TestHealthcheck_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL, "").Healthcheck(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "maintenance", se.Body)
	assert.Equal(t, "/healthcheck returned status 503: maintenance", err.Error())
}

func TestUpload_CompressesPlainExport(t *testing.T) {
	var got received
	srv := runsServer(t, &got)

	path := writeExport(t, "tank_drain_20260301_120000.json", []byte(`{"runName":"tank drain"}`))
	meta := core.UploadMetadata{RunName: "tank drain", Ticks: 500, Duration: 10.5, Vessels: 2, Tag: "regression"}
	require.NoError(t, New(srv.URL, "mysecret").Upload(context.Background(), path, meta))

	assert.Equal(t, "mysecret", got.apiKey)
	assert.Equal(t, meta, got.meta)
	assert.Equal(t, "tank_drain_20260301_120000.json.gz", got.filename)
	assert.Equal(t, `{"runName":"tank drain"}`, gunzip(t, got.content))
}

func TestUpload_GzippedExportSentAsIs(t *testing.T) {
	var got received
	srv := runsServer(t, &got)

	path := writeExport(t, "probe.json.gz", []byte("already compressed"))
	require.NoError(t, New(srv.URL, "").Upload(context.Background(), path, core.UploadMetadata{RunName: "probe"}))

	assert.Equal(t, "probe.json.gz", got.filename)
	assert.Equal(t, "already compressed", string(got.content))
	assert.Equal(t, "probe", got.meta.RunName)
	assert.Empty(t, got.apiKey)
}

func TestUpload_FileNotFound(t *testing.T) {
	err := New("http://localhost:5000", "secret").Upload(context.Background(), "/nonexistent/run.json.gz", core.UploadMetadata{})
	assert.ErrorContains(t, err, "failed to open export")
}

func TestUpload_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	path := writeExport(t, "run.json.gz", []byte("content"))
	err := New(srv.URL, "wrong").Upload(context.Background(), path, core.UploadMetadata{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, runsPath, se.Path)
}
