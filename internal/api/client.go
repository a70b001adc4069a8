// Package api uploads finished run exports to a results server.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/resourceflow/flowsim/pkg/core"
)

const (
	healthPath = "/healthcheck"
	runsPath   = "/api/v1/runs"
	apiKeyHdr  = "X-API-Key"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Path, e.Code, e.Body)
}

// Client talks to the results server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck reports whether the server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, healthPath, nil, "")
}

// Upload streams an exported run as a multipart form: a "meta" JSON field
// followed by the file. Exports that are not gzipped yet are compressed on
// the way out and get a ".gz" suffix.
func (c *Client) Upload(ctx context.Context, filePath string, meta core.UploadMetadata) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	name := filepath.Base(filePath)
	compress := !strings.HasSuffix(name, ".gz")
	if compress {
		name += ".gz"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, name, meta, f, compress))
	}()

	err = c.do(ctx, http.MethodPost, runsPath, pr, mw.FormDataContentType())
	// unblocks the form writer if the server answered before reading it all
	pr.Close()
	return err
}

func writeForm(mw *multipart.Writer, name string, meta core.UploadMetadata, src io.Reader, compress bool) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := mw.WriteField("meta", string(metaJSON)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if compress {
		zw := gzip.NewWriter(part)
		if _, err := io.Copy(zw, src); err != nil {
			return fmt.Errorf("failed to compress export: %w", err)
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to copy export: %w", err)
	}
	return mw.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHdr, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
