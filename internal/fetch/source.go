package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/sociosbot/sociosbot/internal/storage"
)

// Source yields the raw bytes of the remote database artifact.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// HTTPSource downloads from a file-sharing URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewFileShareSource builds the download URL from a template containing one
// %s verb and a fixed file identifier.
func NewFileShareSource(urlTemplate, fileID string, client *http.Client) (*HTTPSource, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("file id is required")
	}
	if !strings.Contains(urlTemplate, "%s") {
		return nil, fmt.Errorf("url template %q has no %%s placeholder", urlTemplate)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{URL: fmt.Sprintf(urlTemplate, fileID), Client: client}, nil
}

func (s *HTTPSource) Name() string {
	return s.URL
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download failed status=%d", resp.StatusCode)
	}
	// File-sharing services answer with an HTML interstitial (quota, virus
	// scan, permission page) instead of the file.
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mediaType == "text/html" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download returned an HTML page instead of a database file")
	}
	return resp.Body, nil
}

// ObjectSource reads the artifact from an object store bucket.
type ObjectSource struct {
	Store storage.ObjectReader
	Key   string
}

func (s *ObjectSource) Name() string {
	return "object:" + s.Key
}

func (s *ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	info, err := s.Store.Stat(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("stat object %q: %w", s.Key, err)
	}
	if mediaType, _, err := mime.ParseMediaType(info.ContentType); err == nil && mediaType == "text/html" {
		return nil, fmt.Errorf("object %q is an HTML document, not a database file", s.Key)
	}
	reader, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", s.Key, err)
	}
	return reader, nil
}
