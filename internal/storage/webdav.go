package storage

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/emersion/go-webdav"

	"github.com/spheredev/sphere/internal/config"
	"github.com/spheredev/sphere/internal/httpkit"
)

// WebDAVStore implements Store against a WebDAV volume (InfiniCLOUD in
// production). Reads go through the TTL cache; writes invalidate the
// affected file and its directory listing.
type WebDAVStore struct {
	client    *webdav.Client
	fileCache *Cache
	listCache *Cache
	logger    *slog.Logger
}

func NewWebDAV(cfg config.StorageConfig, logger *slog.Logger) (*WebDAVStore, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(httpkit.NewClient(), cfg.Username, cfg.Password)
	client, err := webdav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, err
	}
	return &WebDAVStore{
		client:    client,
		fileCache: NewCache(),
		listCache: NewCache(),
		logger:    logger,
	}, nil
}

// The client surfaces HTTP failures as formatted errors; the status
// code only survives in the message text, rendered as "404 Not Found".
// Matching the full status text keeps a "404" inside a URL or server
// message from passing as absence.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404 Not Found")
}

func (s *WebDAVStore) List(ctx context.Context, dir string) ([]string, error) {
	if v, ok := s.listCache.Get(dir, ListTTL); ok {
		return v.([]string), nil
	}

	infos, err := s.client.ReadDir(ctx, dir, false)
	if err != nil {
		if isNotFound(err) {
			return nil, &OpError{Op: "list", Path: dir, Err: ErrNotFound}
		}
		// A stale listing beats an error on the chat path.
		if v, ok := s.listCache.GetStale(dir); ok {
			s.logger.Warn("list failed, serving stale cache", "dir", dir, "error", err)
			return v.([]string), nil
		}
		return nil, &OpError{Op: "list", Path: dir, Err: err}
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir {
			continue
		}
		names = append(names, path.Base(info.Path))
	}
	sort.Strings(names)

	s.listCache.Set(dir, names)
	return names, nil
}

func (s *WebDAVStore) Read(ctx context.Context, p string) (string, error) {
	if v, ok := s.fileCache.Get(p, FileTTL); ok {
		return v.(string), nil
	}

	rc, err := s.client.Open(ctx, p)
	if err != nil {
		if isNotFound(err) {
			return "", &OpError{Op: "read", Path: p, Err: ErrNotFound}
		}
		return "", &OpError{Op: "read", Path: p, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", &OpError{Op: "read", Path: p, Err: err}
	}

	content := string(data)
	s.fileCache.Set(p, content)
	return content, nil
}

func (s *WebDAVStore) Write(ctx context.Context, p string, content string) error {
	wc, err := s.client.Create(ctx, p)
	if err != nil {
		return &OpError{Op: "write", Path: p, Err: err}
	}
	if _, err := io.WriteString(wc, content); err != nil {
		wc.Close()
		return &OpError{Op: "write", Path: p, Err: err}
	}
	// The PUT completes at Close.
	if err := wc.Close(); err != nil {
		return &OpError{Op: "write", Path: p, Err: err}
	}

	s.fileCache.Set(p, content)
	s.listCache.Invalidate(path.Dir(p))
	return nil
}

func (s *WebDAVStore) Delete(ctx context.Context, p string) error {
	if err := s.client.RemoveAll(ctx, p); err != nil && !isNotFound(err) {
		return &OpError{Op: "delete", Path: p, Err: err}
	}
	s.fileCache.Invalidate(p)
	s.listCache.Invalidate(path.Dir(p))
	return nil
}
