// Package hub is the client for a HuggingFace-Hub-compatible model registry.
// It implements the catalog side of the download core: listing repository
// files with sizes and digests, per-file metadata, and resolve URLs for the
// transport layer.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/logctx"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to a hub API over HTTP. It maps hub responses onto the
// download error taxonomy: 401/403 become AuthError, 404 NotFoundError and
// 5xx NetworkError, so the retry policy can classify them without knowing
// about HTTP.
type Client struct {
	baseURL    string
	auth       download.AuthProvider
	httpClient *http.Client
}

// NewClient creates a hub client. auth may be nil for anonymous access.
func NewClient(baseURL string, auth download.AuthProvider) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// modelResponse is the subset of the hub's model endpoint we consume. The
// siblings list carries repository files; LFS-tracked files report their real
// size and sha256 under the lfs key.
type modelResponse struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size"`
		LFS       struct {
			OID  string `json:"oid"`
			Size int64  `json:"size"`
		} `json:"lfs"`
	} `json:"siblings"`
}

// ListFiles implements download.Catalog.
func (c *Client) ListFiles(ctx context.Context, resourceID, revision string) ([]download.FileDescriptor, error) {
	logger := logctx.LoggerFromContext(ctx).With("resource_id", resourceID, "revision", revision)

	endpoint := fmt.Sprintf("%s/api/models/%s/revision/%s",
		c.baseURL, escapePath(resourceID), url.PathEscape(revision))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &download.NetworkError{Operation: "list_files", Err: err}
	}

	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode, "list_files", resourceID, ""); err != nil {
		return nil, err
	}

	var model modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return nil, fmt.Errorf("failed to decode model listing: %w", err)
	}

	files := make([]download.FileDescriptor, 0, len(model.Siblings))

	for _, s := range model.Siblings {
		fd := download.FileDescriptor{Path: s.RFilename, Size: s.Size}

		if s.LFS.Size > 0 {
			fd.Size = s.LFS.Size
		}

		if s.LFS.OID != "" {
			fd.Hash = s.LFS.OID
		}

		files = append(files, fd)
	}

	logger.DebugContext(ctx, "listed repository files", "file_count", len(files))

	return files, nil
}

// FileMetadata implements download.Catalog via a HEAD on the resolve URL.
func (c *Client) FileMetadata(ctx context.Context, resourceID, revision, path string) (download.FileDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.ResolveURL(resourceID, revision, path), nil)
	if err != nil {
		return download.FileDescriptor{}, fmt.Errorf("failed to build metadata request: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return download.FileDescriptor{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return download.FileDescriptor{}, &download.NetworkError{Operation: "file_metadata", Err: err}
	}

	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode, "file_metadata", resourceID, path); err != nil {
		return download.FileDescriptor{}, err
	}

	fd := download.FileDescriptor{Path: path, Size: resp.ContentLength}

	// The hub exposes the LFS sha256 for large files on a dedicated header.
	if etag := resp.Header.Get("X-Linked-ETag"); etag != "" {
		fd.Hash = strings.Trim(etag, `"`)
	}

	return fd, nil
}

// ResolveURL returns the byte-download URL for one repository file.
func (c *Client) ResolveURL(resourceID, revision, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		c.baseURL, escapePath(resourceID), url.PathEscape(revision), escapePath(path))
}

// Authorize sets the bearer header on an outgoing request when a credential
// is available. Exposed for the transport, which fetches from resolve URLs.
func (c *Client) Authorize(ctx context.Context, req *http.Request) error {
	return c.authorize(ctx, req)
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.auth == nil {
		return nil
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return &download.AuthError{Operation: req.URL.Path, Err: err}
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return nil
}

func (c *Client) checkStatus(status int, operation, resourceID, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &download.AuthError{Operation: operation}
	case status == http.StatusNotFound:
		return &download.NotFoundError{ResourceID: resourceID, Path: path}
	default:
		return &download.NetworkError{
			Operation:  operation,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status %d", status),
		}
	}
}

// escapePath escapes each segment of a slash-separated path, keeping the
// slashes intact so "org/model" stays a two-segment URL path.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}
