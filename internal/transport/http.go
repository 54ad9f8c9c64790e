// Package transport streams single files from the hub to local disk with
// byte-range resume and cooperative cancellation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/hub"
	"github.com/modzoo/hubfetch/internal/logctx"
	"github.com/modzoo/hubfetch/internal/transport/progress"
)

const (
	dirPerm = 0755

	// defaultReportInterval throttles byte-progress callbacks.
	defaultReportInterval = 1024 * 1024
)

// HTTP fetches files from hub resolve URLs. It supports byte-offset resume
// via Range requests, so a paused transfer continues where it stopped.
type HTTP struct {
	hub            *hub.Client
	httpClient     *http.Client
	reportInterval int64
}

// NewHTTP creates a transport backed by the given hub client. No client-level
// timeout is set: multi-gigabyte fetches are bounded per attempt by the
// caller's context instead.
func NewHTTP(hubClient *hub.Client) *HTTP {
	return &HTTP{
		hub:            hubClient,
		httpClient:     &http.Client{},
		reportInterval: defaultReportInterval,
	}
}

// SupportsResume implements download.Transport.
func (t *HTTP) SupportsResume() bool { return true }

// Fetch implements download.Transport. It appends to req.Dest when
// req.Offset is positive and the server honors the range; otherwise it
// rewrites the file from the start. Returns the bytes present on disk.
func (t *HTTP) Fetch(ctx context.Context, req download.FetchRequest) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("resource_id", req.ResourceID, "file_path", req.File.Path)

	if err := os.MkdirAll(filepath.Dir(req.Dest), dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create target directory: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.hub.ResolveURL(req.ResourceID, req.Revision, req.File.Path), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build fetch request: %w", err)
	}

	if err := t.hub.Authorize(ctx, httpReq); err != nil {
		return 0, err
	}

	offset := req.Offset
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return offset, ctx.Err()
		}

		return offset, &download.NetworkError{Operation: "fetch", Err: err}
	}

	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Nothing left to fetch; the file on disk is already complete.
		return offset, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return offset, &download.AuthError{Operation: "fetch"}
	case resp.StatusCode == http.StatusNotFound:
		return offset, &download.NotFoundError{ResourceID: req.ResourceID, Path: req.File.Path}
	case resp.StatusCode >= 400:
		return offset, &download.NetworkError{
			Operation:  "fetch",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	// A 200 to a ranged request means the server ignored the range; start
	// the file over.
	if offset > 0 && resp.StatusCode == http.StatusOK {
		logger.DebugContext(ctx, "server ignored range request, restarting file")

		offset = 0
	}

	out, err := t.openDest(req.Dest, offset)
	if err != nil {
		return offset, err
	}

	defer out.Close()

	total := req.File.Size
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	logger.DebugContext(ctx, "fetching file",
		"offset", offset,
		"file_size", humanize.Bytes(uint64(total)))

	pr := progress.NewReader(resp.Body, total, t.reportInterval, func(written, totalBytes int64) {
		if req.OnProgress != nil {
			req.OnProgress(offset+written, totalBytes)
		}
	})

	written, err := io.Copy(out, pr)
	if err != nil {
		if ctx.Err() != nil {
			// Cooperative cancellation or a per-attempt deadline; keep the
			// partial bytes for a ranged resume.
			return offset + written, ctx.Err()
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			return offset + written, err
		}

		return offset + written, &download.NetworkError{Operation: "fetch", Err: err}
	}

	return offset + written, nil
}

func (t *HTTP) openDest(dest string, offset int64) (*os.File, error) {
	if offset > 0 {
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open target file for resume: %w", err)
		}

		return out, nil
	}

	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create target file: %w", err)
	}

	return out, nil
}
