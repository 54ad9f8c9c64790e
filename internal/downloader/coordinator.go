// Package downloader orchestrates model downloads: one state machine per
// resource, single-flight admission, pre-flight validation, retried
// transfers and a push-based progress event stream.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modzoo/hubfetch/internal/diskguard"
	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/identity"
	"github.com/modzoo/hubfetch/internal/logctx"
	"github.com/modzoo/hubfetch/internal/retrypolicy"
	"github.com/modzoo/hubfetch/internal/selection"
	"github.com/modzoo/hubfetch/internal/storage"
	"github.com/modzoo/hubfetch/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// metadataParallelism bounds concurrent per-file metadata lookups during
// pre-flight size resolution.
const metadataParallelism = 4

// Request names one download: which resource, for which backend, and any
// caller overrides.
type Request struct {
	ResourceID       string
	Backend          download.Backend
	Revision         string
	FilenameOverride string
}

// Failure pairs a resource with the terminal error that stopped it.
type Failure struct {
	ResourceID string
	Err        error
}

// Options tunes a Coordinator beyond its required collaborators.
type Options struct {
	Revision       string
	DeviceMemory   int64
	AttemptTimeout time.Duration
	Policy         retrypolicy.Policy
	Selectors      *selection.Registry
	Models         storage.ModelRepository
	History        storage.HistoryRepository
	Telemetry      *telemetry.Telemetry
}

// Coordinator drives the per-resource download state machine:
//
//	not_started --start--> downloading <--resume/pause--> paused
//	downloading --all files done--> completed
//	downloading --terminal error--> failed
//	downloading|paused --cancel--> not_started
//
// Transfers for different resources run independently; within one resource a
// single goroutine owns all mutation.
type Coordinator struct {
	catalog   download.Catalog
	transport download.Transport
	blobs     download.Blobstore
	resolver  *identity.Resolver
	selectors *selection.Registry
	policy    retrypolicy.Policy
	models    storage.ModelRepository
	history   storage.HistoryRepository
	telemetry *telemetry.Telemetry
	registry  *Registry

	revision       string
	deviceMemory   int64
	attemptTimeout time.Duration
	instanceID     string

	mu        sync.Mutex
	lastState map[string]download.DownloadStatus
	closed    bool

	OnDownloadFinished chan download.ModelInfo
	OnDownloadFailed   chan Failure
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(catalog download.Catalog, transport download.Transport, blobs download.Blobstore, opts Options) *Coordinator {
	if opts.Selectors == nil {
		opts.Selectors = selection.DefaultRegistry()
	}

	if opts.Policy == (retrypolicy.Policy{}) {
		opts.Policy = retrypolicy.Default()
	}

	if opts.Revision == "" {
		opts.Revision = download.DefaultRevision
	}

	return &Coordinator{
		catalog:            catalog,
		transport:          transport,
		blobs:              blobs,
		resolver:           identity.NewResolver(),
		selectors:          opts.Selectors,
		policy:             opts.Policy,
		models:             opts.Models,
		history:            opts.History,
		telemetry:          opts.Telemetry,
		registry:           NewRegistry(),
		revision:           opts.Revision,
		deviceMemory:       opts.DeviceMemory,
		attemptTimeout:     opts.AttemptTimeout,
		instanceID:         storage.GenerateInstanceID(),
		lastState:          make(map[string]download.DownloadStatus),
		OnDownloadFinished: make(chan download.ModelInfo, 16),
		OnDownloadFailed:   make(chan Failure, 16),
	}
}

// Download starts (or attaches to) a transfer and returns its event stream:
// zero or more progress events with non-decreasing fraction, then exactly one
// terminal event, then close. Cancelling ctx before the terminal event
// cancels the underlying transfer and resets the resource to not_started.
func (c *Coordinator) Download(ctx context.Context, req Request) (<-chan download.Event, error) {
	t, err := c.start(ctx, req)
	if err != nil {
		return nil, err
	}

	sub := t.subscribe(true)

	go func() {
		select {
		case <-ctx.Done():
			t.markCancelled()
		case <-t.done:
		}

		t.unsubscribe(sub.id)
	}()

	return sub.ch, nil
}

// Start begins a transfer without subscribing. A start for a resource that is
// already in flight is a no-op attach.
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	_, err := c.start(ctx, req)

	return err
}

// Subscribe attaches an observer to a live transfer. Observer disconnection
// never cancels the transfer. Returns ErrInvalidTransition when nothing is in
// flight for the resource.
func (c *Coordinator) Subscribe(ctx context.Context, resourceID string) (<-chan download.Event, error) {
	t, ok := c.registry.Get(resourceID)
	if !ok {
		return nil, download.ErrInvalidTransition
	}

	sub := t.subscribe(false)

	go func() {
		select {
		case <-ctx.Done():
		case <-t.done:
		}

		t.unsubscribe(sub.id)
	}()

	return sub.ch, nil
}

// Pause suspends a downloading transfer, keeping its partial bytes.
func (c *Coordinator) Pause(resourceID string) error {
	t, ok := c.registry.Get(resourceID)
	if !ok || !t.markPaused() {
		return download.ErrInvalidTransition
	}

	return nil
}

// Resume continues a paused transfer from its checkpoint.
func (c *Coordinator) Resume(resourceID string) error {
	t, ok := c.registry.Get(resourceID)
	if !ok || !t.markResumed() {
		return download.ErrInvalidTransition
	}

	return nil
}

// Cancel stops a live transfer and resets the resource to not_started, so a
// later start begins fresh.
func (c *Coordinator) Cancel(resourceID string) error {
	t, ok := c.registry.Get(resourceID)
	if !ok {
		return download.ErrInvalidTransition
	}

	t.markCancelled()

	return nil
}

// State reports the externally visible status of a resource.
func (c *Coordinator) State(resourceID string) download.DownloadStatus {
	if t, ok := c.registry.Get(resourceID); ok {
		return t.snapshotStatus()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.lastState[resourceID]; ok {
		return s
	}

	return download.DownloadStatus{State: download.StateNotStarted}
}

// Progress reports the latest progress snapshot of a live transfer.
func (c *Coordinator) Progress(resourceID string) (download.DownloadProgress, bool) {
	t, ok := c.registry.Get(resourceID)
	if !ok {
		return download.DownloadProgress{}, false
	}

	return t.snapshotProgress(), true
}

// Close cancels all in-flight transfers and waits for their goroutines to
// publish terminal events.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	live := c.registry.Live()

	for _, t := range live {
		t.markCancelled()
	}

	for _, t := range live {
		<-t.done
	}
}

func (c *Coordinator) start(ctx context.Context, req Request) (*task, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil, fmt.Errorf("coordinator is closed")
	}
	c.mu.Unlock()

	if req.ResourceID == "" {
		return nil, fmt.Errorf("resource id is required")
	}

	id := c.resolver.Resolve(req.ResourceID)

	// The transfer outlives the caller's request context: only an explicit
	// cancel (or Close) tears it down.
	transferCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t, admitted := c.registry.Admit(req.ResourceID, func() *task {
		return newTask(req.ResourceID, id, req.Backend, cancel)
	})

	if !admitted {
		// Second start while in flight: attach to the existing transfer.
		cancel()

		return t, nil
	}

	c.setLastState(req.ResourceID, download.DownloadStatus{State: download.StateDownloading})

	go c.run(transferCtx, t, req)

	return t, nil
}

// run owns the whole lifecycle of one admitted transfer and is its only
// status writer.
func (c *Coordinator) run(ctx context.Context, t *task, req Request) {
	logger := logctx.LoggerFromContext(ctx).With("resource_id", t.resourceID, "identity", t.identity)

	var info *download.ModelInfo

	err := c.telemetry.InstrumentDownload(ctx, t.resourceID, string(req.Backend), func(ctx context.Context) error {
		var transferErr error

		info, transferErr = c.transfer(logctx.WithLogger(ctx, logger), t, req)

		return transferErr
	})

	c.registry.Release(t.resourceID, t)

	switch {
	case err == nil:
		logger.Info("download completed",
			"location", info.Location,
			"total_size", humanize.Bytes(uint64(info.TotalSize)))

		c.setLastState(t.resourceID, download.DownloadStatus{State: download.StateCompleted, Fraction: 1})
		t.setState(download.StateCompleted)
		c.saveModel(context.WithoutCancel(ctx), *info)
		c.recordOutcome(ctx, t, "completed", "")
		t.finish(download.Event{Completed: info})

		select {
		case c.OnDownloadFinished <- *info:
		default:
		}
	case errors.Is(err, download.ErrCancelled) || errors.Is(err, context.Canceled):
		logger.Info("download cancelled")

		// Cancel is an explicit reset, not a failure: partial bytes are
		// discarded so the next start begins fresh.
		if discardErr := c.blobs.Discard(t.identity); discardErr != nil {
			logger.Error("failed to discard cancelled scratch data", "err", discardErr)
		}

		c.setLastState(t.resourceID, download.DownloadStatus{State: download.StateNotStarted})
		t.setState(download.StateNotStarted)
		c.recordOutcome(ctx, t, "cancelled", "")
		t.finish(download.Event{Err: download.ErrCancelled})
	default:
		logger.Error("download failed", "err", err)

		c.setLastState(t.resourceID, download.DownloadStatus{State: download.StateFailed, Err: err})
		t.setState(download.StateFailed)
		c.recordOutcome(ctx, t, "failed", err.Error())
		t.finish(download.Event{Err: err})

		select {
		case c.OnDownloadFailed <- Failure{ResourceID: t.resourceID, Err: err}:
		default:
		}
	}

	t.cancel()
	close(t.done)
}

// transfer performs pre-flight and the file loop. Selection and capacity
// checks fail fast, before any byte moves.
func (c *Coordinator) transfer(ctx context.Context, t *task, req Request) (*download.ModelInfo, error) {
	logger := logctx.LoggerFromContext(ctx)

	revision := req.Revision
	if revision == "" {
		revision = c.revision
	}

	var files []download.FileDescriptor

	err := c.withRetry(ctx, "list_files", func(ctx context.Context) error {
		var listErr error

		files, listErr = c.catalog.ListFiles(ctx, t.resourceID, revision)

		return listErr
	})
	if err != nil {
		return nil, err
	}

	hints := selection.Hints{
		FilenameOverride: req.FilenameOverride,
		AvailableMemory:  c.deviceMemory,
	}

	selected := c.selectors.For(req.Backend).Select(files, hints)
	if len(selected) == 0 {
		return nil, &download.NotFoundError{ResourceID: t.resourceID, Path: req.FilenameOverride}
	}

	if err := c.resolveUnknownSizes(ctx, t.resourceID, revision, selected); err != nil {
		return nil, err
	}

	available, err := c.blobs.AvailableSpace()
	if err != nil {
		return nil, fmt.Errorf("failed to check available space: %w", err)
	}

	if err := diskguard.EnsureCapacity(selected, available); err != nil {
		return nil, err
	}

	scratch, err := c.blobs.ScratchDir(t.identity)
	if err != nil {
		return nil, err
	}

	totalBytes := int64(0)
	for _, f := range selected {
		totalBytes += f.Size
	}

	logger.Info("starting transfer",
		"file_count", len(selected),
		"revision", revision,
		"total_size", humanize.Bytes(uint64(totalBytes)))

	var completedBytes int64

	for i, f := range selected {
		if t.isCancelled() || ctx.Err() != nil {
			return nil, download.ErrCancelled
		}

		dest := filepath.Join(scratch, filepath.FromSlash(f.Path))

		written, err := c.fetchFile(ctx, t, revision, f, dest, fileProgress{
			completedBytes: completedBytes,
			totalBytes:     totalBytes,
			filesCompleted: i,
			totalFiles:     len(selected),
		})
		if err != nil {
			return nil, err
		}

		if f.Hash != "" {
			if err := c.blobs.Verify(dest, f.Hash); err != nil {
				var checksumErr *download.ChecksumError
				if errors.As(err, &checksumErr) {
					// Corrupt bytes must not be resumed; force the next
					// start to refetch from scratch.
					if discardErr := c.blobs.Discard(t.identity); discardErr != nil {
						logger.Error("failed to discard corrupt scratch data", "err", discardErr)
					}
				}

				return nil, err
			}
		}

		completedBytes += written

		t.publishProgress(download.DownloadProgress{
			BytesDownloaded: completedBytes,
			TotalBytes:      totalBytes,
			FilesCompleted:  i + 1,
			TotalFiles:      len(selected),
			CurrentFileName: f.Path,
		})

		logger.Debug("file transferred", "file_path", f.Path, "file_size", humanize.Bytes(uint64(written)))
	}

	location, err := c.blobs.Finalize(t.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize download: %w", err)
	}

	return &download.ModelInfo{
		ID:           t.identity,
		Name:         path.Base(t.resourceID),
		ResourceID:   t.resourceID,
		Backend:      req.Backend,
		Location:     location,
		TotalSize:    completedBytes,
		DownloadDate: time.Now().UTC(),
		Metadata: map[string]string{
			"revision":   revision,
			"file_count": fmt.Sprintf("%d", len(selected)),
		},
	}, nil
}

type fileProgress struct {
	completedBytes int64
	totalBytes     int64
	filesCompleted int
	totalFiles     int
}

// fetchFile transfers one file with pause/resume checkpoints and per-attempt
// retries. The retry budget is scoped to this file and resets once it
// completes.
func (c *Coordinator) fetchFile(ctx context.Context, t *task, revision string, f download.FileDescriptor, dest string, fp fileProgress) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("file_path", f.Path)

	bo := c.policy.Backoff()
	retries := 0

	var lastErr error

	for {
		if t.isCancelled() || ctx.Err() != nil {
			return 0, download.ErrCancelled
		}

		if t.isPaused() {
			t.setState(download.StatePaused)
			c.setLastState(t.resourceID, t.snapshotStatus())
			logger.Info("transfer paused", "bytes_on_disk", diskBytes(dest))

			if err := t.waitResume(ctx); err != nil {
				return 0, err
			}

			t.setState(download.StateDownloading)
			c.setLastState(t.resourceID, t.snapshotStatus())
			logger.Info("transfer resumed", "bytes_on_disk", diskBytes(dest))
		}

		offset := int64(0)
		if c.transport.SupportsResume() {
			offset = diskBytes(dest)
		}

		attemptCtx, cancelAttempt := c.attemptContext(ctx)
		t.setAttemptCancel(cancelAttempt)

		written, err := c.transport.Fetch(attemptCtx, download.FetchRequest{
			ResourceID: t.resourceID,
			Revision:   revision,
			File:       f,
			Dest:       dest,
			Offset:     offset,
			OnProgress: func(bytes, total int64) {
				t.publishProgress(download.DownloadProgress{
					BytesDownloaded: fp.completedBytes + bytes,
					TotalBytes:      fp.totalBytes,
					FilesCompleted:  fp.filesCompleted,
					TotalFiles:      fp.totalFiles,
					CurrentFileName: f.Path,
				})
			},
		})

		t.setAttemptCancel(nil)
		cancelAttempt()

		if err == nil {
			return written, nil
		}

		if t.isCancelled() || ctx.Err() != nil {
			return 0, download.ErrCancelled
		}

		// A pause interrupts the attempt by cancelling its context. A resume
		// landing before this re-check clears the pause flag again, so the
		// flag alone can't be trusted: the transfer context is still live
		// (checked above), so a cancelled attempt is always an interrupted
		// one. Re-enter the loop without burning the retry budget.
		if t.isPaused() || errors.Is(err, context.Canceled) {
			continue
		}

		if c.policy.Classify(err) == retrypolicy.Terminal {
			return 0, err
		}

		lastErr = err

		if c.policy.Exhausted(retries) {
			return 0, fmt.Errorf("retries exhausted after %d attempts: %w", retries+1, lastErr)
		}

		delay := bo.NextBackOff()
		retries++

		c.telemetry.RecordRetry(string(t.backend))

		logger.Warn("transfer attempt failed, retrying",
			"attempt", retries,
			"delay", delay.String(),
			"err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, download.ErrCancelled
		}
	}
}

// resolveUnknownSizes fills in sizes the listing didn't report, so the disk
// guard works with real numbers where the hub can provide them.
func (c *Coordinator) resolveUnknownSizes(ctx context.Context, resourceID, revision string, selected []download.FileDescriptor) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(metadataParallelism)

	for i := range selected {
		if selected[i].SizeKnown() {
			continue
		}

		wg.Go(func() error {
			fd, err := c.catalog.FileMetadata(ctx, resourceID, revision, selected[i].Path)
			if err != nil {
				// Leave the conservative estimate to the disk guard.
				logctx.LoggerFromContext(ctx).Debug("failed to resolve file size",
					"file_path", selected[i].Path, "err", err)

				return nil
			}

			if fd.SizeKnown() {
				selected[i].Size = fd.Size
			}

			if selected[i].Hash == "" {
				selected[i].Hash = fd.Hash
			}

			return nil
		})
	}

	return wg.Wait()
}

// withRetry applies the retry policy to a pre-flight operation.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx)

	bo := c.policy.Backoff()
	retries := 0

	for {
		attemptCtx, cancelAttempt := c.attemptContext(ctx)
		err := fn(attemptCtx)

		cancelAttempt()

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return download.ErrCancelled
		}

		if c.policy.Classify(err) == retrypolicy.Terminal {
			return err
		}

		if c.policy.Exhausted(retries) {
			return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, retries+1, err)
		}

		delay := bo.NextBackOff()
		retries++

		logger.Warn("operation failed, retrying", "operation", op, "attempt", retries, "delay", delay.String(), "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return download.ErrCancelled
		}
	}
}

// attemptContext scopes timeouts to a single attempt, never the whole
// transfer.
func (c *Coordinator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.attemptTimeout > 0 {
		return context.WithTimeout(ctx, c.attemptTimeout)
	}

	return context.WithCancel(ctx)
}

func (c *Coordinator) setLastState(resourceID string, s download.DownloadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastState[resourceID] = s
}

func (c *Coordinator) recordOutcome(ctx context.Context, t *task, status, errMsg string) {
	if c.history == nil {
		return
	}

	p := t.snapshotProgress()

	rec := storage.DownloadRecord{
		ResourceID: t.resourceID,
		Identity:   t.identity,
		Backend:    string(t.backend),
		Status:     status,
		Bytes:      p.BytesDownloaded,
		Error:      errMsg,
		InstanceID: c.instanceID,
		OccurredAt: time.Now().UTC(),
	}

	if err := c.history.RecordDownload(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record download outcome", "err", err)
	}
}

// saveModel persists a completed model when a catalog repository is wired.
func (c *Coordinator) saveModel(ctx context.Context, info download.ModelInfo) {
	if c.models == nil {
		return
	}

	if err := c.models.SaveModel(ctx, info); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to save model to catalog", "model_id", info.ID, "err", err)
	}
}

func diskBytes(dest string) int64 {
	st, err := os.Stat(dest)
	if err != nil {
		return 0
	}

	return st.Size()
}
