package downloader

import (
	"context"
	"sync"

	"github.com/modzoo/hubfetch/internal/download"
)

// subscriberBuffer bounds the per-subscriber event queue. Progress events are
// dropped oldest-first for slow consumers; the terminal event is never
// dropped.
const subscriberBuffer = 32

type subscriber struct {
	id int
	ch chan download.Event

	// owner subscriptions belong to a download() call: when their context
	// ends before the terminal event, the whole transfer is cancelled.
	// Observer subscriptions just detach.
	owner bool
}

// task is the single live transfer of one resource. All lifecycle fields are
// guarded by mu; only the transfer goroutine mutates status outside of the
// pause/cancel control methods.
type task struct {
	resourceID string
	identity   string
	backend    download.Backend

	// cancel tears down the whole transfer.
	cancel context.CancelFunc

	// done closes after the terminal event has been published and the
	// registry slot released.
	done chan struct{}

	mu            sync.Mutex
	status        download.DownloadStatus
	progress      download.DownloadProgress
	paused        bool
	cancelled     bool
	attemptCancel context.CancelFunc
	resumeCh      chan struct{}
	subs          map[int]*subscriber
	nextSubID     int
	finished      bool
}

func newTask(resourceID, identity string, backend download.Backend, cancel context.CancelFunc) *task {
	return &task{
		resourceID: resourceID,
		identity:   identity,
		backend:    backend,
		cancel:     cancel,
		done:       make(chan struct{}),
		status:     download.DownloadStatus{State: download.StateDownloading},
		resumeCh:   make(chan struct{}, 1),
		subs:       make(map[int]*subscriber),
	}
}

func (t *task) subscribe(owner bool) *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &subscriber{
		id:    t.nextSubID,
		ch:    make(chan download.Event, subscriberBuffer),
		owner: owner,
	}
	t.nextSubID++

	if t.finished {
		// Late subscription: the terminal event already went out.
		close(sub.ch)

		return sub
	}

	t.subs[sub.id] = sub

	return sub
}

func (t *task) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subs, id)
}

func (t *task) snapshotStatus() download.DownloadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}

func (t *task) snapshotProgress() download.DownloadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.progress
}

// markPaused requests a pause. Only valid while downloading; interrupts the
// in-flight attempt so the worker parks quickly.
func (t *task) markPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State != download.StateDownloading || t.cancelled {
		return false
	}

	t.paused = true

	// Drop any resume token left over from an earlier pause/resume cycle
	// where the worker never parked, so it can't void this pause.
	select {
	case <-t.resumeCh:
	default:
	}

	if t.attemptCancel != nil {
		t.attemptCancel()
	}

	return true
}

// markResumed clears the pause and wakes the parked worker.
func (t *task) markResumed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.paused || t.cancelled {
		return false
	}

	t.paused = false

	select {
	case t.resumeCh <- struct{}{}:
	default:
	}

	return true
}

func (t *task) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.paused
}

// markCancelled flags the task and cancels the transfer context.
func (t *task) markCancelled() {
	t.mu.Lock()
	t.cancelled = true
	t.paused = false
	t.mu.Unlock()

	t.cancel()
}

func (t *task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

func (t *task) setAttemptCancel(fn context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attemptCancel = fn
}

// waitResume parks the worker until resume or cancellation.
func (t *task) waitResume(ctx context.Context) error {
	select {
	case <-t.resumeCh:
		return nil
	case <-ctx.Done():
		return download.ErrCancelled
	}
}

func (t *task) setState(state download.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = state
}

// publishProgress records a snapshot and fans it out. Reported bytes and
// fraction are clamped monotonic so a restarted file (non-resumable
// transport) never makes the observable sequence go backwards.
func (t *task) publishProgress(p download.DownloadProgress) {
	t.mu.Lock()

	if p.BytesDownloaded < t.progress.BytesDownloaded {
		p.BytesDownloaded = t.progress.BytesDownloaded
	}

	if p.FilesCompleted < t.progress.FilesCompleted {
		p.FilesCompleted = t.progress.FilesCompleted
	}

	t.progress = p
	t.status.Fraction = p.Fraction()

	subs := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	ev := download.Event{Progress: &p}

	for _, sub := range subs {
		send(sub.ch, ev)
	}
}

// finish publishes the terminal event exactly once and closes every
// subscriber channel.
func (t *task) finish(ev download.Event) {
	t.mu.Lock()

	if t.finished {
		t.mu.Unlock()

		return
	}

	t.finished = true

	subs := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[int]*subscriber)
	t.mu.Unlock()

	for _, sub := range subs {
		send(sub.ch, ev)
		close(sub.ch)
	}
}

// send enqueues without blocking: when the buffer is full the oldest queued
// event is dropped to make room. The single-writer discipline makes the
// drain-retry loop safe.
func send(ch chan download.Event, ev download.Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
