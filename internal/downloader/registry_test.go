package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryTask(resourceID string) *task {
	return newTask(resourceID, resourceID+"-id", download.BackendGGUF, func() {})
}

func TestRegistryAdmitSingleFlight(t *testing.T) {
	r := NewRegistry()

	first, admitted := r.Admit("acme/llama-7b", func() *task { return newRegistryTask("acme/llama-7b") })
	require.True(t, admitted)
	require.NotNil(t, first)

	second, admitted := r.Admit("acme/llama-7b", func() *task {
		t.Fatal("create must not run for an in-flight resource")

		return nil
	})
	assert.False(t, admitted)
	assert.Same(t, first, second)

	assert.Equal(t, 1, r.Len())
}

func TestRegistryReleaseOnlyOwnTask(t *testing.T) {
	r := NewRegistry()

	old, _ := r.Admit("acme/llama-7b", func() *task { return newRegistryTask("acme/llama-7b") })
	r.Release("acme/llama-7b", old)

	// A fresh admit after release creates a new task.
	fresh, admitted := r.Admit("acme/llama-7b", func() *task { return newRegistryTask("acme/llama-7b") })
	require.True(t, admitted)
	require.NotSame(t, old, fresh)

	// The old transfer's late cleanup must not evict the new task.
	r.Release("acme/llama-7b", old)

	got, ok := r.Get("acme/llama-7b")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistryLive(t *testing.T) {
	r := NewRegistry()

	r.Admit("acme/a", func() *task { return newRegistryTask("acme/a") })
	r.Admit("acme/b", func() *task { return newRegistryTask("acme/b") })

	assert.Len(t, r.Live(), 2)
}

func TestTaskTerminalEventExactlyOnce(t *testing.T) {
	tk := newRegistryTask("acme/llama-7b")
	sub := tk.subscribe(false)

	tk.publishProgress(download.DownloadProgress{BytesDownloaded: 10, TotalBytes: 100, TotalFiles: 1})
	tk.finish(download.Event{Err: download.ErrCancelled})
	tk.finish(download.Event{Err: download.ErrCancelled})

	var terminals int

	for ev := range sub.ch {
		if ev.Progress == nil {
			terminals++
		}
	}

	assert.Equal(t, 1, terminals)
}

func TestTaskLateSubscriberGetsClosedStream(t *testing.T) {
	tk := newRegistryTask("acme/llama-7b")
	tk.finish(download.Event{Completed: &download.ModelInfo{}})

	sub := tk.subscribe(false)

	_, open := <-sub.ch
	assert.False(t, open, "late subscribers see an already closed stream")
}

func TestTaskPauseDropsStaleResumeToken(t *testing.T) {
	tk := newRegistryTask("acme/llama-7b")

	// A resume right after a pause, before the worker ever parks, leaves a
	// wake-up token queued with nobody waiting for it.
	require.True(t, tk.markPaused())
	require.True(t, tk.markResumed())

	// The next pause must not be voided by that stale token.
	require.True(t, tk.markPaused())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, tk.waitResume(ctx), download.ErrCancelled)
}

func TestTaskProgressIsMonotonic(t *testing.T) {
	tk := newRegistryTask("acme/llama-7b")

	tk.publishProgress(download.DownloadProgress{BytesDownloaded: 50, TotalBytes: 100, TotalFiles: 1})

	// A restarted file on a non-resumable transport reports lower raw bytes;
	// the published snapshot must not go backwards.
	tk.publishProgress(download.DownloadProgress{BytesDownloaded: 10, TotalBytes: 100, TotalFiles: 1})

	got := tk.snapshotProgress()
	assert.Equal(t, int64(50), got.BytesDownloaded)
}
