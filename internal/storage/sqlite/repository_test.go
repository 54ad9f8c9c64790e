package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(id string) download.ModelInfo {
	return download.ModelInfo{
		ID:           id,
		Name:         "llama-7b",
		ResourceID:   "acme/llama-7b",
		Backend:      download.BackendGGUF,
		Location:     "/var/lib/hubfetch/models/" + id,
		TotalSize:    4096,
		DownloadDate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]string{"revision": "main"},
	}
}

func TestModelRepositoryRoundTrip(t *testing.T) {
	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewModelRepository(db)
	ctx := context.Background()

	want := testModel("acme--llama-7b-abc123")
	require.NoError(t, repo.SaveModel(ctx, want))

	got, err := repo.GetModel(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	models, err := repo.GetModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
}

func TestModelRepositorySaveIsUpsert(t *testing.T) {
	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewModelRepository(db)
	ctx := context.Background()

	model := testModel("acme--llama-7b-abc123")
	require.NoError(t, repo.SaveModel(ctx, model))

	model.Location = "/elsewhere/" + model.ID
	model.TotalSize = 8192
	require.NoError(t, repo.SaveModel(ctx, model))

	got, err := repo.GetModel(ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Location, got.Location)
	assert.Equal(t, int64(8192), got.TotalSize)

	models, err := repo.GetModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 1, "re-saving the same id must not create a second row")
}

func TestModelRepositoryNotTracked(t *testing.T) {
	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewModelRepository(db)
	ctx := context.Background()

	_, err = repo.GetModel(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotTracked)

	assert.ErrorIs(t, repo.DeleteModel(ctx, "missing"), storage.ErrNotTracked)
}

func TestModelRepositoryDelete(t *testing.T) {
	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewModelRepository(db)
	ctx := context.Background()

	model := testModel("acme--llama-7b-abc123")
	require.NoError(t, repo.SaveModel(ctx, model))
	require.NoError(t, repo.DeleteModel(ctx, model.ID))

	_, err = repo.GetModel(ctx, model.ID)
	assert.ErrorIs(t, err, storage.ErrNotTracked)
}

func TestHistoryRepository(t *testing.T) {
	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewHistoryRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []string{"failed", "cancelled", "completed"} {
		require.NoError(t, repo.RecordDownload(ctx, storage.DownloadRecord{
			ResourceID: "acme/llama-7b",
			Identity:   "acme--llama-7b-abc123",
			Backend:    "gguf",
			Status:     status,
			Bytes:      int64(i * 100),
			InstanceID: "host-1",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, repo.RecordDownload(ctx, storage.DownloadRecord{
		ResourceID: "acme/other",
		Identity:   "acme--other-def456",
		Backend:    "coreml",
		Status:     "completed",
		OccurredAt: base,
	}))

	records, err := repo.GetHistory(ctx, "acme/llama-7b", 10)
	require.NoError(t, err)
	require.Len(t, records, 3, "history is scoped to the resource")

	// Newest first.
	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, "failed", records[2].Status)

	limited, err := repo.GetHistory(ctx, "acme/llama-7b", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "completed", limited[0].Status)
}
