package storage

import (
	"context"
	"errors"
	"time"

	"github.com/modzoo/hubfetch/internal/download"
)

// ErrNotTracked is returned when a model id has no catalog row.
var ErrNotTracked = errors.New("model not tracked")

// DownloadRecord is one row of download history: a terminal outcome of a
// transfer for a resource.
type DownloadRecord struct {
	ResourceID string
	Identity   string
	Backend    string
	Status     string
	Bytes      int64
	Error      string
	InstanceID string
	OccurredAt time.Time
}

// ModelReadRepository serves catalog queries.
type ModelReadRepository interface {
	GetModels(ctx context.Context) ([]download.ModelInfo, error)
	GetModel(ctx context.Context, id string) (download.ModelInfo, error)
}

// ModelWriteRepository mutates the catalog.
type ModelWriteRepository interface {
	SaveModel(ctx context.Context, info download.ModelInfo) error
	DeleteModel(ctx context.Context, id string) error
}

// ModelRepository is the full persistent model catalog.
type ModelRepository interface {
	ModelReadRepository
	ModelWriteRepository
}

// HistoryRepository records terminal download outcomes.
type HistoryRepository interface {
	RecordDownload(ctx context.Context, rec DownloadRecord) error
	GetHistory(ctx context.Context, resourceID string, limit int) ([]DownloadRecord, error)
}
