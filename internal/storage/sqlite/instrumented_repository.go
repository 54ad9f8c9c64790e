package sqlite

import (
	"context"
	"database/sql"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/storage"
	"github.com/modzoo/hubfetch/internal/telemetry"
)

// InstrumentedModelRepository wraps ModelRepository with telemetry.
type InstrumentedModelRepository struct {
	repo      *ModelRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedModelRepository creates a new instrumented model repository.
func NewInstrumentedModelRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedModelRepository {
	return &InstrumentedModelRepository{
		repo:      NewModelRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedModelRepository) SaveModel(ctx context.Context, info download.ModelInfo) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_model", func(ctx context.Context) error {
		return r.repo.SaveModel(ctx, info)
	})
}

func (r *InstrumentedModelRepository) GetModels(ctx context.Context) ([]download.ModelInfo, error) {
	var result []download.ModelInfo

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_models", func(ctx context.Context) error {
		result, err = r.repo.GetModels(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedModelRepository) GetModel(ctx context.Context, id string) (download.ModelInfo, error) {
	var result download.ModelInfo

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_model", func(ctx context.Context) error {
		result, err = r.repo.GetModel(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return download.ModelInfo{}, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedModelRepository) DeleteModel(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_model", func(ctx context.Context) error {
		return r.repo.DeleteModel(ctx, id)
	})
}

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedHistoryRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		return r.repo.RecordDownload(ctx, rec)
	})
}

func (r *InstrumentedHistoryRepository) GetHistory(ctx context.Context, resourceID string, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_history", func(ctx context.Context) error {
		result, err = r.repo.GetHistory(ctx, resourceID, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
