package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/storage"
)

// ModelRepository stores the catalog of fully downloaded models in SQLite.
type ModelRepository struct {
	db *sql.DB
}

func NewModelRepository(dbConn *sql.DB) *ModelRepository {
	return &ModelRepository{db: dbConn}
}

func (r *ModelRepository) SaveModel(ctx context.Context, info download.ModelInfo) error {
	metadata, err := json.Marshal(info.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO models (id, name, resource_id, backend, location, total_size, download_date, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			resource_id = excluded.resource_id,
			backend = excluded.backend,
			location = excluded.location,
			total_size = excluded.total_size,
			download_date = excluded.download_date,
			metadata = excluded.metadata
	`, info.ID, info.Name, info.ResourceID, string(info.Backend), info.Location,
		info.TotalSize, info.DownloadDate.Format(time.RFC3339), string(metadata))

	return err
}

func (r *ModelRepository) GetModels(ctx context.Context) ([]download.ModelInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, resource_id, backend, location, total_size, download_date, metadata
		FROM models
		ORDER BY download_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []download.ModelInfo

	for rows.Next() {
		info, err := scanModel(rows)
		if err != nil {
			return nil, err
		}

		models = append(models, info)
	}

	return models, rows.Err()
}

func (r *ModelRepository) GetModel(ctx context.Context, id string) (download.ModelInfo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, resource_id, backend, location, total_size, download_date, metadata
		FROM models
		WHERE id = ?
	`, id)

	info, err := scanModel(row)
	if err == sql.ErrNoRows {
		return download.ModelInfo{}, storage.ErrNotTracked
	}

	return info, err
}

func (r *ModelRepository) DeleteModel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotTracked
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (download.ModelInfo, error) {
	var (
		info     download.ModelInfo
		backend  string
		date     string
		metadata sql.NullString
	)

	if err := row.Scan(&info.ID, &info.Name, &info.ResourceID, &backend,
		&info.Location, &info.TotalSize, &date, &metadata); err != nil {
		return download.ModelInfo{}, err
	}

	info.Backend = download.Backend(backend)

	if parsed, err := time.Parse(time.RFC3339, date); err == nil {
		info.DownloadDate = parsed
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &info.Metadata); err != nil {
			return download.ModelInfo{}, err
		}
	}

	return info, nil
}
