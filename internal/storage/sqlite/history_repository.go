package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/modzoo/hubfetch/internal/storage"
)

// HistoryRepository records terminal download outcomes in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

func (r *HistoryRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_history (resource_id, identity, backend, status, bytes, error, instance_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ResourceID, rec.Identity, rec.Backend, rec.Status, rec.Bytes,
		rec.Error, rec.InstanceID, rec.OccurredAt.Format(time.RFC3339))

	return err
}

func (r *HistoryRepository) GetHistory(ctx context.Context, resourceID string, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT resource_id, identity, backend, status, bytes, error, instance_id, occurred_at
		FROM download_history
		WHERE resource_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.DownloadRecord

	for rows.Next() {
		var (
			rec        storage.DownloadRecord
			errMsg     sql.NullString
			instanceID sql.NullString
			occurredAt string
		)

		if err := rows.Scan(&rec.ResourceID, &rec.Identity, &rec.Backend, &rec.Status,
			&rec.Bytes, &errMsg, &instanceID, &occurredAt); err != nil {
			return nil, err
		}

		rec.Error = errMsg.String
		rec.InstanceID = instanceID.String

		if parsed, err := time.Parse(time.RFC3339, occurredAt); err == nil {
			rec.OccurredAt = parsed
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
