package model

import (
	"database/sql"
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// CreateImportBatch inserts a batch record and sets its ID.
func CreateImportBatch(q Querier, batch *models.ImportBatch) error {
	batch.CreatedAt = time.Now().UTC()

	res, err := q.Exec(`
	INSERT INTO import_batches (reference, broker, filename, status, error_message,
		total_records, skipped_records, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.Reference, batch.Broker, batch.Filename, string(batch.Status),
		nullString(batch.ErrorMessage), batch.TotalRecords, batch.SkippedRecords,
		encodeTime(batch.CreatedAt), encodeNullTime(batch.CompletedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	batch.ID = id
	return nil
}

// UpdateImportBatch rewrites the mutable outcome columns of a batch.
func UpdateImportBatch(q Querier, batch *models.ImportBatch) error {
	_, err := q.Exec(`
	UPDATE import_batches
	SET status = ?, error_message = ?, total_records = ?, skipped_records = ?, completed_at = ?
	WHERE id = ?`,
		string(batch.Status), nullString(batch.ErrorMessage),
		batch.TotalRecords, batch.SkippedRecords, encodeNullTime(batch.CompletedAt), batch.ID)
	return err
}

// ListImportBatches returns batch history, newest first.
func ListImportBatches(q Querier) ([]models.ImportBatch, error) {
	rows, err := q.Query(`
	SELECT id, reference, broker, filename, status, error_message, total_records,
		skipped_records, created_at, completed_at
	FROM import_batches
	ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.ImportBatch
	for rows.Next() {
		var (
			batch        models.ImportBatch
			status       string
			errorMessage sql.NullString
			createdAt    string
			completedAt  sql.NullString
		)
		if err := rows.Scan(&batch.ID, &batch.Reference, &batch.Broker, &batch.Filename,
			&status, &errorMessage, &batch.TotalRecords, &batch.SkippedRecords,
			&createdAt, &completedAt); err != nil {
			return nil, err
		}
		batch.Status = models.ImportStatus(status)
		batch.ErrorMessage = errorMessage.String
		if batch.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if batch.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
