// Package repository provides the data access layer for the action audit trail.
package repository

import (
	"database/sql"
	"time"

	"nfcunha/fcvmd/core/models"
)

// ActionLogRepository handles persistence of action logs.
type ActionLogRepository struct {
	db *sql.DB
}

// NewActionLogRepository creates a new action log repository.
func NewActionLogRepository(db *sql.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Create stores an action log in the database.
func (r *ActionLogRepository) Create(log *models.ActionLog) error {
	query := `
		INSERT INTO action_logs (
			action_type, resource_type, resource_id, success,
			exit_code, error_message, duration_ms, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errorMsg *string
	if log.ErrorMessage != "" {
		errorMsg = &log.ErrorMessage
	}

	result, err := r.db.Exec(
		query,
		log.ActionType,
		log.ResourceType,
		log.ResourceID,
		log.Success,
		log.ExitCode,
		errorMsg,
		log.DurationMS,
		log.ExecutedAt.UTC(),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = id

	return nil
}

// GetByResource retrieves action logs for a specific resource, newest first.
func (r *ActionLogRepository) GetByResource(resourceType, resourceID string, limit int) ([]*models.ActionLog, error) {
	query := `
		SELECT id, action_type, resource_type, resource_id, success,
		       exit_code, error_message, duration_ms, executed_at
		FROM action_logs
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanActionLogs(rows)
}

// GetRecent retrieves recent action logs across all resources.
func (r *ActionLogRepository) GetRecent(limit int) ([]*models.ActionLog, error) {
	query := `
		SELECT id, action_type, resource_type, resource_id, success,
		       exit_code, error_message, duration_ms, executed_at
		FROM action_logs
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanActionLogs(rows)
}

// DeleteOlderThan removes action logs executed more than days ago.
func (r *ActionLogRepository) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := r.db.Exec(`DELETE FROM action_logs WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanActionLogs(rows *sql.Rows) ([]*models.ActionLog, error) {
	logs := []*models.ActionLog{}
	for rows.Next() {
		log := &models.ActionLog{}
		var errorMsg sql.NullString

		err := rows.Scan(
			&log.ID,
			&log.ActionType,
			&log.ResourceType,
			&log.ResourceID,
			&log.Success,
			&log.ExitCode,
			&errorMsg,
			&log.DurationMS,
			&log.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}

		if errorMsg.Valid {
			log.ErrorMessage = errorMsg.String
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}
