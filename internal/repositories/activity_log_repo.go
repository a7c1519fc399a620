package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/dealerdesk/internal/database"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityLogRepository handles activity log data access
type ActivityLogRepository struct {
	pool *pgxpool.Pool
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db *database.DB) *ActivityLogRepository {
	return &ActivityLogRepository{pool: db.Pool}
}

const activityLogColumns = `id, user_id, action, module, description, ip_address, user_agent, properties, created_at`

func scanActivityLogRow(row rowScanner) (*models.ActivityLog, error) {
	var entry models.ActivityLog

	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.Action, &entry.Module, &entry.Description,
		&entry.IPAddress, &entry.UserAgent, &entry.Properties, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanActivityLogRows(rows pgx.Rows) ([]*models.ActivityLog, error) {
	defer rows.Close()

	entries := make([]*models.ActivityLog, 0)
	for rows.Next() {
		entry, err := scanActivityLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log rows: %w", err)
	}

	return entries, nil
}

// Create inserts a new activity log entry
func (r *ActivityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) (*models.ActivityLog, error) {
	if entry.Properties == nil {
		entry.Properties = models.ActivityProperties{}
	}

	query := `
		INSERT INTO activity_logs (user_id, action, module, description, ip_address, user_agent, properties)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + activityLogColumns

	created, err := scanActivityLogRow(r.pool.QueryRow(ctx, query,
		entry.UserID, entry.Action, entry.Module, entry.Description,
		entry.IPAddress, entry.UserAgent, entry.Properties,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create activity log: %w", err)
	}

	return created, nil
}

// ListByUser returns a user's activity entries, newest first
func (r *ActivityLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityLog, error) {
	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}

	return scanActivityLogRows(rows)
}

// ListByModule returns entries recorded by one module, newest first
func (r *ActivityLogRepository) ListByModule(ctx context.Context, module string, limit, offset int) ([]*models.ActivityLog, error) {
	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE module = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, module, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}

	return scanActivityLogRows(rows)
}
