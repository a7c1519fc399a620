package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/database"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OTPCodeRepository persists one-time passcodes. Rows are append-only apart
// from the consumed_at and superseded_at stamps.
type OTPCodeRepository struct {
	db *database.DB
}

func NewOTPCodeRepository(db *database.DB) *OTPCodeRepository {
	return &OTPCodeRepository{db: db}
}

const otpCodeColumns = `id, owner_user_id, code_hash, purpose, action, ip_address, user_agent,
	metadata, created_at, expires_at, consumed_at, superseded_at`

func scanOTPCodeRow(row rowScanner) (*models.OTPCode, error) {
	var code models.OTPCode
	var purpose string

	err := row.Scan(
		&code.ID, &code.OwnerUserID, &code.CodeHash, &purpose, &code.Action,
		&code.IPAddress, &code.UserAgent, &code.Metadata,
		&code.CreatedAt, &code.ExpiresAt, &code.ConsumedAt, &code.SupersededAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	code.Purpose = models.OTPPurpose(purpose)
	if code.Metadata == nil {
		code.Metadata = models.OTPMetadata{}
	}

	return &code, nil
}

// Issue stores a new code and supersedes every outstanding code for the same
// (owner, purpose, action) tuple in one transaction. Concurrent issues for a
// tuple are serialized by a transaction-scoped advisory lock.
func (r *OTPCodeRepository) Issue(ctx context.Context, code *models.OTPCode) (*models.OTPCode, error) {
	if code.ID == "" {
		code.ID = uuid.New().String()
	}
	if code.Metadata == nil {
		code.Metadata = models.OTPMetadata{}
	}

	var issued *models.OTPCode
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		lockKey := code.OwnerUserID + ":" + string(code.Purpose) + ":" + code.Action
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("failed to lock otp tuple: %w", err)
		}

		supersede := `
			UPDATE otp_codes SET superseded_at = $4
			WHERE owner_user_id = $1 AND purpose = $2 AND action = $3
			  AND consumed_at IS NULL AND superseded_at IS NULL
		`
		if _, err := tx.Exec(ctx, supersede, code.OwnerUserID, string(code.Purpose), code.Action, code.CreatedAt); err != nil {
			return fmt.Errorf("failed to supersede outstanding codes: %w", database.MapPostgresError(err))
		}

		insert := `
			INSERT INTO otp_codes (id, owner_user_id, code_hash, purpose, action, ip_address, user_agent,
				metadata, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING ` + otpCodeColumns

		row, err := scanOTPCodeRow(tx.QueryRow(ctx, insert,
			code.ID, code.OwnerUserID, code.CodeHash, string(code.Purpose), code.Action,
			code.IPAddress, code.UserAgent, code.Metadata, code.CreatedAt, code.ExpiresAt,
		))
		if err != nil {
			return fmt.Errorf("failed to insert otp code: %w", err)
		}

		issued = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return issued, nil
}

// GetLatest returns the newest code for the tuple that has not been
// superseded. Consumed codes are still returned so callers can tell a replay
// apart from a wrong code.
func (r *OTPCodeRepository) GetLatest(ctx context.Context, userID string, purpose models.OTPPurpose, action string) (*models.OTPCode, error) {
	query := `
		SELECT ` + otpCodeColumns + `
		FROM otp_codes
		WHERE owner_user_id = $1 AND purpose = $2 AND action = $3 AND superseded_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanOTPCodeRow(r.db.Pool.QueryRow(ctx, query, userID, string(purpose), action))
}

// MarkConsumed stamps consumed_at if and only if it is still unset.
func (r *OTPCodeRepository) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE otp_codes SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`

	result, err := r.db.Pool.Exec(ctx, query, id, at)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrOTPAlreadyConsumed
	}

	return nil
}
