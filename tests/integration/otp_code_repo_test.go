//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/repositories"
	"github.com/BradenHooton/dealerdesk/internal/services"
	"github.com/BradenHooton/dealerdesk/pkg/clock"
)

func TestOTPCodeRepository_IssueSupersedesOutstanding(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewOTPCodeRepository(testDB.DB)

	user, err := SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	first, err := repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeSensitiveAction, "delete_user", "hash-1", now))
	require.NoError(t, err)
	second, err := repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeSensitiveAction, "delete_user", "hash-2", now.Add(time.Second)))
	require.NoError(t, err)

	// a different action is a different tuple
	_, err = repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeSensitiveAction, "delete_vehicle", "hash-3", now.Add(2*time.Second)))
	require.NoError(t, err)

	latest, err := repo.GetLatest(ctx, user.ID, models.OTPPurposeSensitiveAction, "delete_user")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "hash-2", latest.CodeHash)
	assert.Equal(t, "/users/42", latest.Metadata["url"])

	var supersededAt *time.Time
	require.NoError(t, testDB.Pool.QueryRow(ctx, `SELECT superseded_at FROM otp_codes WHERE id = $1`, first.ID).Scan(&supersededAt))
	assert.NotNil(t, supersededAt)

	_, err = repo.GetLatest(ctx, user.ID, models.OTPPurposeLogin, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOTPCodeRepository_ConcurrentIssueLeavesOneOutstanding(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewOTPCodeRepository(testDB.DB)

	user, err := SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)

	now := time.Now().UTC()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeLogin, "", "hash", now.Add(time.Duration(i)*time.Millisecond)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var outstanding int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM otp_codes WHERE owner_user_id = $1 AND consumed_at IS NULL AND superseded_at IS NULL`,
		user.ID).Scan(&outstanding))
	assert.Equal(t, 1, outstanding)
}

func TestOTPCodeRepository_MarkConsumedOnce(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewOTPCodeRepository(testDB.DB)

	user, err := SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)

	code, err := repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeLogin, "", "hash", time.Now().UTC()))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.MarkConsumed(ctx, code.ID, time.Now().UTC())
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, models.ErrOTPAlreadyConsumed)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestOTPCodeRepository_ExpiredCodesRetained(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewOTPCodeRepository(testDB.DB)

	user, err := SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)

	old := time.Now().UTC().Add(-48 * time.Hour)
	stale, err := repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeLogin, "", "old", old))
	require.NoError(t, err)

	// expiry is a time comparison; the row stays readable
	latest, err := repo.GetLatest(ctx, user.ID, models.OTPPurposeLogin, "")
	require.NoError(t, err)
	assert.Equal(t, stale.ID, latest.ID)
	assert.False(t, !latest.IsExpiredAt(time.Now().UTC()))

	_, err = repo.Issue(ctx, NewTestCode(user.ID, models.OTPPurposeLogin, "", "fresh", time.Now().UTC()))
	require.NoError(t, err)

	var total int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM otp_codes WHERE owner_user_id = $1`, user.ID).Scan(&total))
	assert.Equal(t, 2, total, "superseded and expired codes are kept")
}

func TestOTPService_ConcurrentVerifyAgainstPostgres(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	user, err := SeedUser(ctx, testDB.DB, "manager")
	require.NoError(t, err)

	mailer := &services.MockMailer{}
	svc := services.NewOTPService(
		repositories.NewOTPCodeRepository(testDB.DB),
		auth.NewCodeGenerator(),
		auth.NewCodeHasher("integration-pepper-0123456789"),
		mailer,
		services.NewActivityService(repositories.NewActivityLogRepository(testDB.DB), logger),
		clock.New(),
		nil,
		services.OTPConfig{LoginTTL: 10 * time.Minute, ActionTTL: 10 * time.Minute},
		logger,
	)

	_, err = svc.GenerateSensitiveActionOTP(ctx, user, "delete_user", models.OTPMetadata{"url": "/users/42"})
	require.NoError(t, err)
	code := mailer.LastCode()

	// wrong code changes nothing
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, svc.Verify(ctx, user.ID, wrong, models.OTPPurposeSensitiveAction, "delete_user"), models.ErrOTPInvalidCode)

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Verify(ctx, user.ID, code, models.OTPPurposeSensitiveAction, "delete_user")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, models.ErrOTPAlreadyConsumed):
			default:
				t.Errorf("unexpected verify error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())

	activity, err := repositories.NewActivityLogRepository(testDB.DB).ListByUser(ctx, user.ID, 100, 0)
	require.NoError(t, err)
	actions := map[string]int{}
	for _, entry := range activity {
		actions[entry.Action]++
		assert.Equal(t, models.ActivityModuleMFA, entry.Module)
	}
	assert.Equal(t, 1, actions[models.ActivityOTPSent])
	assert.Equal(t, 1, actions[models.ActivityOTPVerified])
	assert.Equal(t, 16, actions[models.ActivityOTPRejected])
}
