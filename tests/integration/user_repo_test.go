//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/repositories"
)

func TestUserRepository(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewUserRepository(testDB.DB)

	admin, err := SeedUser(ctx, testDB.DB, "admin")
	require.NoError(t, err)
	_, err = SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)
	_, err = SeedUser(ctx, testDB.DB, "sales")
	require.NoError(t, err)

	byEmail, err := repo.GetByEmail(ctx, admin.Email)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, byEmail.ID)
	assert.Equal(t, "active", byEmail.Status)

	sales, err := repo.ListByRole(ctx, "sales", 10, 0)
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	require.NoError(t, repo.SetMFAExempt(ctx, admin.ID, true))
	reloaded, err := repo.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.MFAExempt)

	assert.ErrorIs(t, repo.SetMFAExempt(ctx, "00000000-0000-0000-0000-000000000000", true), models.ErrNotFound)

	_, err = repo.Create(ctx, &models.User{Email: admin.Email})
	assert.ErrorIs(t, err, models.ErrConflict)
}
