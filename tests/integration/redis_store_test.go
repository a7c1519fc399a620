//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/dealerdesk/internal/session"
	"github.com/BradenHooton/dealerdesk/pkg/clock"
)

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStore_TrustRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, err := session.NewRedisClient(ctx, startRedis(ctx, t))
	require.NoError(t, err)
	defer client.Close()

	store := session.NewRedisStore(client, time.Hour)
	sess := session.New("sess-redis", store)

	clk := clock.NewFixed(time.Date(2025, 5, 5, 9, 30, 0, 0, time.UTC))
	trust := session.NewTrustStore(session.TrustWindows{Login: 24 * time.Hour, Action: 30 * time.Minute}, clk,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, trust.MarkVerified(ctx, sess, "user-redis", session.ActionScope("delete_user")))
	require.NoError(t, sess.Put(ctx, session.KeyIntendedURL, "/users/42"))

	clk.Advance(30 * time.Minute)
	assert.True(t, trust.IsValid(ctx, sess, "user-redis", session.ActionScope("delete_user")))

	clk.Advance(time.Minute)
	assert.False(t, trust.IsValid(ctx, sess, "user-redis", session.ActionScope("delete_user")))

	intended, ok, err := sess.Pull(ctx, session.KeyIntendedURL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/users/42", intended)

	require.NoError(t, sess.Destroy(ctx))
	keys, err := store.Keys(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
