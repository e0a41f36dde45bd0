package redis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestClient_Integration(t *testing.T) {
	if testing.Short() || os.Getenv("OTP_INTEGRATION") != "1" {
		t.Skip("set OTP_INTEGRATION=1 to run container tests")
	}

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := NewClient(ctx, &Config{URL: url, RetryAttempts: 5}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(ctx, "otp:user@gmail.com", "123456", 300*time.Second))

	got, err := client.Get(ctx, "otp:user@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", got)

	ttl, err := client.TTL(ctx, "otp:user@gmail.com")
	require.NoError(t, err)
	assert.InDelta(t, 300, ttl.Seconds(), 2)
}
