package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestHoldKey(t *testing.T) {
	assert.Equal(t, "seat_hold:trip-1:12", HoldKey("trip-1", 12))
}

func TestNewHoldsDefaultTTL(t *testing.T) {
	h := NewHolds(nil, 0)
	assert.Equal(t, DefaultHoldTTL, h.TTL)

	h = NewHolds(nil, 30*time.Second)
	assert.Equal(t, 30*time.Second, h.TTL)
}

// TestSeatHoldIntegration exercises the hold lifecycle against a real Redis.
func TestSeatHoldIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{
		Addr: host + ":" + port.Port(),
	})
	defer client.Close()

	holds := NewHolds(client, 2*time.Second)

	// First passenger takes the hold.
	ok, err := holds.HoldSeat(ctx, "trip-1", 12, "passenger-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// The same passenger re-confirming succeeds.
	ok, err = holds.HoldSeat(ctx, "trip-1", 12, "passenger-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second passenger is turned away.
	ok, err = holds.HoldSeat(ctx, "trip-1", 12, "passenger-2")
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := holds.CheckSeatHeld(ctx, "trip-1", 12)
	require.NoError(t, err)
	assert.True(t, held)

	// A release by a non-owner is a no-op.
	require.NoError(t, holds.ReleaseSeat(ctx, "trip-1", 12, "passenger-2"))
	held, err = holds.CheckSeatHeld(ctx, "trip-1", 12)
	require.NoError(t, err)
	assert.True(t, held)

	// The owner's release frees the seat.
	require.NoError(t, holds.ReleaseSeat(ctx, "trip-1", 12, "passenger-1"))
	held, err = holds.CheckSeatHeld(ctx, "trip-1", 12)
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = holds.HoldSeat(ctx, "trip-1", 12, "passenger-2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Holds expire on their own.
	time.Sleep(2500 * time.Millisecond)
	held, err = holds.CheckSeatHeld(ctx, "trip-1", 12)
	require.NoError(t, err)
	assert.False(t, held)
}
