package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	registrar "github.com/turkkalori/fcm-registrar"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "docker.io/redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "Failed to start redis container")

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err(), "Failed to connect to test redis")
	return client
}

func TestNew_Key(t *testing.T) {
	assert.Equal(t, "fcm-registrar:registration", New(nil, "").Key())
	assert.Equal(t, "device-7:registration", New(nil, "device-7").Key())
}

func TestStore_RoundTrip(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := New(client, "test")

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, registrar.ErrNoRecord)

	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := registrar.Record{
		Token:      "token-a",
		State:      registrar.StateSending,
		InstanceID: "instance-1",
		Attempts:   2,
		ObservedAt: sentAt,
		LastSentAt: &sentAt,
	}
	require.NoError(t, store.Save(ctx, rec))

	// A fresh Store over the same key sees the record, as after a restart.
	loaded, err := New(client, "test").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, loaded.Token)
	assert.Equal(t, rec.State, loaded.State)
	assert.Equal(t, rec.Attempts, loaded.Attempts)
	require.NotNil(t, loaded.LastSentAt)
	assert.True(t, sentAt.Equal(*loaded.LastSentAt))

	ttl, err := client.TTL(ctx, store.Key()).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestStore_CorruptValue(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := New(client, "corrupt")
	require.NoError(t, client.Set(ctx, store.Key(), "{nope", 0).Err())

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, registrar.ErrNoRecord)
}
