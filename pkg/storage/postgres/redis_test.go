package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{
		URL:        "redis://" + mr.Addr(),
		MaxRetries: 3,
		PoolSize:   10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewRedisClient_Success(t *testing.T) {
	client, _ := setupRedisClientTest(t)
	require.NotNil(t, client.GetClient())
	assert.NoError(t, client.Ping(context.Background()))
	assert.NotNil(t, client.GetPoolStats())
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	client, err := NewRedisClient(RedisConfig{URL: "not-a-url"})
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewRedisClient(RedisConfig{URL: "redis://" + addr})
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestNewRedisClient_SelectsDB(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr(), DB: 2})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.GetClient().Set(context.Background(), "k", "v", 0).Err())
	mr.Select(2)
	assert.True(t, mr.Exists("k"))
}

func TestRedisClient_InvalidatePatterns(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("rbac:perms:u1:_", "a"))
	require.NoError(t, mr.Set("rbac:perms:u1:T1", "b"))
	require.NoError(t, mr.Set("rbac:perms:u2:_", "c"))
	require.NoError(t, mr.Set("other", "d"))

	require.NoError(t, client.InvalidatePatterns(ctx, "rbac:perms:u1:*"))

	assert.False(t, mr.Exists("rbac:perms:u1:_"))
	assert.False(t, mr.Exists("rbac:perms:u1:T1"))
	assert.True(t, mr.Exists("rbac:perms:u2:_"))
	assert.True(t, mr.Exists("other"))
}

func TestRedisClient_Close(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}
