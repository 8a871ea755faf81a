package variable_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/varkit/pkg/variable"
)

// redisTestClient connects to the Redis named by TEST_REDIS_URL, skipping the
// test when the variable is unset.
func redisTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func redisTestProvider(t *testing.T) (*variable.RedisProvider, string) {
	t.Helper()
	client := redisTestClient(t)
	key := "varkit:test:" + uuid.NewString()
	t.Cleanup(func() { _ = client.Del(context.Background(), key).Err() })

	p, err := variable.NewRedisProvider(client,
		variable.WithRedisKey(key),
		variable.WithRedisMaxStale(50*time.Millisecond))
	require.NoError(t, err)
	return p, key
}

func TestNewRedisProvider(t *testing.T) {
	t.Parallel()

	_, err := variable.NewRedisProvider(nil)
	assert.ErrorIs(t, err, variable.ErrInvalidConfig)
}

func TestRedisProviderCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := redisTestProvider(t)

	require.NoError(t, p.CreateVariable(ctx, singleVariantConfig(t, "limit", "42")))
	assert.ErrorIs(t, p.CreateVariable(ctx, singleVariantConfig(t, "limit", "1")),
		variable.ErrVariableAlreadyExists)

	got, err := p.GetVariableConfig(ctx, "limit")
	require.NoError(t, err)
	assert.Equal(t, "42", got.Variants["on"].SerializedValue)

	res := p.GetSerializedValue(ctx, "limit", variable.WithTargetingKey("u1"))
	require.NotNil(t, res.Value)
	assert.Equal(t, "42", *res.Value)

	require.NoError(t, p.UpdateVariable(ctx, singleVariantConfig(t, "limit", "99")))
	res = p.GetSerializedValue(ctx, "limit")
	require.NotNil(t, res.Value)
	assert.Equal(t, "99", *res.Value)

	assert.ErrorIs(t, p.UpdateVariable(ctx, singleVariantConfig(t, "ghost", "1")),
		variable.ErrVariableNotFound)

	require.NoError(t, p.DeleteVariable(ctx, "limit"))
	assert.ErrorIs(t, p.DeleteVariable(ctx, "limit"), variable.ErrVariableNotFound)
}

func TestRedisProviderSharedStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	writer, key := redisTestProvider(t)

	reader, err := variable.NewRedisProvider(redisTestClient(t),
		variable.WithRedisKey(key),
		variable.WithRedisMaxStale(50*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, writer.CreateVariable(ctx, singleVariantConfig(t, "shared", "1")))

	// A second process sees the write once its snapshot goes stale.
	require.Eventually(t, func() bool {
		res := reader.GetSerializedValue(ctx, "shared")
		return res.Value != nil && *res.Value == "1"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisProviderBatchUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := redisTestProvider(t)
	require.NoError(t, p.CreateVariable(ctx, singleVariantConfig(t, "doomed", "1")))

	require.NoError(t, variable.BatchUpdate(ctx, p, map[string]*variable.VariableConfig{
		"doomed": nil,
		"fresh":  singleVariantConfig(t, "fresh", "2"),
	}))

	_, err := p.GetVariableConfig(ctx, "doomed")
	assert.ErrorIs(t, err, variable.ErrVariableNotFound)
	got, err := p.GetVariableConfig(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Variants["on"].SerializedValue)
}

func TestRedisProviderClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := redisTestProvider(t)
	require.NoError(t, p.CreateVariable(ctx, singleVariantConfig(t, "limit", "1")))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.CreateVariable(ctx, singleVariantConfig(t, "v", "1")), variable.ErrProviderClosed)
	assert.ErrorIs(t, p.DeleteVariable(ctx, "limit"), variable.ErrProviderClosed)
}
