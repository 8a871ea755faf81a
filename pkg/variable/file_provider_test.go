package variable_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/varkit/pkg/variable"
)

func writeConfigFile(t *testing.T, path string, configs ...*variable.VariableConfig) {
	t.Helper()
	cfg, err := variable.NewVariablesConfig(configs...)
	require.NoError(t, err)
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestNewFileProvider(t *testing.T) {
	t.Parallel()

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "variables.json")
		writeConfigFile(t, path, singleVariantConfig(t, "limit", "42"))

		p, err := variable.NewFileProvider(path)
		require.NoError(t, err)
		defer func() { _ = p.Close() }()

		res := p.GetSerializedValue(context.Background(), "limit")
		require.NotNil(t, res.Value)
		assert.Equal(t, "42", *res.Value)
	})

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "variables.yaml")
		content := `variables:
  checkout_flow:
    name: checkout_flow
    variants:
      classic:
        key: classic
        serialized_value: '"classic"'
      express:
        key: express
        serialized_value: '"express"'
    rollout:
      variants:
        classic: 0.9
        express: 0.1
    overrides:
      - conditions:
          - kind: value_equals
            attribute: env
            value: staging
        rollout:
          variants:
            express: 1.0
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		p, err := variable.NewFileProvider(path)
		require.NoError(t, err)
		defer func() { _ = p.Close() }()

		res := p.GetSerializedValue(context.Background(), "checkout_flow",
			variable.WithTargetingKey("u1"),
			variable.WithAttributes(map[string]any{"env": "staging"}))
		require.NotNil(t, res.Value)
		assert.Equal(t, `"express"`, *res.Value)
	})

	t.Run("MissingFile", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewFileProvider(filepath.Join(t.TempDir(), "absent.json"))
		assert.ErrorIs(t, err, variable.ErrInvalidPayload)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "variables.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
		_, err := variable.NewFileProvider(path)
		assert.ErrorIs(t, err, variable.ErrInvalidPayload)
	})

	t.Run("InvalidConfigRejected", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "variables.json")
		// Map key does not match the declared name.
		content := `{"variables":{"wrong":{"name":"v","variants":{},"rollout":{"variants":{}}}}}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := variable.NewFileProvider(path)
		assert.ErrorIs(t, err, variable.ErrInvalidPayload)
	})
}

func TestFileProviderReadOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "variables.json")
	writeConfigFile(t, path, singleVariantConfig(t, "limit", "42"))
	p, err := variable.NewFileProvider(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	assert.ErrorIs(t, p.CreateVariable(ctx, singleVariantConfig(t, "v", "1")), variable.ErrReadOnlyProvider)
	assert.ErrorIs(t, p.UpdateVariable(ctx, singleVariantConfig(t, "limit", "1")), variable.ErrReadOnlyProvider)
	assert.ErrorIs(t, p.DeleteVariable(ctx, "limit"), variable.ErrReadOnlyProvider)

	err = variable.BatchUpdate(ctx, p, map[string]*variable.VariableConfig{"limit": nil})
	assert.ErrorIs(t, err, variable.ErrReadOnlyProvider)
}

func TestFileProviderRefresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "variables.json")
	writeConfigFile(t, path, singleVariantConfig(t, "limit", "1"))
	p, err := variable.NewFileProvider(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	writeConfigFile(t, path, singleVariantConfig(t, "limit", "2"))
	require.NoError(t, p.Refresh(context.Background(), true))

	res := p.GetSerializedValue(context.Background(), "limit")
	require.NotNil(t, res.Value)
	assert.Equal(t, "2", *res.Value)

	t.Run("FailedReloadKeepsSnapshot", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
		require.Error(t, p.Refresh(context.Background(), true))

		res := p.GetSerializedValue(context.Background(), "limit")
		require.NotNil(t, res.Value)
		assert.Equal(t, "2", *res.Value)
	})
}

func TestFileProviderWatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "variables.json")
	writeConfigFile(t, path, singleVariantConfig(t, "limit", "1"))

	p, err := variable.NewFileProvider(path,
		variable.WithWatch(),
		variable.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	var changed atomic.Int32
	p.OnChange(func() { changed.Add(1) })

	writeConfigFile(t, path, singleVariantConfig(t, "limit", "2"))

	require.Eventually(t, func() bool {
		res := p.GetSerializedValue(context.Background(), "limit")
		return res.Value != nil && *res.Value == "2"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, changed.Load())

	// Other files in the watched directory do not trigger reloads.
	before := changed.Load()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte("{}"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, changed.Load())
}

func TestFileProviderClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "variables.json")
	writeConfigFile(t, path, singleVariantConfig(t, "limit", "1"))

	p, err := variable.NewFileProvider(path, variable.WithWatch())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	// Resolution keeps serving the last snapshot after Close.
	res := p.GetSerializedValue(context.Background(), "limit")
	require.NotNil(t, res.Value)
}
