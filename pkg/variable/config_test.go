package variable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/varkit/pkg/variable"
)

func mustRollout(t *testing.T, weights map[string]float64) variable.Rollout {
	t.Helper()
	r, err := variable.NewRollout(weights)
	require.NoError(t, err)
	return r
}

func checkoutConfig(t *testing.T) *variable.VariableConfig {
	t.Helper()
	cfg, err := variable.NewVariableConfig("checkout_flow",
		[]variable.Variant{
			{Key: "classic", SerializedValue: `"classic"`},
			{Key: "express", SerializedValue: `"express"`},
		},
		mustRollout(t, map[string]float64{"classic": 0.9, "express": 0.1}),
		variable.WithOverrides(variable.RolloutOverride{
			Conditions: []variable.Condition{variable.NewValueEquals("env", "staging")},
			Rollout:    mustRollout(t, map[string]float64{"express": 1.0}),
		}),
		variable.WithAliases("checkout"),
	)
	require.NoError(t, err)
	return cfg
}

func TestNewVariableConfig(t *testing.T) {
	t.Parallel()

	t.Run("Valid", func(t *testing.T) {
		t.Parallel()
		cfg := checkoutConfig(t)
		assert.Equal(t, "checkout_flow", cfg.Name)
		assert.Len(t, cfg.Variants, 2)
	})

	t.Run("InvalidName", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariableConfig("bad-name", nil, variable.Rollout{})
		assert.ErrorIs(t, err, variable.ErrInvalidVariableName)
	})

	t.Run("RolloutReferencesUndeclaredVariant", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariableConfig("v",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			mustRollout(t, map[string]float64{"ghost": 0.5}),
		)
		assert.ErrorIs(t, err, variable.ErrUnknownVariantKey)
	})

	t.Run("OverrideReferencesUndeclaredVariant", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariableConfig("v",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			variable.Rollout{},
			variable.WithOverrides(variable.RolloutOverride{
				Rollout: mustRollout(t, map[string]float64{"ghost": 0.5}),
			}),
		)
		assert.ErrorIs(t, err, variable.ErrUnknownVariantKey)
	})

	t.Run("InvalidOverrideCondition", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariableConfig("v",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			variable.Rollout{},
			variable.WithOverrides(variable.RolloutOverride{
				Conditions: []variable.Condition{variable.NewValueMatches("host", "([")},
			}),
		)
		assert.ErrorIs(t, err, variable.ErrInvalidCondition)
	})

	t.Run("InvalidAlias", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariableConfig("v",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			variable.Rollout{},
			variable.WithAliases("no spaces"),
		)
		assert.ErrorIs(t, err, variable.ErrInvalidVariableName)
	})

	t.Run("MismatchedVariantKey", func(t *testing.T) {
		t.Parallel()
		cfg := &variable.VariableConfig{
			Name:     "v",
			Variants: map[string]variable.Variant{"a": {Key: "b", SerializedValue: "1"}},
		}
		assert.ErrorIs(t, cfg.Validate(), variable.ErrInvalidConfig)
	})
}

func TestResolveVariant(t *testing.T) {
	t.Parallel()

	cfg := checkoutConfig(t)

	t.Run("OverrideWinsWhenConditionsMatch", func(t *testing.T) {
		t.Parallel()
		// The staging override assigns 100% to express, so any subject
		// with env=staging lands there.
		for _, key := range []string{"u1", "u2", "u3"} {
			v, ok := cfg.ResolveVariant(key, map[string]any{"env": "staging"})
			require.True(t, ok)
			assert.Equal(t, "express", v.Key)
		}
	})

	t.Run("BaseRolloutWhenNoOverrideMatches", func(t *testing.T) {
		t.Parallel()
		classic, express := 0, 0
		for i := range 200 {
			v, ok := cfg.ResolveVariant("", map[string]any{"env": "prod"})
			require.True(t, ok, "iteration %d", i)
			switch v.Key {
			case "classic":
				classic++
			case "express":
				express++
			}
		}
		assert.Greater(t, classic, express)
	})

	t.Run("StableForSameTargetingKey", func(t *testing.T) {
		t.Parallel()
		first, firstOK := cfg.ResolveVariant("user-42", nil)
		for range 1000 {
			v, ok := cfg.ResolveVariant("user-42", nil)
			require.Equal(t, firstOK, ok)
			require.Equal(t, first.Key, v.Key)
		}
	})

	t.Run("FirstMatchingOverrideWins", func(t *testing.T) {
		t.Parallel()
		cfg, err := variable.NewVariableConfig("v",
			[]variable.Variant{
				{Key: "a", SerializedValue: "1"},
				{Key: "b", SerializedValue: "2"},
			},
			variable.Rollout{},
			variable.WithOverrides(
				variable.RolloutOverride{
					Conditions: []variable.Condition{variable.NewKeyPresent("user")},
					Rollout:    mustRollout(t, map[string]float64{"a": 1.0}),
				},
				variable.RolloutOverride{
					Conditions: []variable.Condition{variable.NewKeyPresent("user")},
					Rollout:    mustRollout(t, map[string]float64{"b": 1.0}),
				},
			),
		)
		require.NoError(t, err)

		v, ok := cfg.ResolveVariant("k", map[string]any{"user": "u1"})
		require.True(t, ok)
		assert.Equal(t, "a", v.Key)
	})

	t.Run("EmptyRolloutSelectsNothing", func(t *testing.T) {
		t.Parallel()
		cfg, err := variable.NewVariableConfig("v",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			variable.Rollout{},
		)
		require.NoError(t, err)
		_, ok := cfg.ResolveVariant("user-1", nil)
		assert.False(t, ok)
	})
}

func TestVariablesConfig(t *testing.T) {
	t.Parallel()

	t.Run("DuplicateNamesRejected", func(t *testing.T) {
		t.Parallel()
		_, err := variable.NewVariablesConfig(checkoutConfig(t), checkoutConfig(t))
		assert.ErrorIs(t, err, variable.ErrInvalidConfig)
	})

	t.Run("MismatchedMapKeyRejected", func(t *testing.T) {
		t.Parallel()
		cfg := &variable.VariablesConfig{
			Variables: map[string]*variable.VariableConfig{"other": checkoutConfig(t)},
		}
		assert.ErrorIs(t, cfg.Validate(), variable.ErrInvalidConfig)
	})

	t.Run("GetByAlias", func(t *testing.T) {
		t.Parallel()
		cfg, err := variable.NewVariablesConfig(checkoutConfig(t))
		require.NoError(t, err)

		byName, ok := cfg.Get("checkout_flow")
		require.True(t, ok)
		byAlias, ok := cfg.Get("checkout")
		require.True(t, ok)
		assert.Same(t, byName, byAlias)

		_, ok = cfg.Get("unknown")
		assert.False(t, ok)
	})

	t.Run("AliasResolvesIdentically", func(t *testing.T) {
		t.Parallel()
		cfg, err := variable.NewVariablesConfig(checkoutConfig(t))
		require.NoError(t, err)

		attrs := map[string]any{"env": "staging"}
		byName := cfg.ResolveSerializedValue("checkout_flow", "user-7", attrs)
		byAlias := cfg.ResolveSerializedValue("checkout", "user-7", attrs)

		require.NotNil(t, byName.Value)
		require.NotNil(t, byAlias.Value)
		assert.Equal(t, *byName.Value, *byAlias.Value)
		assert.Equal(t, byName.Variant, byAlias.Variant)
	})
}

func TestResolveSerializedValue(t *testing.T) {
	t.Parallel()

	cfg, err := variable.NewVariablesConfig(checkoutConfig(t))
	require.NoError(t, err)

	t.Run("UnknownVariable", func(t *testing.T) {
		t.Parallel()
		res := cfg.ResolveSerializedValue("missing", "", nil)
		assert.Equal(t, variable.ReasonUnrecognizedVariable, res.Reason)
		assert.Nil(t, res.Value)
	})

	t.Run("SelectedVariant", func(t *testing.T) {
		t.Parallel()
		res := cfg.ResolveSerializedValue("checkout_flow", "user-1", map[string]any{"env": "staging"})
		assert.Equal(t, variable.ReasonResolved, res.Reason)
		require.NotNil(t, res.Value)
		assert.Equal(t, `"express"`, *res.Value)
		assert.Equal(t, "express", res.Variant)
	})

	t.Run("NoVariantSelected", func(t *testing.T) {
		t.Parallel()
		empty, err := variable.NewVariableConfig("bare",
			[]variable.Variant{{Key: "a", SerializedValue: "1"}},
			variable.Rollout{},
		)
		require.NoError(t, err)
		cfg, err := variable.NewVariablesConfig(empty)
		require.NoError(t, err)

		res := cfg.ResolveSerializedValue("bare", "user-1", nil)
		assert.Equal(t, variable.ReasonResolved, res.Reason)
		assert.Nil(t, res.Value)
	})
}

func TestVariableConfigClone(t *testing.T) {
	t.Parallel()

	orig := checkoutConfig(t)
	cp := orig.Clone()

	cp.Variants["express"] = variable.Variant{Key: "express", SerializedValue: "mutated"}
	cp.Aliases[0] = "mutated"
	cp.Overrides[0].Rollout.Variants["express"] = 0.0

	assert.Equal(t, `"express"`, orig.Variants["express"].SerializedValue)
	assert.Equal(t, "checkout", orig.Aliases[0])
	assert.Equal(t, 1.0, orig.Overrides[0].Rollout.Variants["express"])
}
