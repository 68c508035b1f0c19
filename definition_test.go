package apphost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefinition(t *testing.T) {
	t.Run("decodes_full_body", func(t *testing.T) {
		def, err := decodeDefinition("lights", map[string]any{
			"module":              "lighting",
			"class":               "Lights",
			"dependencies":        []any{"sensor", "clock"},
			"global_dependencies": "helpers",
			"plugin":              "hass",
			"priority":            25,
			"pin_thread":          2,
			"disable":             true,
		})
		require.NoError(t, err)

		assert.Equal(t, "lights", def.Name)
		assert.Equal(t, "lighting", def.Module)
		assert.Equal(t, "Lights", def.Class)
		assert.Equal(t, []string{"sensor", "clock"}, def.Dependencies)
		assert.Equal(t, []string{"helpers"}, def.GlobalDependencies)
		assert.Equal(t, []string{"hass"}, def.Plugins)
		require.NotNil(t, def.Priority)
		assert.Equal(t, 25.0, *def.Priority)
		require.NotNil(t, def.PinThread)
		assert.Equal(t, 2, *def.PinThread)
		assert.True(t, def.Disabled)
	})

	t.Run("accepts_scalar_for_list_fields", func(t *testing.T) {
		def, err := decodeDefinition("a", map[string]any{
			"module":       "m",
			"class":        "C",
			"dependencies": "single",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"single"}, def.Dependencies)
	})

	t.Run("coerces_string_numerics", func(t *testing.T) {
		def, err := decodeDefinition("a", map[string]any{
			"module":     "m",
			"class":      "C",
			"priority":   "12.5",
			"pin_thread": "1",
			"disable":    "true",
		})
		require.NoError(t, err)
		assert.Equal(t, 12.5, *def.Priority)
		assert.Equal(t, 1, *def.PinThread)
		assert.True(t, def.Disabled)
	})

	t.Run("rejects_non_numeric_priority", func(t *testing.T) {
		_, err := decodeDefinition("a", map[string]any{
			"module":   "m",
			"class":    "C",
			"priority": "soon",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfigInvalid))
	})
}

func TestEffectivePriority(t *testing.T) {
	def := defOf("a")
	assert.Equal(t, DefaultPriority, def.EffectivePriority())
	def.Priority = floatPtr(5)
	assert.Equal(t, 5.0, def.EffectivePriority())
}

func TestReferencesPlugin(t *testing.T) {
	t.Run("no_declared_affinity_matches_everything", func(t *testing.T) {
		def := defOf("a")
		assert.True(t, def.ReferencesPlugin("hass"))
		assert.True(t, def.ReferencesPlugin(string(PluginAll)))
	})

	t.Run("declared_affinity_matches_named_plugin_only", func(t *testing.T) {
		def := defOf("a")
		def.Plugins = []string{"mqtt"}
		assert.True(t, def.ReferencesPlugin("mqtt"))
		assert.False(t, def.ReferencesPlugin("hass"))
	})

	t.Run("wildcard_matches_despite_declared_affinity", func(t *testing.T) {
		def := defOf("a")
		def.Plugins = []string{"mqtt"}
		assert.True(t, def.ReferencesPlugin(string(PluginAll)))
	})
}
