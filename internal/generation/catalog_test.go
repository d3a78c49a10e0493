package generation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()

	for kind, want := range map[domain.Kind]string{
		domain.KindTextToImage:  "wan2.5-t2i-preview",
		domain.KindImageToVideo: "wan2.5-i2v-preview",
		domain.KindTextToVideo:  "wan2.5-t2v-preview",
	} {
		m, ok := c.DefaultModel(kind)
		require.True(t, ok, kind)
		assert.Equal(t, want, m.ID)
		assert.Equal(t, ProviderDashScope, m.Provider)
	}

	veo, ok := c.Lookup("veo-2.0-generate-001")
	require.True(t, ok)
	assert.True(t, veo.Supports(domain.KindImageToVideo))
	assert.False(t, veo.Supports(domain.KindTextToImage))

	provider, err := c.Provider("imagen-4.0-generate-001")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, provider)

	_, err = c.Provider("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)

	models := c.Models()
	models[0].ID = "mutated"
	assert.NotEqual(t, "mutated", c.Models()[0].ID)
}

func TestParseCatalog_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing id":       "models:\n  - provider: dashscope\n    kinds: [text-to-image]\n    sizes: [\"1*1\"]\n",
		"unknown provider": "models:\n  - id: a\n    provider: acme\n    kinds: [text-to-image]\n    sizes: [\"1*1\"]\n",
		"unknown kind":     "models:\n  - id: a\n    provider: dashscope\n    kinds: [speech]\n",
		"image no sizes":   "models:\n  - id: a\n    provider: dashscope\n    kinds: [text-to-image]\n",
		"video no limits":  "models:\n  - id: a\n    provider: dashscope\n    kinds: [text-to-video]\n",
		"not yaml":         "models: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Models())

	path := filepath.Join(t.TempDir(), "models.yaml")
	doc := `
models:
  - id: only-video
    provider: dashscope
    kinds: [text-to-video]
    resolutions: [720P]
    durations: [5]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err = LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Models(), 1)
	m, ok := c.DefaultModel(domain.KindTextToVideo)
	require.True(t, ok, "first model for a kind is the fallback default")
	assert.Equal(t, "only-video", m.ID)
	_, ok = c.DefaultModel(domain.KindTextToImage)
	assert.False(t, ok)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
