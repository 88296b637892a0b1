package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name  string   `json:"name"`
	Port  int      `json:"port"`
	Hours []int    `json:"hours"`
	Inner struct {
		Url string `json:"url"`
	} `json:"inner"`
}

func TestLocalName(t *testing.T) {
	require.Equal(t, filepath.Join("conf", "ireps.local.json5"), LocalName(filepath.Join("conf", "ireps.json5")))
	require.Equal(t, "ireps.local", LocalName("ireps"))
}

func TestLayerOverrides(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "ireps.json5")
	require.NoError(t, os.WriteFile(name, []byte(`{
		// comments are allowed
		name: "base",
		port: 5050,
		inner: { url: "https://example.com" },
	}`), 0600))
	require.NoError(t, os.WriteFile(LocalName(name), []byte(`{ port: 6060 }`), 0600))

	out := testConfig{Hours: []int{6, 13, 19}}
	found, err := Layer(&out, name)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "base", out.Name)
	require.Equal(t, 6060, out.Port)
	require.Equal(t, []int{6, 13, 19}, out.Hours)
	require.Equal(t, "https://example.com", out.Inner.Url)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "missing.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigInvalid(t *testing.T) {
	name := filepath.Join(t.TempDir(), "broken.json5")
	require.NoError(t, os.WriteFile(name, []byte(`{ name: `), 0600))
	_, err := ReadConfig[testConfig](name)
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}
