package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Vocabulary.Apps)
	assert.NotEmpty(t, cfg.Vocabulary.Settings)
	assert.NotEmpty(t, cfg.Vocabulary.Adjustables)
	assert.True(t, cfg.Auth.AllowDeviceHeader)
}

func TestDefaultYAMLRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(DefaultYAML()))
	require.NoError(t, err)
	assert.Equal(t, Default().Vocabulary, cfg.Vocabulary)
}

func TestFromYAMLPreservesDeclarationOrder(t *testing.T) {
	cfg, err := FromYAML([]byte(`vocabulary:
  apps:
    - key: b
      aliases: [bee]
    - key: a
      aliases: [ay]
  settings:
    - key: s
      aliases: [ess]
  adjustables:
    - key: v
      aliases: [vee]
`))
	require.NoError(t, err)
	require.Len(t, cfg.Vocabulary.Apps, 2)
	assert.Equal(t, "b", cfg.Vocabulary.Apps[0].Key)
	assert.Equal(t, "a", cfg.Vocabulary.Apps[1].Key)
}

func TestValidateRejectsBadVocabularies(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty table",
			yaml: `vocabulary:
  apps: []
  settings:
    - {key: s, aliases: [s]}
  adjustables:
    - {key: v, aliases: [v]}
`,
			want: "vocabulary.apps must not be empty",
		},
		{
			name: "duplicate key",
			yaml: `vocabulary:
  apps:
    - {key: a, aliases: [a]}
    - {key: a, aliases: [b]}
  settings:
    - {key: s, aliases: [s]}
  adjustables:
    - {key: v, aliases: [v]}
`,
			want: "duplicate key a",
		},
		{
			name: "entry without aliases",
			yaml: `vocabulary:
  apps:
    - {key: a, aliases: []}
  settings:
    - {key: s, aliases: [s]}
  adjustables:
    - {key: v, aliases: [v]}
`,
			want: "has no aliases",
		},
		{
			name: "missing key",
			yaml: `vocabulary:
  apps:
    - {aliases: [a]}
  settings:
    - {key: s, aliases: [s]}
  adjustables:
    - {key: v, aliases: [v]}
`,
			want: "without a key",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Vocabulary, cfg.Vocabulary)
}

func TestLoadOptionalReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	custom := `vocabulary:
  apps:
    - {key: notes, aliases: [notes, notepad]}
  settings:
    - {key: wifi, aliases: [wifi]}
  adjustables:
    - {key: volume, aliases: [volume]}
auth:
  allow_device_header: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sidekick.yml"), []byte(custom), 0o644))

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Vocabulary.Apps, 1)
	assert.Equal(t, "notes", cfg.Vocabulary.Apps[0].Key)
	assert.False(t, cfg.Auth.AllowDeviceHeader)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
