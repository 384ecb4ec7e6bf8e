package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "bwb-efatura.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
[paths]
table = "/data/compras.xlsx"

[efatura]
repo_code = "123456789"

[auth]
client_id = "efatura-client"
`

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "/data/compras.xlsx", cfg.Paths.Table)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.Paths.LogDir)
	assert.Equal(t, "/data/.efatura-tokens.json", cfg.Paths.TokenFile)
	assert.Equal(t, 100, cfg.EFatura.PageSize)
	assert.Equal(t, 3, cfg.EFatura.Retries)
	assert.Equal(t, 10, cfg.Checkpoint.EveryDocs)
	assert.Equal(t, 60, cfg.Checkpoint.EverySeconds)
	assert.Equal(t, 10, cfg.Logging.ProgressEveryDocs)
}

func TestLoad_FullFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, `
[paths]
table = "/data/compras.xlsx"
log_dir = "/var/log/bwb"
token_file = "/secrets/tokens.json"

[efatura]
services_base = "https://services.example.test"
repo_code = "555000111"
page_size = 50
retries = 5
backoff_ms = 200

[auth]
client_id = "efatura-client"
client_secret = "from-toml"
scopes = ["openid"]

[checkpoint]
every_docs = 25
every_seconds = 120

[logging]
progress_every_docs = 1
`))
	require.NoError(t, err)

	assert.Equal(t, "https://services.example.test", cfg.EFatura.ServicesBase)
	assert.Equal(t, 50, cfg.EFatura.PageSize)
	assert.Equal(t, 5, cfg.EFatura.Retries)
	assert.Equal(t, "from-toml", cfg.Auth.ClientSecret)
	assert.Equal(t, []string{"openid"}, cfg.Auth.Scopes)
	assert.Equal(t, 25, cfg.Checkpoint.EveryDocs)
	assert.Equal(t, 1, cfg.Logging.ProgressEveryDocs)
}

func TestLoad_DotenvOverridesClientSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("EFATURA_CLIENT_SECRET=from-dotenv\n"), 0o600))
	// godotenv only fills variables absent from the environment.
	t.Setenv("EFATURA_CLIENT_SECRET", "placeholder")
	os.Unsetenv("EFATURA_CLIENT_SECRET")

	cfg, err := Load(writeConfig(t, dir, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.ClientSecret)
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeConfig(t, dir, `
[efatura]
repo_code = "123456789"
[auth]
client_id = "x"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paths.table")

	_, err = Load(writeConfig(t, dir, `
[paths]
table = "/data/compras.xlsx"
[auth]
client_id = "x"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo_code")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
