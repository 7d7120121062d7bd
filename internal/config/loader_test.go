package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the variables the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range envBindings {
		for _, name := range names {
			t.Setenv(name, "")
		}
	}
	for _, p := range keyEnvProfiles {
		t.Setenv(p.env, "")
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		t.Setenv("DATA_DIR", tmpDir)

		cfg, err := NewLoader(filepath.Join(tmpDir, "nonexistent.json")).WithEnvFile("").Load()

		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Session.MaxMessages)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Session.StorageRoot)
		assert.Equal(t, filepath.Join(tmpDir, "programs.txt"), cfg.Knowledge.Path)
		assert.Empty(t, cfg.AI.Profiles)
	})

	t.Run("load config from file", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + filepath.ToSlash(tmpDir) + `",
			"telegram": {"bot_token": "123:abc"},
			"session": {"max_messages": 8, "timeout": "30m", "sweep_interval": "10s", "storage_root": "/srv/sessions"},
			"ai": {"profiles": [{"id": "main", "provider": "anthropic", "api_key": "sk-ant-x", "model": "claude-3-5-haiku-latest", "priority": 1}]}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).WithEnvFile("").Load()

		require.NoError(t, err)
		assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
		assert.Equal(t, 8, cfg.Session.MaxMessages)
		assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
		assert.Equal(t, 10*time.Second, cfg.Session.SweepInterval)
		assert.Equal(t, "/srv/sessions", cfg.Session.StorageRoot)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		// untouched defaults survive
		assert.Equal(t, 700, cfg.AI.MaxTokens)
		assert.Equal(t, DefaultStartText, cfg.Telegram.StartText)
	})

	t.Run("bare environment variables override file", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"session": {"max_messages": 8}}`), 0644))

		t.Setenv("DATA_DIR", tmpDir)
		t.Setenv("MAX_MESSAGES", "3")
		t.Setenv("SESSION_TIMEOUT", "2m")
		t.Setenv("SWEEP_INTERVAL", "5s")
		t.Setenv("STORAGE_ROOT", filepath.Join(tmpDir, "store"))
		t.Setenv("TELEGRAM_TOKEN", "42:token")

		cfg, err := NewLoader(configPath).WithEnvFile("").Load()

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Session.MaxMessages)
		assert.Equal(t, 2*time.Minute, cfg.Session.Timeout)
		assert.Equal(t, 5*time.Second, cfg.Session.SweepInterval)
		assert.Equal(t, filepath.Join(tmpDir, "store"), cfg.Session.StorageRoot)
		assert.Equal(t, "42:token", cfg.Telegram.BotToken)
	})

	t.Run("profiles from provider keys in dotenv", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		t.Setenv("DATA_DIR", tmpDir)
		envFile := filepath.Join(tmpDir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("GEMINI_API_KEY=gem-key\n"), 0600))
		// godotenv never overrides variables that are already set, and
		// clearEnv set this one to empty.
		require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))
		t.Cleanup(func() { _ = os.Unsetenv("GEMINI_API_KEY") })

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFile(envFile).Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "gemini", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "gem-key", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "gemini-2.5-flash", cfg.AI.Profiles[0].Model)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{invalid json}"), 0644))

		_, err := NewLoader(configPath).WithEnvFile("").Load()
		assert.Error(t, err)
	})
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "abitur.json")

	cfg := validConfig()
	cfg.DataDir = tmpDir
	cfg.Session.MaxMessages = 7
	cfg.Session.Timeout = 20 * time.Minute

	loader := NewLoader(configPath).WithEnvFile("")
	require.NoError(t, loader.Save(cfg))
	assert.FileExists(t, configPath)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Session.MaxMessages)
	assert.Equal(t, 20*time.Minute, loaded.Session.Timeout)
	assert.Equal(t, cfg.Telegram.BotToken, loaded.Telegram.BotToken)
	assert.Equal(t, cfg.Session.StorageRoot, loaded.Session.StorageRoot)
}
