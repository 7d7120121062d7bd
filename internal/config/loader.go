package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the plain environment variable names
// accepted in addition to the ABITUR_ prefixed form.
var envBindings = map[string][]string{
	"session.max_messages":   {"MAX_MESSAGES"},
	"session.timeout":        {"SESSION_TIMEOUT"},
	"session.sweep_interval": {"SWEEP_INTERVAL"},
	"session.storage_root":   {"STORAGE_ROOT"},
	"telegram.bot_token":     {"TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"knowledge.path":         {"KNOWLEDGE_PATH"},
	"logging.level":          {"LOG_LEVEL"},
	"data_dir":               {"DATA_DIR"},
}

// keyEnvProfiles turns bare provider keys from the environment into
// profiles when the config file defines none.
var keyEnvProfiles = []struct {
	env      string
	provider string
	model    string
}{
	{"OPENAI_API_KEY", "openai", "gpt-3.5-turbo"},
	{"GEMINI_API_KEY", "gemini", "gemini-2.5-flash"},
	{"ANTHROPIC_API_KEY", "anthropic", "claude-3-5-haiku-latest"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile sets the dotenv file read before the environment is consulted.
// An empty path disables dotenv loading.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", l.envFile).Msg("Failed to load env file")
		}
	}

	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix("ABITUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key, "ABITUR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	for _, p := range keyEnvProfiles {
		if err := v.BindEnv("keys."+p.provider, p.env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", p.env, err)
		}
	}

	// A missing file means defaults plus environment
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.AI.Profiles) == 0 {
		for i, p := range keyEnvProfiles {
			key := v.GetString("keys." + p.provider)
			if key == "" {
				continue
			}
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       p.provider,
				Provider: p.provider,
				APIKey:   key,
				Model:    p.model,
				Priority: i + 1,
			})
		}
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".abitur")
	}

	if cfg.Session.StorageRoot == "" {
		cfg.Session.StorageRoot = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Knowledge.Path == "" {
		cfg.Knowledge.Path = filepath.Join(cfg.DataDir, "programs.txt")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("telegram", cfg.Telegram)
	v.Set("ai", cfg.AI)
	v.Set("session", map[string]interface{}{
		"max_messages":   cfg.Session.MaxMessages,
		"timeout":        cfg.Session.Timeout.String(),
		"sweep_interval": cfg.Session.SweepInterval.String(),
		"storage_root":   cfg.Session.StorageRoot,
	})
	v.Set("knowledge", cfg.Knowledge)
	v.Set("rate_limit", cfg.RateLimit)
	v.Set("moderation", cfg.Moderation)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	// Write config file
	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".abitur", "abitur.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
