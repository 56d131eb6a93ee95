package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is read from the working directory when no path is given.
	DefaultConfigFile = "paperqa.yml"
	// DefaultEnvFile is read from the working directory for KEY=value overrides.
	DefaultEnvFile = ".env"
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "paperqa"
	// GlobalConfigFile is the config file name under GlobalConfigDir.
	GlobalConfigFile = "config.yml"
)

// GlobalConfigPath returns the per-user config file path.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/paperqa/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// ResolvePath picks the config file to read. An explicit path always wins;
// otherwise paperqa.yml in the working directory, then the global file.
// Returns "" when no file exists.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return ExpandPath(explicit)
	}
	for _, p := range []string{DefaultConfigFile, GlobalConfigPath()} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load builds the effective configuration. path is the YAML file ("" skips
// it) and envFile a dotenv file ("" or missing skips it). Real environment
// variables take precedence over the dotenv file.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
		if vals != nil {
			dotenv = vals
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	cfg.IndexDir = ExpandPath(cfg.IndexDir)
	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.HistoryDB = ExpandPath(cfg.HistoryDB)
	return cfg, nil
}

// applyEnv overlays environment values. Each variable is the upper-snake
// form of the YAML key.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"embedding_model":   &cfg.EmbeddingModel,
		"ollama_model":      &cfg.OllamaModel,
		"ollama_url":        &cfg.OllamaURL,
		"index_dir":         &cfg.IndexDir,
		"data_dir":          &cfg.DataDir,
		"similarity_metric": &cfg.SimilarityMetric,
		"duplicate_titles":  &cfg.DuplicateTitles,
		"listen_addr":       &cfg.ListenAddr,
		"history_db":        &cfg.HistoryDB,
	}
	ints := map[string]*int{
		"embedding_dimensions": &cfg.EmbeddingDimensions,
		"top_k":                &cfg.TopK,
		"prompt_max_length":    &cfg.PromptMaxLength,
		"max_tokens":           &cfg.MaxTokens,
		"chunk_max_chars":      &cfg.ChunkMaxChars,
		"chunk_overlap":        &cfg.ChunkOverlap,
		"rate_burst":           &cfg.RateBurst,
	}
	floats := map[string]*float64{
		"temperature": &cfg.Temperature,
		"rate_limit":  &cfg.RateLimit,
	}

	for key, dst := range strs {
		if v, ok := lookup(EnvName(key)); ok {
			*dst = v
		}
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvName(key)); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %q is not an integer", EnvName(key), v)
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v, ok := lookup(EnvName(key)); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %q is not a number", EnvName(key), v)
			}
			*dst = f
		}
	}
	if v, ok := lookup(EnvName("request_timeout")); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvName("request_timeout"), err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := lookup(EnvName("guardrails")); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not a boolean", EnvName("guardrails"), v)
		}
		cfg.Guardrails = b
	}
	return nil
}

// EnvName converts a YAML key like "top_k" to its variable name "TOP_K".
func EnvName(key string) string {
	return strings.ToUpper(key)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
