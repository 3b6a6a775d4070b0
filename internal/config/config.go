package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	LLM           struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		EmbeddingModel   string  `json:"embedding_model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		TimeoutSeconds   int     `json:"timeout_seconds"`
	} `json:"llm"`
	Memory struct {
		Backend      string `json:"backend"`
		Index        string `json:"index"`
		Recall       int    `json:"recall"`
		LookbackDays int    `json:"lookback_days"`
	} `json:"memory"`
	Session struct {
		MaxMessages  int    `json:"max_messages"`
		IdleMinutes  int    `json:"idle_minutes"`
		ReapSchedule string `json:"reap_schedule"`
		Insights     bool   `json:"insights"`
	} `json:"session"`
	Crisis struct {
		AlertKey string `json:"alert_key"`
	} `json:"crisis"`
	API struct {
		Addr string `json:"addr"`
	} `json:"api"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".soulsync"),
		LogLevel:      "info",
		MaxConcurrent: 2,
	}
	cfg.LLM.Provider = "gemini"
	cfg.LLM.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	cfg.LLM.Model = "gemini-2.0-flash"
	cfg.LLM.EmbeddingModel = "text-embedding-004"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 32000
	cfg.LLM.OutputReserve = 1024
	cfg.LLM.TimeoutSeconds = 30
	cfg.Memory.Backend = "json"
	cfg.Memory.Index = "tfidf"
	cfg.Memory.Recall = 5
	cfg.Memory.LookbackDays = 30
	cfg.Session.MaxMessages = 30
	cfg.Session.IdleMinutes = 30
	cfg.Session.ReapSchedule = "@every 5m"
	cfg.API.Addr = "127.0.0.1:8420"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("SOULSYNC_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("SOULSYNC_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if dataDir := os.Getenv("SOULSYNC_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var (
	logLevels      = []string{"", "debug", "info", "warn", "error"}
	memoryBackends = []string{"", "json", "sqlite"}
	memoryIndexes  = []string{"", "tfidf", "dense"}
)

// Validate checks enumerated settings and numeric ranges. Empty strings and
// zero numbers fall back to built-in defaults and are accepted.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}
	if !slices.Contains(memoryBackends, c.Memory.Backend) {
		errs = append(errs, fmt.Errorf("memory.backend must be json or sqlite; got %q", c.Memory.Backend))
	}
	if !slices.Contains(memoryIndexes, c.Memory.Index) {
		errs = append(errs, fmt.Errorf("memory.index must be tfidf or dense; got %q", c.Memory.Index))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2; got %v", c.LLM.Temperature))
	}
	for name, n := range map[string]int{
		"max_concurrent":       c.MaxConcurrent,
		"llm.max_tokens":       c.LLM.MaxTokens,
		"llm.timeout_seconds":  c.LLM.TimeoutSeconds,
		"memory.recall":        c.Memory.Recall,
		"memory.lookback_days": c.Memory.LookbackDays,
		"session.max_messages": c.Session.MaxMessages,
		"session.idle_minutes": c.Session.IdleMinutes,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative; got %d", name, n))
		}
	}
	return errors.Join(errs...)
}

// Timeout is the generation timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Lookback is the pattern aggregation window.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Memory.LookbackDays) * 24 * time.Hour
}

// IdleTimeout is how long a session may sit without a turn before the
// reaper ends it.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleMinutes) * time.Minute
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	return writeAtomic(path, cfg)
}

// ToMap converts cfg to a nested generic map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally masking secrets.
func ListValues(cfg *Config, masked bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if masked {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the effective value of one dotted key: the file at path
// over the defaults, with environment overrides applied. The file is created
// with defaults if it does not exist yet.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dotted key into the existing config file at path. The
// key must exist in the config schema; the value is converted to the type of
// its default and the result must pass Validate.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	schema, err := ToMap(Defaults())
	if err != nil {
		return err
	}
	def, ok := Flatten(schema)[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	v, err := coerce(def, value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	flat := Flatten(raw)
	flat[key] = v
	merged := Unflatten(flat)

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	check := Defaults()
	if err := json.Unmarshal(data, check); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := check.Validate(); err != nil {
		return err
	}
	return writeAtomic(path, merged)
}

func coerce(def any, value string) (any, error) {
	trimmed := strings.TrimSpace(value)
	switch def.(type) {
	case bool:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", value)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", value)
		}
		return n, nil
	}
	return value, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
