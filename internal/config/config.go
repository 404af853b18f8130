// Package config loads and validates the PSCue daemon's layered
// configuration: a YAML file supplies defaults, environment variables
// override them, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pscue/internal/logging"
)

// Config holds all PSCue daemon configuration.
type Config struct {
	// DataDir is the root directory for the SQLite store, logs, and the
	// sensitivity ignore-glob file.
	DataDir string `yaml:"data_dir"`

	// SocketPath is the IPC listener address (Unix domain socket path, or a
	// Windows named-pipe name when built for that platform).
	SocketPath string `yaml:"socket_path"`

	Logging LoggingConfig `yaml:"logging"`

	Graph    GraphConfig    `yaml:"graph"`
	History  HistoryConfig  `yaml:"history"`
	Sequence SequenceConfig `yaml:"sequence"`
	Workflow WorkflowConfig `yaml:"workflow"`
	PCD      PCDConfig      `yaml:"pcd"`
	Cache    CacheConfig    `yaml:"cache"`
	Store    StoreConfig    `yaml:"store"`
	IPC      IPCConfig      `yaml:"ipc"`

	Sensitivity SensitivityConfig `yaml:"sensitivity"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	Debug  bool   `yaml:"debug"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// GraphConfig bounds the argument graph (Module B).
type GraphConfig struct {
	MaxCommands         int `yaml:"max_commands"`
	MaxArgumentsPerCmd  int `yaml:"max_arguments_per_command"`
	MaxParamValuesPerArg int `yaml:"max_parameter_values_per_argument"`
}

// HistoryConfig bounds the command history ring (Module C).
type HistoryConfig struct {
	MaxSize int `yaml:"max_size"`
}

// SequenceConfig controls the N-gram sequence predictor (Module D).
type SequenceConfig struct {
	MinFrequency    int     `yaml:"min_frequency"`
	RecencyBonus    float64 `yaml:"recency_bonus"`
	MaxPredictions  int     `yaml:"max_predictions"`
}

// WorkflowConfig controls the inter-command workflow learner (Module E).
type WorkflowConfig struct {
	MaxTransitionsPerSource int           `yaml:"max_transitions_per_source"`
	MaxDelta                time.Duration `yaml:"max_delta"`
}

// PCDConfig controls the smart-cd directory ranking engine (Module G).
type PCDConfig struct {
	MaxDepth                int     `yaml:"max_depth"`
	PredictorMaxDepth       int     `yaml:"predictor_max_depth"`
	FrequencyWeight         float64 `yaml:"frequency_weight"`
	RecencyWeight           float64 `yaml:"recency_weight"`
	DistanceWeight          float64 `yaml:"distance_weight"`
	ExactMatchBoost         float64 `yaml:"exact_match_boost"`
	RecursiveSearch         bool    `yaml:"recursive_search"`
	EnableDotDirFilter      bool    `yaml:"enable_dot_dir_filter"`
	CustomBlocklist         []string `yaml:"custom_blocklist"`
	FuzzyMinQueryLen        int     `yaml:"fuzzy_min_query_len"`
}

// CacheConfig bounds the completion result cache (Module I).
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// StoreConfig controls the SQLite persistence manager (Module H).
type StoreConfig struct {
	Path               string        `yaml:"path"`
	BusyTimeout        time.Duration `yaml:"busy_timeout"`
	SaveInterval       time.Duration `yaml:"save_interval"`
	MaxRetryBackoff    time.Duration `yaml:"max_retry_backoff"`
	HistoryKeepLast    int           `yaml:"history_keep_last"`
}

// IPCConfig controls the local completion server (Module J).
type IPCConfig struct {
	MaxConcurrentConnections int           `yaml:"max_concurrent_connections"`
	ShutdownDrainTimeout     time.Duration `yaml:"shutdown_drain_timeout"`
	MaxFrameBytes            int           `yaml:"max_frame_bytes"`
}

// SensitivityConfig controls the credential/pattern filter (Module K).
type SensitivityConfig struct {
	IgnoreGlobsPath string `yaml:"ignore_globs_path"`
	HotReload       bool   `yaml:"hot_reload"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    ".pscue",
		SocketPath: ".pscue/pscued.sock",

		Logging: LoggingConfig{
			Debug:  false,
			Level:  "info",
			Format: "text",
		},

		Graph: GraphConfig{
			MaxCommands:          500,
			MaxArgumentsPerCmd:   200,
			MaxParamValuesPerArg: 50,
		},

		History: HistoryConfig{
			MaxSize: 1000,
		},

		Sequence: SequenceConfig{
			MinFrequency:   2,
			RecencyBonus:   0.1,
			MaxPredictions: 5,
		},

		Workflow: WorkflowConfig{
			MaxTransitionsPerSource: 20,
			MaxDelta:                30 * time.Minute,
		},

		PCD: PCDConfig{
			MaxDepth:           3,
			PredictorMaxDepth:  1,
			FrequencyWeight:    0.4,
			RecencyWeight:      0.3,
			DistanceWeight:     0.3,
			ExactMatchBoost:    100,
			RecursiveSearch:    false,
			EnableDotDirFilter: true,
			CustomBlocklist:    []string{"node_modules", ".git", "__pycache__", ".cache"},
			FuzzyMinQueryLen:   2,
		},

		Cache: CacheConfig{
			Capacity: 256,
		},

		Store: StoreConfig{
			Path:            "db/pscue.db",
			BusyTimeout:     5 * time.Second,
			SaveInterval:    30 * time.Second,
			MaxRetryBackoff: time.Second,
			HistoryKeepLast: 1000,
		},

		IPC: IPCConfig{
			MaxConcurrentConnections: 16,
			ShutdownDrainTimeout:     3 * time.Second,
			MaxFrameBytes:            1 << 20,
		},

		Sensitivity: SensitivityConfig{
			IgnoreGlobsPath: "sensitivity_ignore.txt",
			HotReload:       true,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults if the
// file doesn't exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.Get(logging.CategoryBoot).Debug("loading config from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryBoot).Info("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Get(logging.CategoryBoot).Info("config loaded: data_dir=%s socket=%s", cfg.DataDir, cfg.SocketPath)
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PSCUE_* environment variable overrides. Env vars
// always win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PSCUE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PSCUE_SOCKET_PATH"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("PSCUE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
	if v := os.Getenv("PSCUE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PSCUE_IGNORE_PATTERNS"); v != "" {
		c.Sensitivity.IgnoreGlobsPath = v
	}

	if v := os.Getenv("PSCUE_PCD_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PCD.MaxDepth = n
		}
	}
	if v := os.Getenv("PSCUE_PCD_PREDICTOR_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PCD.PredictorMaxDepth = n
		}
	}
	if v := os.Getenv("PSCUE_PCD_FREQUENCY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PCD.FrequencyWeight = f
		}
	}
	if v := os.Getenv("PSCUE_PCD_RECENCY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PCD.RecencyWeight = f
		}
	}
	if v := os.Getenv("PSCUE_PCD_DISTANCE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PCD.DistanceWeight = f
		}
	}
	if v := os.Getenv("PSCUE_PCD_RECURSIVE_SEARCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.PCD.RecursiveSearch = b
		}
	}
	if v := os.Getenv("PSCUE_PCD_ENABLE_DOT_DIR_FILTER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.PCD.EnableDotDirFilter = b
		}
	}
	if v := os.Getenv("PSCUE_PCD_CUSTOM_BLOCKLIST"); v != "" {
		c.PCD.CustomBlocklist = splitCommaList(v)
	}

	if v := os.Getenv("PSCUE_PARTIAL_COMMAND_PREDICTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sequence.MaxPredictions = n
		}
	}

	if v := os.Getenv("PSCUE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

func splitCommaList(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// StorePath resolves the SQLite store path relative to DataDir when the
// configured path is not already absolute.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, c.Store.Path)
}

// IgnoreGlobsPath resolves the sensitivity ignore-glob file path relative to
// DataDir when the configured path is not already absolute.
func (c *Config) IgnoreGlobsPath() string {
	if filepath.IsAbs(c.Sensitivity.IgnoreGlobsPath) {
		return c.Sensitivity.IgnoreGlobsPath
	}
	return filepath.Join(c.DataDir, c.Sensitivity.IgnoreGlobsPath)
}

// Validate checks invariants the daemon depends on before starting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if c.History.MaxSize <= 0 {
		return fmt.Errorf("history.max_size must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	if c.IPC.MaxConcurrentConnections <= 0 {
		return fmt.Errorf("ipc.max_concurrent_connections must be positive")
	}
	w := c.PCD.FrequencyWeight + c.PCD.RecencyWeight + c.PCD.DistanceWeight
	if w <= 0 {
		return fmt.Errorf("pcd weights must sum to a positive value, got %f", w)
	}
	return nil
}
