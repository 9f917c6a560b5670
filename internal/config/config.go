package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quasar-finance/daoresolve/internal/paginate"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Timeout     string
	Retries     int
	IndexerURL  string
	NoIndexer   bool
	PageSize    int
	NoCache     bool
	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsAddr string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	Timeout         time.Duration
	Retries         int
	IndexerURL      string
	IndexerDisabled bool
	PageSize        int
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	LogLevel        string
	LogFormat       string
	LogFile         string
	MetricsAddr     string
	Chains          []registry.Chain
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	PageSize *int   `yaml:"page_size"`
	Indexer  struct {
		URL      string `yaml:"url"`
		Disabled *bool  `yaml:"disabled"`
	} `yaml:"indexer"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Chains []registry.Chain `yaml:"chains"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PageSize <= 0 {
		settings.PageSize = paginate.DefaultPageSize
	}
	if settings.IndexerURL == "" {
		settings.IndexerURL = registry.DefaultIndexerURL
	}

	return settings, nil
}

// Registry returns the compiled-in chain table with the configured overrides
// applied.
func (s Settings) Registry() *registry.Registry {
	reg := registry.Default()
	if len(s.Chains) == 0 {
		return reg
	}
	return reg.WithOverrides(s.Chains)
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "json",
		Timeout:       10 * time.Second,
		Retries:       0,
		IndexerURL:    registry.DefaultIndexerURL,
		PageSize:      paginate.DefaultPageSize,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		LogLevel:      "warn",
		LogFormat:     "console",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "daoq", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "daoq")
	return filepath.Join(dir, "facts.db"), filepath.Join(dir, "facts.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.PageSize != nil {
		settings.PageSize = *cfg.PageSize
	}
	if cfg.Indexer.URL != "" {
		settings.IndexerURL = registry.NormalizeEndpoint(cfg.Indexer.URL)
	}
	if cfg.Indexer.Disabled != nil {
		settings.IndexerDisabled = *cfg.Indexer.Disabled
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Log.File != "" {
		settings.LogFile = cfg.Log.File
	}
	if cfg.Metrics.Addr != "" {
		settings.MetricsAddr = cfg.Metrics.Addr
	}
	for i, c := range cfg.Chains {
		if strings.TrimSpace(string(c.ID)) == "" {
			return fmt.Errorf("config chains[%d]: chain_id is required", i)
		}
	}
	settings.Chains = cfg.Chains

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DAOQ_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DAOQ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DAOQ_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DAOQ_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.PageSize = n
		}
	}
	if v := os.Getenv("DAOQ_INDEXER_URL"); v != "" {
		settings.IndexerURL = registry.NormalizeEndpoint(v)
	}
	if v := os.Getenv("DAOQ_NO_INDEXER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.IndexerDisabled = b
		}
	}
	if v := os.Getenv("DAOQ_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("DAOQ_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("DAOQ_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("DAOQ_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("DAOQ_LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv("DAOQ_LOG_FILE"); v != "" {
		settings.LogFile = v
	}
	if v := os.Getenv("DAOQ_METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.PageSize > 0 {
		settings.PageSize = flags.PageSize
	}
	if flags.IndexerURL != "" {
		settings.IndexerURL = registry.NormalizeEndpoint(flags.IndexerURL)
	}
	if flags.NoIndexer {
		settings.IndexerDisabled = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	if flags.LogFile != "" {
		settings.LogFile = flags.LogFile
	}
	if flags.MetricsAddr != "" {
		settings.MetricsAddr = flags.MetricsAddr
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
