package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	ChainID        int64
	RPCURL         string
	LogLevel       string
}

// CollateralContracts locates the token and join adapter for one ILK.
type CollateralContracts struct {
	Gem  string `yaml:"gem"`
	Join string `yaml:"join"`
}

type Contracts struct {
	Vat            string                         `yaml:"vat"`
	Spotter        string                         `yaml:"spotter"`
	Stablecoin     string                         `yaml:"stablecoin"`
	StablecoinJoin string                         `yaml:"stablecoin_join"`
	VaultManager   string                         `yaml:"vault_manager"`
	Orders         string                         `yaml:"orders"`
	Ilks           map[string]CollateralContracts `yaml:"ilks"`
}

type ActivitySettings struct {
	BlockWindow       uint64
	ChunkSize         uint64
	PageSize          int
	LookupConcurrency int
	LookupRPS         float64
}

type Settings struct {
	OutputMode       string
	SelectFields     []string
	ResultsOnly      bool
	EnableCommands   []string
	Strict           bool
	Timeout          time.Duration
	Retries          int
	MaxStale         time.Duration
	NoStale          bool
	CacheEnabled     bool
	CachePath        string
	CacheLockPath    string
	ActionStorePath  string
	ActionLockPath   string
	DefiLlamaAPIKey  string
	ChainID          int64
	RPCURL           string
	KeySource        string
	Contracts        Contracts
	ReceiptTimeout   time.Duration
	TxPollInterval   time.Duration
	SettleDelay      time.Duration
	GasMultiplier    float64
	ReadCacheTTL     time.Duration
	ReadPollInterval time.Duration
	Activity         ActivitySettings
	Log              zap.Config
}

type fileConfig struct {
	Output    string    `yaml:"output"`
	Strict    *bool     `yaml:"strict"`
	Timeout   string    `yaml:"timeout"`
	Retries   *int      `yaml:"retries"`
	ChainID   int64     `yaml:"chain_id"`
	RPCURL    string    `yaml:"rpc_url"`
	KeySource string    `yaml:"key_source"`
	Contracts Contracts `yaml:"contracts"`
	Cache     struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		ActionsPath     string  `yaml:"actions_path"`
		ActionsLockPath string  `yaml:"actions_lock_path"`
		ReceiptTimeout  string  `yaml:"receipt_timeout"`
		PollInterval    string  `yaml:"poll_interval"`
		SettleDelay     string  `yaml:"settle_delay"`
		GasMultiplier   float64 `yaml:"gas_multiplier"`
	} `yaml:"execution"`
	Reads struct {
		CacheTTL     string `yaml:"cache_ttl"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"reads"`
	Activity struct {
		BlockWindow       uint64  `yaml:"block_window"`
		ChunkSize         uint64  `yaml:"chunk_size"`
		PageSize          int     `yaml:"page_size"`
		LookupConcurrency int     `yaml:"lookup_concurrency"`
		LookupRPS         float64 `yaml:"lookup_rps"`
	} `yaml:"activity"`
	Providers struct {
		DefiLlama struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"defillama"`
	} `yaml:"providers"`
	Log yaml.Node `yaml:"log"`
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
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}
	if settings.Activity.PageSize <= 0 {
		settings.Activity.PageSize = 5
	}
	if settings.Activity.ChunkSize == 0 {
		settings.Activity.ChunkSize = 2000
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		Retries:          2,
		MaxStale:         5 * time.Minute,
		CacheEnabled:     true,
		CachePath:        cachePath,
		CacheLockPath:    lockPath,
		ActionStorePath:  filepath.Join(cacheDir, "actions.db"),
		ActionLockPath:   filepath.Join(cacheDir, "actions.lock"),
		ChainID:          84532,
		KeySource:        "auto",
		Contracts:        Contracts{Ilks: map[string]CollateralContracts{}},
		ReceiptTimeout:   2 * time.Minute,
		TxPollInterval:   2 * time.Second,
		SettleDelay:      2 * time.Second,
		GasMultiplier:    1.2,
		ReadCacheTTL:     5 * time.Second,
		ReadPollInterval: 5 * time.Second,
		Activity: ActivitySettings{
			BlockWindow:       10_000,
			ChunkSize:         2_000,
			PageSize:          5,
			LookupConcurrency: 4,
			LookupRPS:         10,
		},
		Log: logCfg,
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
	return filepath.Join(base, "spout", "config.yaml"), nil
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
	dir := filepath.Join(base, "spout")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
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
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if err := parseDurationInto(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.ChainID > 0 {
		settings.ChainID = cfg.ChainID
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.KeySource != "" {
		settings.KeySource = cfg.KeySource
	}
	mergeContracts(&settings.Contracts, cfg.Contracts)
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := parseDurationInto(cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale); err != nil {
		return err
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Execution.ActionsPath != "" {
		settings.ActionStorePath = cfg.Execution.ActionsPath
	}
	if cfg.Execution.ActionsLockPath != "" {
		settings.ActionLockPath = cfg.Execution.ActionsLockPath
	}
	if err := parseDurationInto(cfg.Execution.ReceiptTimeout, "execution.receipt_timeout", &settings.ReceiptTimeout); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Execution.PollInterval, "execution.poll_interval", &settings.TxPollInterval); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Execution.SettleDelay, "execution.settle_delay", &settings.SettleDelay); err != nil {
		return err
	}
	if cfg.Execution.GasMultiplier > 0 {
		settings.GasMultiplier = cfg.Execution.GasMultiplier
	}
	if err := parseDurationInto(cfg.Reads.CacheTTL, "reads.cache_ttl", &settings.ReadCacheTTL); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Reads.PollInterval, "reads.poll_interval", &settings.ReadPollInterval); err != nil {
		return err
	}
	if cfg.Activity.BlockWindow > 0 {
		settings.Activity.BlockWindow = cfg.Activity.BlockWindow
	}
	if cfg.Activity.ChunkSize > 0 {
		settings.Activity.ChunkSize = cfg.Activity.ChunkSize
	}
	if cfg.Activity.PageSize > 0 {
		settings.Activity.PageSize = cfg.Activity.PageSize
	}
	if cfg.Activity.LookupConcurrency > 0 {
		settings.Activity.LookupConcurrency = cfg.Activity.LookupConcurrency
	}
	if cfg.Activity.LookupRPS > 0 {
		settings.Activity.LookupRPS = cfg.Activity.LookupRPS
	}
	if cfg.Providers.DefiLlama.APIKey != "" {
		settings.DefiLlamaAPIKey = cfg.Providers.DefiLlama.APIKey
	}
	if cfg.Providers.DefiLlama.APIKeyEnv != "" {
		settings.DefiLlamaAPIKey = os.Getenv(cfg.Providers.DefiLlama.APIKeyEnv)
	}
	if !cfg.Log.IsZero() {
		// Decode onto the defaults so a partial log block keeps the encoder config.
		logCfg := settings.Log
		if err := cfg.Log.Decode(&logCfg); err != nil {
			return fmt.Errorf("config log: %w", err)
		}
		settings.Log = logCfg
	}

	return nil
}

func mergeContracts(dst *Contracts, src Contracts) {
	if src.Vat != "" {
		dst.Vat = src.Vat
	}
	if src.Spotter != "" {
		dst.Spotter = src.Spotter
	}
	if src.Stablecoin != "" {
		dst.Stablecoin = src.Stablecoin
	}
	if src.StablecoinJoin != "" {
		dst.StablecoinJoin = src.StablecoinJoin
	}
	if src.VaultManager != "" {
		dst.VaultManager = src.VaultManager
	}
	if src.Orders != "" {
		dst.Orders = src.Orders
	}
	if dst.Ilks == nil {
		dst.Ilks = map[string]CollateralContracts{}
	}
	for ticker, c := range src.Ilks {
		dst.Ilks[strings.ToUpper(strings.TrimSpace(ticker))] = c
	}
}

func parseDurationInto(raw, field string, dst *time.Duration) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SPOUT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SPOUT_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := os.Getenv("SPOUT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SPOUT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SPOUT_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("SPOUT_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("SPOUT_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("SPOUT_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("SPOUT_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("SPOUT_ACTIONS_PATH"); v != "" {
		settings.ActionStorePath = v
	}
	if v := os.Getenv("SPOUT_ACTIONS_LOCK_PATH"); v != "" {
		settings.ActionLockPath = v
	}
	if v := os.Getenv("SPOUT_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("SPOUT_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("SPOUT_KEY_SOURCE"); v != "" {
		settings.KeySource = v
	}
	if v := os.Getenv("SPOUT_DEFILLAMA_API_KEY"); v != "" {
		settings.DefiLlamaAPIKey = v
	}
	if v := os.Getenv("SPOUT_LOG_LEVEL"); v != "" {
		if lvl, err := zap.ParseAtomicLevel(v); err == nil {
			settings.Log.Level = lvl
		}
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
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}

	if flags.Strict {
		settings.Strict = true
	}
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
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		lvl, err := zap.ParseAtomicLevel(flags.LogLevel)
		if err != nil {
			return fmt.Errorf("parse --log-level: %w", err)
		}
		settings.Log.Level = lvl
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
