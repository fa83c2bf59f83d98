package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/kswap/internal/chain"
	"github.com/ggonzalez94/kswap/internal/policy"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const rpcEnvPrefix = "KSWAP_RPC_URL_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	LogLevel       string
	LogFormat      string
	ReceiptTimeout string
	GasTier        string
}

// Register binds the global flags onto fs, usually the root command's
// persistent flag set.
func (f *GlobalFlags) Register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&f.Plain, "plain", false, "Output plain text")
	fs.StringVar(&f.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&f.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&f.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	fs.StringVar(&f.Timeout, "timeout", "", "HTTP request timeout")
	fs.IntVar(&f.Retries, "retries", -1, "Retries per HTTP request")
	fs.StringVar(&f.LogLevel, "log-level", "", "Progress log level (debug|info|warn|error|quiet)")
	fs.StringVar(&f.LogFormat, "log-format", "", "Progress log format (text|json)")
	fs.StringVar(&f.ReceiptTimeout, "receipt-timeout", "", "Maximum wait for a transaction receipt")
	fs.StringVar(&f.GasTier, "gas-tier", "", "Fee tier (low|medium|high)")
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&f.EnvFile, "env-file", "", "Path to a .env file loaded before the environment is read")
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	LogLevel       string
	LogFormat      string
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	GasTier        string

	AggregatorURL string
	GasAPIURL     string
	ClientID      string
	RatePerSecond float64
	FeeAmount     string
	ChargeFeeBy   string

	InfuraAPIKey  string
	AlchemyAPIKey string
	Chains        map[string]chain.Override
	Policy        policy.Guard

	MetricsTextfile string
	OTLPEndpoint    string
	OTLPInsecure    bool
	LockPath        string
}

// ChainOptions converts settings into registry options.
func (s Settings) ChainOptions() chain.Options {
	return chain.Options{
		AggregatorBase: s.AggregatorURL,
		GasAPIBase:     s.GasAPIURL,
		AlchemyKey:     s.AlchemyAPIKey,
		Overrides:      s.Chains,
	}
}

type apiKeyConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type fileConfig struct {
	Output         string `yaml:"output"`
	Timeout        string `yaml:"timeout"`
	Retries        *int   `yaml:"retries"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ReceiptTimeout string `yaml:"receipt_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	GasTier        string `yaml:"gas_tier"`
	Aggregator     struct {
		BaseURL       string   `yaml:"base_url"`
		ClientID      string   `yaml:"client_id"`
		RatePerSecond *float64 `yaml:"rate_per_second"`
		FeeAmount     string   `yaml:"fee_amount"`
		ChargeFeeBy   string   `yaml:"charge_fee_by"`
	} `yaml:"aggregator"`
	GasAPI struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"gas_api"`
	Infura  apiKeyConfig `yaml:"infura"`
	Alchemy apiKeyConfig `yaml:"alchemy"`
	Chains  map[string]struct {
		RPCURL string `yaml:"rpc_url"`
		Permit *bool  `yaml:"permit"`
	} `yaml:"chains"`
	Policy struct {
		AllowedChains          []string `yaml:"allowed_chains"`
		MaxSlippageBps         *int64   `yaml:"max_slippage_bps"`
		AllowUnlimitedApproval *bool    `yaml:"allow_unlimited_approval"`
	} `yaml:"policy"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	Tracing struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		Insecure     *bool  `yaml:"insecure"`
	} `yaml:"tracing"`
	LockPath string `yaml:"lock_path"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	if err := loadDotEnv(flags.EnvFile); err != nil {
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
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 300 * time.Second
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	stateDir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "json",
		Timeout:        10 * time.Second,
		Retries:        0,
		LogLevel:       "info",
		LogFormat:      "text",
		ReceiptTimeout: 300 * time.Second,
		PollInterval:   2 * time.Second,
		GasTier:        "medium",
		AggregatorURL:  chain.DefaultAggregatorBase,
		GasAPIURL:      chain.DefaultGasAPIBase,
		ClientID:       "kswap",
		ChargeFeeBy:    "currency_in",
		Chains:         map[string]chain.Override{},
		LockPath:       filepath.Join(stateDir, "swap.lock"),
	}, nil
}

// loadDotEnv never overrides variables already set in the process. An
// explicit file must exist; the working-directory .env is optional.
func loadDotEnv(explicit string) error {
	if strings.TrimSpace(explicit) != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("load env file %s: %w", explicit, err)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
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
	return filepath.Join(base, "kswap", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "kswap"), nil
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
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		settings.LogFormat = cfg.LogFormat
	}
	if cfg.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("config poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.GasTier != "" {
		settings.GasTier = cfg.GasTier
	}

	if cfg.Aggregator.BaseURL != "" {
		settings.AggregatorURL = cfg.Aggregator.BaseURL
	}
	if cfg.Aggregator.ClientID != "" {
		settings.ClientID = cfg.Aggregator.ClientID
	}
	if cfg.Aggregator.RatePerSecond != nil {
		settings.RatePerSecond = *cfg.Aggregator.RatePerSecond
	}
	if cfg.Aggregator.FeeAmount != "" {
		settings.FeeAmount = cfg.Aggregator.FeeAmount
	}
	if cfg.Aggregator.ChargeFeeBy != "" {
		settings.ChargeFeeBy = cfg.Aggregator.ChargeFeeBy
	}
	if cfg.GasAPI.BaseURL != "" {
		settings.GasAPIURL = cfg.GasAPI.BaseURL
	}

	if cfg.Infura.APIKey != "" {
		settings.InfuraAPIKey = cfg.Infura.APIKey
	}
	if cfg.Infura.APIKeyEnv != "" {
		settings.InfuraAPIKey = os.Getenv(cfg.Infura.APIKeyEnv)
	}
	if cfg.Alchemy.APIKey != "" {
		settings.AlchemyAPIKey = cfg.Alchemy.APIKey
	}
	if cfg.Alchemy.APIKeyEnv != "" {
		settings.AlchemyAPIKey = os.Getenv(cfg.Alchemy.APIKeyEnv)
	}

	for slug, c := range cfg.Chains {
		key := strings.ToLower(strings.TrimSpace(slug))
		override := settings.Chains[key]
		if c.RPCURL != "" {
			override.RPCURL = c.RPCURL
		}
		if c.Permit != nil {
			permit := *c.Permit
			override.Permit = &permit
		}
		settings.Chains[key] = override
	}

	if len(cfg.Policy.AllowedChains) > 0 {
		settings.Policy.AllowedChains = cfg.Policy.AllowedChains
	}
	if cfg.Policy.MaxSlippageBps != nil {
		settings.Policy.MaxSlippageBps = *cfg.Policy.MaxSlippageBps
	}
	if cfg.Policy.AllowUnlimitedApproval != nil {
		settings.Policy.AllowUnlimitedApproval = *cfg.Policy.AllowUnlimitedApproval
	}

	if cfg.Metrics.Textfile != "" {
		settings.MetricsTextfile = cfg.Metrics.Textfile
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		settings.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.Insecure != nil {
		settings.OTLPInsecure = *cfg.Tracing.Insecure
	}
	if cfg.LockPath != "" {
		settings.LockPath = cfg.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("KSWAP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("KSWAP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("KSWAP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("KSWAP_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("KSWAP_LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv("KSWAP_RECEIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ReceiptTimeout = d
		}
	}
	if v := os.Getenv("KSWAP_GAS_TIER"); v != "" {
		settings.GasTier = v
	}
	if v := os.Getenv("KSWAP_AGGREGATOR_URL"); v != "" {
		settings.AggregatorURL = v
	}
	if v := os.Getenv("KSWAP_CLIENT_ID"); v != "" {
		settings.ClientID = v
	}
	if v := os.Getenv("INFURA_API_KEY"); v != "" {
		settings.InfuraAPIKey = v
	}
	if v := os.Getenv("ALCHEMY_API_KEY"); v != "" {
		settings.AlchemyAPIKey = v
	}
	if v := os.Getenv("KSWAP_METRICS_TEXTFILE"); v != "" {
		settings.MetricsTextfile = v
	}
	if v := os.Getenv("KSWAP_OTLP_ENDPOINT"); v != "" {
		settings.OTLPEndpoint = v
	}
	if v := os.Getenv("KSWAP_LOCK_PATH"); v != "" {
		settings.LockPath = v
	}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, rpcEnvPrefix) || strings.TrimSpace(value) == "" {
			continue
		}
		slug := strings.ToLower(strings.TrimPrefix(name, rpcEnvPrefix))
		override := settings.Chains[slug]
		override.RPCURL = strings.TrimSpace(value)
		settings.Chains[slug] = override
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

	if strings.TrimSpace(flags.EnableCommands) != "" {
		parts := strings.Split(flags.EnableCommands, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			v := strings.TrimSpace(part)
			if v != "" {
				allowed = append(allowed, v)
			}
		}
		settings.EnableCommands = allowed
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
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	if flags.ReceiptTimeout != "" {
		d, err := time.ParseDuration(flags.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("parse --receipt-timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if flags.GasTier != "" {
		settings.GasTier = flags.GasTier
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
