package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Browser BrowserConfig  `yaml:"browser"`
	Proxy   ProxyConfig    `yaml:"proxy"`
	Limits  LimitsConfig   `yaml:"limits"`
	Task    TaskConfig     `yaml:"task"`
	Chain   ChainConfig    `yaml:"chain"`
	Notify  NotifyConfig   `yaml:"notify"`
	Log     LogConfig      `yaml:"log"`
	Scripts []ScriptConfig `yaml:"scripts"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type BrowserConfig struct {
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string `yaml:"controlURL"`
	BinPath    string `yaml:"binPath"`
	Headless   *bool  `yaml:"headless"`
	// Stealth injects go-rod/stealth evasions into every page.
	Stealth      *bool `yaml:"stealth"`
	NavTimeoutMs int   `yaml:"navTimeoutMs"`
}

func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (c BrowserConfig) UseStealth() bool {
	return c.Stealth == nil || *c.Stealth
}

func (c BrowserConfig) NavTimeout() time.Duration {
	if c.NavTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavTimeoutMs) * time.Millisecond
}

type ProxyConfig struct {
	// Global is used for accounts without a proxy of their own.
	Global string `yaml:"global"`
	// CheckURL, when set, is fetched through each account's proxy before its scripts run.
	CheckURL     string   `yaml:"checkURL"`
	CheckTimeout int      `yaml:"checkTimeoutMs"`
	Retry        RetryCfg `yaml:"retry"`
}

func (c ProxyConfig) Timeout() time.Duration {
	if c.CheckTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.CheckTimeout) * time.Millisecond
}

type RetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c RetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c RetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type LimitsConfig struct {
	// BatchSize and BatchDelayMs are the bulk upstream throttle (3 per 1000ms by default).
	BatchSize    int `yaml:"batchSize"`
	BatchDelayMs int `yaml:"batchDelayMs"`
	// UpstreamQPS paces individual bulk calls on top of batching; 0 disables it.
	UpstreamQPS   float64 `yaml:"upstreamQPS"`
	UpstreamBurst int     `yaml:"upstreamBurst"`
	MaxThreads    int     `yaml:"maxThreads"`
}

func (c LimitsConfig) BatchDelay() time.Duration {
	if c.BatchDelayMs <= 0 {
		return 1000 * time.Millisecond
	}
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

type TaskConfig struct {
	DefaultThreadCount int   `yaml:"defaultThreadCount"`
	SweepOrphans       *bool `yaml:"sweepOrphans"`
	StopTimeoutMs      int   `yaml:"stopTimeoutMs"`
}

func (c TaskConfig) ShouldSweepOrphans() bool {
	return c.SweepOrphans == nil || *c.SweepOrphans
}

func (c TaskConfig) StopTimeout() time.Duration {
	if c.StopTimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

type ChainConfig struct {
	RPCURL    string `yaml:"rpcURL"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

func (c ChainConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type NotifyConfig struct {
	Email EmailConfig `yaml:"email"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	BufferSize int    `yaml:"bufferSize"`
}

// ScriptConfig declares a data-driven page script: open URL, then wait for
// selectors with the given retry policy.
type ScriptConfig struct {
	Ref           string   `yaml:"ref"`
	URL           string   `yaml:"url"`
	WaitSelectors []string `yaml:"waitSelectors"`
	RequireAll    bool     `yaml:"requireAll"`
	Retries       int      `yaml:"retries"`
	IntervalMs    int      `yaml:"intervalMs"`
	WaitTimeoutMs int      `yaml:"waitTimeoutMs"`
}

// Load reads an optional .env next to the process, then the yaml file, then
// FARM_* environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("FARM_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("FARM_SQLITE_PATH")); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("FARM_LOG_LEVEL")); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("FARM_RPC_URL")); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("FARM_SMTP_PASSWORD"); v != "" {
		c.Notify.Email.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("FARM_HEADLESS")); v != "" {
		h, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FARM_HEADLESS: %w", err)
		}
		c.Browser.Headless = &h
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/farm_engine.db"
	}
	if c.Limits.BatchSize <= 0 {
		c.Limits.BatchSize = 3
	}
	if c.Limits.BatchDelayMs <= 0 {
		c.Limits.BatchDelayMs = 1000
	}
	if c.Limits.UpstreamBurst <= 0 {
		c.Limits.UpstreamBurst = c.Limits.BatchSize
	}
	if c.Limits.MaxThreads <= 0 {
		c.Limits.MaxThreads = 50
	}
	if c.Task.DefaultThreadCount <= 0 {
		c.Task.DefaultThreadCount = 1
	}
	if c.Proxy.Retry.Count < 0 {
		c.Proxy.Retry.Count = 0
	}
	if c.Notify.Email.Port <= 0 {
		c.Notify.Email.Port = 465
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.BufferSize <= 0 {
		c.Log.BufferSize = 500
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Task.DefaultThreadCount > c.Limits.MaxThreads {
		return errors.New("task.defaultThreadCount exceeds limits.maxThreads")
	}
	seen := make(map[string]bool, len(c.Scripts))
	for i, s := range c.Scripts {
		if strings.TrimSpace(s.Ref) == "" {
			return fmt.Errorf("scripts[%d].ref is required", i)
		}
		if seen[s.Ref] {
			return fmt.Errorf("scripts[%d]: duplicate ref %q", i, s.Ref)
		}
		seen[s.Ref] = true
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("scripts[%d].url is required", i)
		}
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Host == "" || len(c.Notify.Email.To) == 0) {
		return errors.New("notify.email requires host and to when enabled")
	}
	return nil
}
