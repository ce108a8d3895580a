package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
	"minoj/internal/common/http/middleware"
	"minoj/internal/common/storage"
	"minoj/internal/judge/sandbox"
	"minoj/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultJudgeWorkDir  = "/tmp/minoj-judge"
	defaultQueueWorkers  = 4
	defaultPollInterval  = 500 * time.Millisecond
	defaultCachePrefix   = "minoj"
	defaultTokenTTL      = 24 * time.Hour
	defaultRateWindow    = 60 * time.Second
	defaultRateMaxPerWin = 3
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig holds JWT and login throttle settings.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwtSecret"`
	JWTIssuer      string        `yaml:"jwtIssuer"`
	TokenTTL       time.Duration `yaml:"tokenTTL"`
	LoginFailTTL   time.Duration `yaml:"loginFailTTL"`
	LoginFailLimit int64         `yaml:"loginFailLimit"`
}

// JudgeConfig holds sandbox and judge engine settings.
type JudgeConfig struct {
	// WorkDir is the root under which per-submission directories are created.
	WorkDir string `yaml:"workDir"`

	// CgroupRoot is the cgroup v2 hierarchy the sandbox creates leaves in.
	// Empty disables cgroup limits (rlimits still apply).
	CgroupRoot string `yaml:"cgroupRoot"`

	// SandboxInitPath is the path of the sandbox-init helper binary.
	SandboxInitPath string `yaml:"sandboxInitPath"`

	EnableSeccomp    bool `yaml:"enableSeccomp"`
	EnableCgroup     bool `yaml:"enableCgroup"`
	EnableNamespaces bool `yaml:"enableNamespaces"`

	// Profiles maps the language registry's image names to isolation
	// setups. DefaultProfile serves languages with an empty image.
	Profiles       map[string]sandbox.IsolationProfile `yaml:"profiles"`
	DefaultProfile sandbox.IsolationProfile            `yaml:"defaultProfile"`
}

// QueueConfig holds judge queue worker settings.
type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Prefix  string        `yaml:"prefix"`
	ListTTL time.Duration `yaml:"listTTL"`
}

// RateLimitConfig holds the submission rate limit window.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// StorageConfig holds object storage settings for source archival.
type StorageConfig struct {
	Enabled             bool   `yaml:"enabled"`
	SourceKeyPrefix     string `yaml:"sourceKeyPrefix"`
	storage.MinIOConfig `yaml:",inline"`
}

// AppConfig holds the full application configuration.
type AppConfig struct {
	Server  ServerConfig          `yaml:"server"`
	CORS    middleware.CORSConfig `yaml:"cors"`
	Logger  logger.Config         `yaml:"logger"`
	Auth    AuthConfig            `yaml:"auth"`
	Redis   cache.RedisConfig     `yaml:"redis"`
	MySQL   db.MySQLConfig        `yaml:"mysql"`
	Storage StorageConfig         `yaml:"storage"`
	Judge   JudgeConfig           `yaml:"judge"`
	Queue   QueueConfig           `yaml:"queue"`
	Cache   CacheConfig           `yaml:"cache"`
	Rate    RateLimitConfig       `yaml:"rateLimit"`
}

// Load reads and validates the application configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	// JWTSecret is validated by the auth service; the worker binary has
	// no auth surface and must load the same file.
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = defaultTokenTTL
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("mysql dsn is required")
	}

	if cfg.Storage.Enabled {
		if cfg.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required when storage is enabled")
		}
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage is enabled")
		}
	}

	if cfg.Judge.WorkDir == "" {
		cfg.Judge.WorkDir = defaultJudgeWorkDir
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = defaultQueueWorkers
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = defaultPollInterval
	}

	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = defaultCachePrefix
	}
	if cfg.Cache.ListTTL == 0 {
		cfg.Cache.ListTTL = cache.DefaultListTTL
	}

	if cfg.Rate.Window == 0 {
		cfg.Rate.Window = defaultRateWindow
	}
	if cfg.Rate.Max == 0 {
		cfg.Rate.Max = defaultRateMaxPerWin
	}

	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}
