// Package config loads service configuration from the environment, with an
// optional YAML overlay for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the storefront service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Admin       AdminConfig       `yaml:"admin"`
	TrueMoney   TrueMoneyConfig   `yaml:"truemoney"`
	ADB         ADBConfig         `yaml:"adb"`
	Linker      LinkerConfig      `yaml:"linker"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `yaml:"port" env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	RateLimitPerSec int           `yaml:"rate_limit_per_sec" env:"SERVER_RATE_LIMIT,default=20"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"SERVER_RATE_BURST,default=40"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN,default=10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE,default=5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_LIFETIME,default=5m"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB,default=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL,default=30s"`
}

type AuthConfig struct {
	SecretKey string        `yaml:"secret_key" env:"SECRET_KEY"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL,default=24h"`
}

// AdminConfig bootstraps the admin account on first start. No account is
// created when the password is unset.
type AdminConfig struct {
	Username string `yaml:"username" env:"ADMIN_USERNAME,default=admin"`
	Email    string `yaml:"email" env:"ADMIN_EMAIL,default=admin@lrgstore.com"`
	Password string `yaml:"password" env:"ADMIN_PASSWORD"`
}

type TrueMoneyConfig struct {
	MerchantPhone string        `yaml:"merchant_phone" env:"TW_MERCHANT_PHONE"`
	ProxyURL      string        `yaml:"proxy_url" env:"TW_PROXY_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"TW_TIMEOUT,default=15s"`
}

type ADBConfig struct {
	Path          string `yaml:"path" env:"ADB_PATH,default=adb"`
	ServerAddr    string `yaml:"server_addr" env:"ADB_SERVER,default=127.0.0.1:5037"`
	EmulatorPorts []int  `yaml:"emulator_ports" env:"ADB_PORTS,default=7555;5555;16384;62001;21503"`
	PackageName   string `yaml:"package_name" env:"GAME_PACKAGE,default=com.linecorp.LGRGS"`
	PrefFilename  string `yaml:"pref_filename" env:"PREF_FILENAME,default=_LINE_COCOS_PREF_KEY.xml"`
	TesseractPath string `yaml:"tesseract_path" env:"TESSERACT_PATH,default=tesseract"`
}

type LinkerConfig struct {
	QueueSize   int           `yaml:"queue_size" env:"LINK_QUEUE_SIZE,default=32"`
	WaitTimeout time.Duration `yaml:"wait_timeout" env:"LINK_WAIT_TIMEOUT,default=5m"`
	LogRetain   int           `yaml:"log_retain" env:"LINK_LOG_RETAIN,default=200"`
}

type MaintenanceConfig struct {
	Schedule         string        `yaml:"schedule" env:"MAINTENANCE_SPEC,default=@hourly"`
	TopUpMaxAge      time.Duration `yaml:"topup_max_age" env:"MAINTENANCE_TOPUP_MAX_AGE,default=24h"`
	ScreenshotMaxAge time.Duration `yaml:"screenshot_max_age" env:"MAINTENANCE_SCREENSHOT_MAX_AGE,default=168h"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR,default=data"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format     string `yaml:"format" env:"LOG_FORMAT,default=text"`
	Output     string `yaml:"output" env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX,default=idstore"`
}

// Load reads configuration from the environment. When CONFIG_FILE points at
// a YAML file its values override the environment, which makes local
// development overrides explicit.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that cannot wait until first use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Linker.QueueSize <= 0 {
		return fmt.Errorf("link queue size must be positive")
	}
	return nil
}
