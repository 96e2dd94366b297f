package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量覆盖的前缀，例如 SHORTURL_SERVER_PORT
const EnvPrefix = "SHORTURL"

// 主配置结构
type Config struct {
	App       App       `yaml:"app"`
	Server    Server    `yaml:"server"`
	Database  DB        `yaml:"database"`
	Cache     Cache     `yaml:"cache"`
	Auth      Auth      `yaml:"auth"`
	RateLimit Limit     `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
	Shorten   Shorten   `yaml:"shorten"`
	Recorder  Recorder  `yaml:"recorder"`
	Sweeper   Sweeper   `yaml:"sweeper"`
	Analytics Analytics `yaml:"analytics"`
}

// 应用配置
type App struct {
	Name    string `yaml:"name" envconfig:"APP_NAME"`
	Mode    string `yaml:"mode" envconfig:"APP_MODE"`
	Version string `yaml:"version" envconfig:"APP_VERSION"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

// IsProduction 是否运行在生产模式
func (a App) IsProduction() bool { return a.Mode == "production" }

// IsDevelopment 开发模式下对外暴露内部错误详情
func (a App) IsDevelopment() bool { return a.Mode == "development" }

// 服务器配置（超时单位：秒）
type Server struct {
	Port            int `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout     int `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout    int `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout int `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
}

// 数据库配置，Driver 支持 mysql、postgres、sqlite
type DB struct {
	Driver   string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     int    `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	Charset  string `yaml:"charset" envconfig:"DB_CHARSET"`
	SSLMode  string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	// sqlite 使用的文件路径
	Path string `yaml:"path" envconfig:"DB_PATH"`
}

// 缓存配置（Redis），Host 为空时退化为进程内缓存
type Cache struct {
	Host       string `yaml:"host" envconfig:"REDIS_HOST"`
	Port       int    `yaml:"port" envconfig:"REDIS_PORT"`
	Password   string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB         int    `yaml:"db" envconfig:"REDIS_DB"`
	TTLMinutes int    `yaml:"ttl_minutes" envconfig:"CACHE_TTL_MINUTES"`
	PoolSize   int    `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	// DialTimeoutSeconds 同时作为启动探活与单次读写的超时
	DialTimeoutSeconds int `yaml:"dial_timeout_seconds" envconfig:"REDIS_DIAL_TIMEOUT_SECONDS"`
}

// 认证配置
type Auth struct {
	Secret          string `yaml:"secret" envconfig:"AUTH_SECRET"`
	Issuer          string `yaml:"issuer" envconfig:"AUTH_ISSUER"`
	ExpirationHours int    `yaml:"expiration_hours" envconfig:"AUTH_EXPIRATION_HOURS"`
	AdminPassword   string `yaml:"admin_password" envconfig:"AUTH_ADMIN_PASSWORD"`
}

// 限流配置
type Limit struct {
	Enabled       bool     `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	Requests      int64    `yaml:"requests_per_window" envconfig:"RATE_LIMIT_MAX_REQUESTS"`
	WindowSeconds int64    `yaml:"window_seconds" envconfig:"RATE_LIMIT_WINDOW_SECONDS"`
	Burst         int64    `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	SkipPaths     []string `yaml:"skip_paths" envconfig:"RATE_LIMIT_SKIP_PATHS"`
}

// 日志配置
type Log struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	File       string `yaml:"file" envconfig:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size" envconfig:"LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" envconfig:"LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" envconfig:"LOG_MAX_AGE"`
	Compress   bool   `yaml:"compress" envconfig:"LOG_COMPRESS"`
}

// 短链接创建策略
type Shorten struct {
	CodeLength     int `yaml:"code_length" envconfig:"SHORT_CODE_LENGTH"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SHORT_CODE_MAX_RETRIES"`
	DefaultTTLDays int `yaml:"default_ttl_days" envconfig:"DEFAULT_TTL_DAYS"`
	// ReuseExisting 为 true 时，相同 URL 且未指定别名的请求返回已有的有效短链接
	ReuseExisting     bool `yaml:"reuse_existing" envconfig:"SHORTEN_REUSE_EXISTING"`
	BlockPrivateHosts bool `yaml:"block_private_hosts" envconfig:"SHORTEN_BLOCK_PRIVATE_HOSTS"`
}

// 点击记录器配置
type Recorder struct {
	Workers        int `yaml:"workers" envconfig:"RECORDER_WORKERS"`
	QueueSize      int `yaml:"queue_size" envconfig:"RECORDER_QUEUE_SIZE"`
	TimeoutSeconds int `yaml:"timeout_seconds" envconfig:"RECORDER_TIMEOUT_SECONDS"`
}

// 过期清理任务配置
type Sweeper struct {
	Enabled         bool `yaml:"enabled" envconfig:"SWEEPER_ENABLED"`
	IntervalSeconds int  `yaml:"interval_seconds" envconfig:"SWEEPER_INTERVAL_SECONDS"`
	// PurgeAfterDays 为 0 时不物理删除
	PurgeAfterDays int `yaml:"purge_after_days" envconfig:"SWEEPER_PURGE_AFTER_DAYS"`
}

// 统计配置
type Analytics struct {
	HistoryLimit int `yaml:"history_limit" envconfig:"ANALYTICS_HISTORY_LIMIT"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		App:       App{Name: "shorturl-analytics", Mode: "development", Version: "1.0.0", BaseURL: "http://localhost:8080"},
		Server:    Server{Port: 8080, ReadTimeout: 10, WriteTimeout: 10, ShutdownTimeout: 15},
		Database:  DB{Driver: "sqlite", Path: "data/shorturl.db", Charset: "utf8mb4", SSLMode: "disable"},
		Cache:     Cache{Port: 6379, TTLMinutes: 60, PoolSize: 20, DialTimeoutSeconds: 5},
		Auth:      Auth{Secret: "change-me", Issuer: "shorturl-analytics", ExpirationHours: 24, AdminPassword: "admin"},
		RateLimit: Limit{Enabled: true, Requests: 100, WindowSeconds: 900, Burst: 20},
		Log:       Log{Level: "info", File: "./logs/app.log", MaxSize: 10, MaxBackups: 5, MaxAge: 30},
		Shorten:   Shorten{CodeLength: 8, MaxRetries: 5, DefaultTTLDays: 30, ReuseExisting: true},
		Recorder:  Recorder{Workers: 4, QueueSize: 1024, TimeoutSeconds: 5},
		Sweeper:   Sweeper{Enabled: true, IntervalSeconds: 300},
		Analytics: Analytics{HistoryLimit: 100},
	}
}

// 加载配置：默认值 -> YAML 文件 -> .env -> 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 没有配置文件时只使用默认值和环境变量
		default:
			return nil, err
		}
	}

	// .env 不存在不算错误
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 按分组处理，使变量名保持 SHORTURL_<TAG> 的扁平形式
func (c *Config) applyEnv() error {
	sections := []any{
		&c.App, &c.Server, &c.Database, &c.Cache, &c.Auth, &c.RateLimit,
		&c.Log, &c.Shorten, &c.Recorder, &c.Sweeper, &c.Analytics,
	}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return fmt.Errorf("读取环境变量失败: %w", err)
		}
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port 必须在 1-65535 之间")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			problems = append(problems, "database.host 和 database.name 不能为空")
		}
	case "sqlite":
		if c.Database.Path == "" {
			problems = append(problems, "database.path 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("不支持的数据库驱动 %q", c.Database.Driver))
	}
	if c.Shorten.CodeLength < 4 || c.Shorten.CodeLength > 16 {
		problems = append(problems, "shorten.code_length 必须在 4-16 之间")
	}
	if c.Shorten.MaxRetries <= 0 {
		problems = append(problems, "shorten.max_retries 必须大于 0")
	}
	if c.Shorten.DefaultTTLDays < 1 || c.Shorten.DefaultTTLDays > 365 {
		problems = append(problems, "shorten.default_ttl_days 必须在 1-365 之间")
	}
	if c.Cache.Host != "" && (c.Cache.PoolSize <= 0 || c.Cache.DialTimeoutSeconds <= 0) {
		problems = append(problems, "cache.pool_size 和 cache.dial_timeout_seconds 必须大于 0")
	}
	if c.Recorder.Workers <= 0 || c.Recorder.QueueSize <= 0 {
		problems = append(problems, "recorder.workers 和 recorder.queue_size 必须大于 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.WindowSeconds <= 0) {
		problems = append(problems, "rate_limit.requests_per_window 和 rate_limit.window_seconds 必须大于 0")
	}
	if c.App.IsProduction() && c.Auth.Secret == "change-me" {
		problems = append(problems, "生产环境必须设置 auth.secret")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}
