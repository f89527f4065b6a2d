package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type GRPC struct {
	Addr        string        `yaml:"addr"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`     // dev|stage|prod
	Service   string `yaml:"service"` // coursechat-service
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"` // std|zap
	Level     string `yaml:"level"`   // debug|info|warn|error
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

type Storage struct {
	Driver string `yaml:"driver"` // postgres|sqlite|memory
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimit struct {
	Backend   string        `yaml:"backend"` // none|local|redis
	PerWindow int           `yaml:"perWindow"`
	Window    time.Duration `yaml:"window"`
	Prefix    string        `yaml:"prefix"`
}

type Chat struct {
	MaxContentLength    int           `yaml:"maxContentLength"`
	OutboundQueueSize   int           `yaml:"outboundQueueSize"`
	PersistTimeout      time.Duration `yaml:"persistTimeout"`
	EchoToSender        *bool         `yaml:"echoToSender"`
	HistoryDefaultLimit int           `yaml:"historyDefaultLimit"`
	HistoryMaxLimit     int           `yaml:"historyMaxLimit"`
}

// Echo reports whether senders receive their own messages; on by default.
func (c Chat) Echo() bool {
	return c.EchoToSender == nil || *c.EchoToSender
}

type WS struct {
	PingEvery    time.Duration `yaml:"pingEvery"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	ReadLimit    int64         `yaml:"readLimit"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Storage   Storage   `yaml:"storage"`
	Postgres  Postgres  `yaml:"postgres"`
	SQLite    SQLite    `yaml:"sqlite"`
	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Chat      Chat      `yaml:"chat"`
	WS        WS        `yaml:"ws"`
}

// LoadConfig reads the YAML file at path, CONFIG_PATH or ./config/config.yaml,
// in that order of preference.
func LoadConfig(path ...string) (*Config, error) {
	p := os.Getenv("CONFIG_PATH")
	if len(path) > 0 && path[0] != "" {
		p = path[0]
	}
	if p == "" {
		p = defaultPath
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", p, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = "memory"
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for storage.driver=postgres")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			c.SQLite.Path = "coursechat.db"
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of postgres|sqlite|memory", c.Storage.Driver)
	}

	c.RateLimit.Backend = strings.ToLower(c.RateLimit.Backend)
	switch c.RateLimit.Backend {
	case "":
		c.RateLimit.Backend = "none"
	case "none", "local":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for rateLimit.backend=redis")
		}
	default:
		return fmt.Errorf("rateLimit.backend %q is not one of none|local|redis", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend != "none" {
		if c.RateLimit.PerWindow <= 0 {
			c.RateLimit.PerWindow = 20
		}
		if c.RateLimit.Window <= 0 {
			c.RateLimit.Window = 10 * time.Second
		}
	}
	if c.RateLimit.Prefix == "" {
		c.RateLimit.Prefix = "coursechat:rl:"
	}

	// defaults for everything optional
	if c.Logging.Service == "" {
		c.Logging.Service = "coursechat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.GRPC.CallTimeout <= 0 {
		c.GRPC.CallTimeout = 10 * time.Second
	}

	if c.Chat.MaxContentLength <= 0 {
		c.Chat.MaxContentLength = 5000
	}
	if c.Chat.OutboundQueueSize <= 0 {
		c.Chat.OutboundQueueSize = 64
	}
	if c.Chat.PersistTimeout <= 0 {
		c.Chat.PersistTimeout = 5 * time.Second
	}
	if c.Chat.HistoryDefaultLimit <= 0 {
		c.Chat.HistoryDefaultLimit = 50
	}
	if c.Chat.HistoryMaxLimit <= 0 {
		c.Chat.HistoryMaxLimit = 100
	}
	if c.Chat.HistoryDefaultLimit > c.Chat.HistoryMaxLimit {
		return errors.New("chat.historyDefaultLimit must not exceed chat.historyMaxLimit")
	}

	if c.WS.PingEvery <= 0 {
		c.WS.PingEvery = 15 * time.Second
	}
	if c.WS.WriteTimeout <= 0 {
		c.WS.WriteTimeout = 5 * time.Second
	}
	if c.WS.ReadLimit <= 0 {
		c.WS.ReadLimit = 64 << 10
	}
	return nil
}
