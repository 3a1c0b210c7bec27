package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		AdminKey string `yaml:"admin_key"`
	} `yaml:"server"`
	DB struct {
		DSN                   string `yaml:"dsn"`
		MaxConns              int32  `yaml:"max_conns"`
		ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	} `yaml:"db"`
	Orders struct {
		MinPrincipal           int64 `yaml:"min_principal"`
		MinChunk               int64 `yaml:"min_chunk"`
		PaymentDeadlineMinutes int   `yaml:"payment_deadline_minutes"`
	} `yaml:"orders"`
	Pool struct {
		Initial int64 `yaml:"initial"`
	} `yaml:"pool"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
	} `yaml:"worker"`
	Events struct {
		AMQPURL  string `yaml:"amqp_url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"events"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DB.MaxConns <= 0 {
		cfg.DB.MaxConns = 8
	}
	if cfg.DB.ConnectTimeoutSeconds <= 0 {
		cfg.DB.ConnectTimeoutSeconds = 5
	}
	if cfg.Orders.MinChunk <= 0 {
		cfg.Orders.MinChunk = 1
	}
	if cfg.Orders.PaymentDeadlineMinutes <= 0 {
		cfg.Orders.PaymentDeadlineMinutes = 60
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "buytap.events"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("DB_CONNECT_TIMEOUT_SECONDS"); v != "" {
		cfg.DB.ConnectTimeoutSeconds = atoiOr(cfg.DB.ConnectTimeoutSeconds, v)
	}
	if v := os.Getenv("MIN_PRINCIPAL"); v != "" {
		cfg.Orders.MinPrincipal = atoi64Or(cfg.Orders.MinPrincipal, v)
	}
	if v := os.Getenv("MIN_CHUNK"); v != "" {
		cfg.Orders.MinChunk = atoi64Or(cfg.Orders.MinChunk, v)
	}
	if v := os.Getenv("PAYMENT_DEADLINE_MINUTES"); v != "" {
		cfg.Orders.PaymentDeadlineMinutes = atoiOr(cfg.Orders.PaymentDeadlineMinutes, v)
	}
	if v := os.Getenv("POOL_INITIAL"); v != "" {
		cfg.Pool.Initial = atoi64Or(cfg.Pool.Initial, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.Events.Exchange = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
