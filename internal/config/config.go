// Package config loads the server configuration.
//
// Values come from a YAML file (the -config flag or CONFIG_PATH), then
// environment variables override individual fields. Anything left unset keeps
// its default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"

	LockLocal     = "local"
	LockZooKeeper = "zookeeper"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	HTTP HTTPConfig `yaml:"http"`
	GRPC GRPCConfig `yaml:"grpc"`

	Store       StoreConfig       `yaml:"store"`
	Lock        LockConfig        `yaml:"lock"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Reservation ReservationConfig `yaml:"reservation"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	// Driver is one of memory, redis, mysql.
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// EnsureSchema creates missing tables at startup.
	EnsureSchema bool `yaml:"ensure_schema"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LockConfig struct {
	// Driver is local (in-process) or zookeeper (shared across instances).
	Driver         string        `yaml:"driver"`
	ZKServers      []string      `yaml:"zk_servers"`
	ZKRoot         string        `yaml:"zk_root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// KafkaConfig enables lifecycle event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TracingConfig enables the Jaeger exporter when Endpoint is set.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ReservationConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Default() Config {
	return Config{
		ServiceName: "ticket-reservation",
		LogLevel:    "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC: GRPCConfig{Addr: ":50051"},
		Store: StoreConfig{
			Driver: StoreMemory,
			MySQL: MySQLConfig{
				DSN:          "root:root@tcp(localhost:3306)/tickets?parseTime=true",
				MaxOpenConns: 50,
				MaxIdleConns: 25,
				EnsureSchema: true,
			},
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 100,
			},
		},
		Lock: LockConfig{
			Driver:         LockLocal,
			ZKServers:      []string{"localhost:2181"},
			ZKRoot:         "/ticket_reservation/locks",
			SessionTimeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{Topic: "ticket-reservation.lifecycle"},
		Reservation: ReservationConfig{
			MaxRetries: 5,
			RetryDelay: 5 * time.Second,
		},
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("SERVICE_NAME", &c.ServiceName)
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("GRPC_ADDR", &c.GRPC.Addr)
	str("STORE_DRIVER", &c.Store.Driver)
	str("MYSQL_DSN", &c.Store.MySQL.DSN)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("LOCK_DRIVER", &c.Lock.Driver)
	list("ZK_SERVERS", &c.Lock.ZKServers)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("JAEGER_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup("MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_RETRIES: %w", err)
		}
		c.Reservation.MaxRetries = n
	}
	if v, ok := lookup("SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
		c.Reservation.SweepInterval = d
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreRedis, StoreMySQL:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Lock.Driver {
	case LockLocal:
	case LockZooKeeper:
		if len(c.Lock.ZKServers) == 0 {
			return fmt.Errorf("zookeeper lock requires zk_servers")
		}
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	if c.Reservation.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.Reservation.MaxRetries)
	}
	if c.Reservation.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka brokers configured without a topic")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
