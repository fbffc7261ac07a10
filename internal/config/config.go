package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Credentials CredentialsPolicy `yaml:"credentials"`
	Routing     RoutingConfig     `yaml:"routing"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Policy      PolicyConfig      `yaml:"policy"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	HealthPort       int           `yaml:"health_port"`
	KeyManagerPort   int           `yaml:"key_manager_port"`
	GRPCPort         int           `yaml:"grpc_port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AdminToken       string        `yaml:"admin_token"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d&pool_max_conn_lifetime=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.MaxOpenConns, d.ConnMaxLifetime)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// HealthCheckConfig drives the periodic probe job and the snapshot it feeds.
type HealthCheckConfig struct {
	WindowSize        int           `yaml:"window_size"`
	Interval          time.Duration `yaml:"interval"`
	MisfireGrace      time.Duration `yaml:"misfire_grace"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	MultimodalTimeout time.Duration `yaml:"multimodal_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	ProbePrompt       string        `yaml:"probe_prompt"`
	ProbeImagePath    string        `yaml:"probe_image_path"`
	ProbeMaxTokens    int           `yaml:"probe_max_tokens"`
	RunOnStart        bool          `yaml:"run_on_start"`
}

// CredentialsPolicy configures the credential pool manager and its clients.
type CredentialsPolicy struct {
	ToleranceWindow time.Duration `yaml:"tolerance_window"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MisfireGrace    time.Duration `yaml:"misfire_grace"`
	ManagerURL      string        `yaml:"manager_url"`
	ClientTimeout   time.Duration `yaml:"client_timeout"`
}

type RoutingConfig struct {
	SnapshotURL           string        `yaml:"snapshot_url"`
	SnapshotTimeout       time.Duration `yaml:"snapshot_timeout"`
	SnapshotRetryInterval time.Duration `yaml:"snapshot_retry_interval"`
	SnapshotRedisCache    bool          `yaml:"snapshot_redis_cache"`
	ToleranceCount        int           `yaml:"tolerance_count"`
	FusionWeight          float64       `yaml:"fusion_weight"`
	SentinelPrice         float64       `yaml:"sentinel_price"`
	DefaultMode           string        `yaml:"default_mode"`
	DefaultInputWeight    float64       `yaml:"default_input_weight"`
	DefaultOutputWeight   float64       `yaml:"default_output_weight"`
}

type DispatchConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        time.Duration `yaml:"backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			HealthPort:       8086,
			KeyManagerPort:   8001,
			GRPCPort:         9086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "aegis",
			User:            "aegis",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		HealthCheck: HealthCheckConfig{
			WindowSize:        100,
			Interval:          30 * time.Minute,
			MisfireGrace:      5 * time.Minute,
			ProbeTimeout:      30 * time.Second,
			MultimodalTimeout: 60 * time.Second,
			Concurrency:       4,
			ProbePrompt:       "Hello!",
			ProbeMaxTokens:    100,
			RunOnStart:        true,
		},
		Credentials: CredentialsPolicy{
			ToleranceWindow: 15 * time.Minute,
			RefreshInterval: time.Minute,
			MisfireGrace:    5 * time.Minute,
			ManagerURL:      "http://localhost:8001",
			ClientTimeout:   5 * time.Second,
		},
		Routing: RoutingConfig{
			SnapshotURL:           "http://localhost:8086/check_healthy",
			SnapshotTimeout:       5 * time.Second,
			SnapshotRetryInterval: 30 * time.Second,
			ToleranceCount:        4,
			FusionWeight:          2.0 / 3.0,
			SentinelPrice:         1e8,
			DefaultMode:           "cheap_first",
			DefaultInputWeight:    50,
			DefaultOutputWeight:   50,
		},
		Dispatch: DispatchConfig{
			MaxRetries:     3,
			Backoff:        5 * time.Second,
			RequestTimeout: 120 * time.Second,
		},
		Policy: PolicyConfig{
			BundlePath:        "configs/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
	}
}
