package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transports.
const (
	TransportTelegram = "telegram"
	TransportAMQP     = "amqp"
)

// Config holds runtime configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	Port       string           `yaml:"port"`
	Transport  string           `yaml:"transport"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Starknet   StarknetConfig   `yaml:"starknet"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"pollTimeout"`
}

type RabbitMQConfig struct {
	URL        string   `yaml:"url"`
	Exchange   string   `yaml:"exchange"`
	Queue      string   `yaml:"queue"`
	Bindings   []string `yaml:"bindings"`
	Prefetch   int      `yaml:"prefetch"`
	MaxRetries int      `yaml:"maxRetries"`
	// RoutingKey addresses outbound agent messages.
	RoutingKey string `yaml:"routingKey"`
	Source     string `yaml:"source"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Enabled reports whether the flow journal should be stored in MinIO.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != ""
}

type StarknetConfig struct {
	NodeURL        string `yaml:"nodeURL"`
	ChainID        string `yaml:"chainID"`
	FactoryAddress string `yaml:"factoryAddress"`
}

type WalletConfig struct {
	BridgeURL       string        `yaml:"bridgeURL"`
	ApprovalTimeout time.Duration `yaml:"approvalTimeout"`
	PollInterval    time.Duration `yaml:"pollInterval"`
}

type DispatcherConfig struct {
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
	TaskTimeout    time.Duration `yaml:"taskTimeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:      "8091",
		Transport: TransportTelegram,
		Telegram:  TelegramConfig{PollTimeout: 60},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "chat",
			Queue:      "unrug-agent",
			Bindings:   []string{"chat.inbound.unrug"},
			Prefetch:   1,
			MaxRetries: 3,
			RoutingKey: "chat.outbound.unrug",
			Source:     "unrug-agent",
		},
		MinIO:    MinIOConfig{Bucket: "unrug-agent-sagas"},
		Starknet: StarknetConfig{ChainID: "SN_MAIN"},
		Wallet: WalletConfig{
			ApprovalTimeout: 5 * time.Minute,
			PollInterval:    time.Second,
		},
		Dispatcher: DispatcherConfig{
			HandlerTimeout: 30 * time.Second,
			TaskTimeout:    10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads environment variables and applies defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile overlays the YAML file at path (if any) on the defaults, then
// applies environment variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.MinIO.Endpoint = parseMinIOEndpoint(cfg.MinIO.Endpoint)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = getenvDefault("PORT", cfg.Port)
	cfg.Transport = strings.ToLower(getenvDefault("TRANSPORT", cfg.Transport))

	cfg.Telegram.Token = getenvDefault("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.PollTimeout = intFromEnv("TELEGRAM_POLL_TIMEOUT", cfg.Telegram.PollTimeout)

	cfg.RabbitMQ.URL = getenvDefault("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getenvDefault("RABBITMQ_EXCHANGE", cfg.RabbitMQ.Exchange)
	cfg.RabbitMQ.Queue = getenvDefault("RABBITMQ_QUEUE", cfg.RabbitMQ.Queue)
	if v := os.Getenv("RABBITMQ_BINDINGS"); v != "" {
		cfg.RabbitMQ.Bindings = splitAndTrim(v)
	}
	cfg.RabbitMQ.Prefetch = intFromEnv("RABBITMQ_PREFETCH", cfg.RabbitMQ.Prefetch)
	cfg.RabbitMQ.MaxRetries = intFromEnv("RABBITMQ_MAX_RETRIES", cfg.RabbitMQ.MaxRetries)
	cfg.RabbitMQ.RoutingKey = getenvDefault("RABBITMQ_ROUTING_KEY", cfg.RabbitMQ.RoutingKey)
	cfg.RabbitMQ.Source = getenvDefault("RABBITMQ_SOURCE", cfg.RabbitMQ.Source)

	cfg.MinIO.Endpoint = getenvDefault("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getenvDefault("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getenvDefault("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getenvDefault("MINIO_BUCKET", cfg.MinIO.Bucket)
	cfg.MinIO.UseSSL = boolFromEnv("MINIO_USE_SSL", cfg.MinIO.UseSSL)

	cfg.Starknet.NodeURL = getenvDefault("NODE_URL", cfg.Starknet.NodeURL)
	cfg.Starknet.ChainID = getenvDefault("STARKNET_CHAIN_ID", cfg.Starknet.ChainID)
	cfg.Starknet.FactoryAddress = getenvDefault("FACTORY_ADDRESS", cfg.Starknet.FactoryAddress)

	cfg.Wallet.BridgeURL = getenvDefault("WALLET_BRIDGE_URL", cfg.Wallet.BridgeURL)

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)

	var err error
	if cfg.Wallet.ApprovalTimeout, err = durationFromEnv("WALLET_APPROVAL_TIMEOUT", cfg.Wallet.ApprovalTimeout); err != nil {
		return err
	}
	if cfg.Wallet.PollInterval, err = durationFromEnv("WALLET_POLL_INTERVAL", cfg.Wallet.PollInterval); err != nil {
		return err
	}
	if cfg.Dispatcher.HandlerTimeout, err = durationFromEnv("HANDLER_TIMEOUT", cfg.Dispatcher.HandlerTimeout); err != nil {
		return err
	}
	if cfg.Dispatcher.TaskTimeout, err = durationFromEnv("TASK_TIMEOUT", cfg.Dispatcher.TaskTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks that every collaborator the selected transport needs is configured.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTelegram:
		if c.Telegram.Token == "" {
			return errors.New("TELEGRAM_BOT_TOKEN is required")
		}
	case TransportAMQP:
		if c.RabbitMQ.URL == "" {
			return errors.New("RABBITMQ_URL is required")
		}
		if len(c.RabbitMQ.Bindings) == 0 {
			return errors.New("RABBITMQ_BINDINGS is required")
		}
	default:
		return fmt.Errorf("TRANSPORT %q is invalid: expected %s or %s", c.Transport, TransportTelegram, TransportAMQP)
	}
	if c.Starknet.NodeURL == "" {
		return errors.New("NODE_URL is required")
	}
	if c.Wallet.BridgeURL == "" {
		return errors.New("WALLET_BRIDGE_URL is required")
	}
	if c.Dispatcher.HandlerTimeout <= 0 {
		return errors.New("HANDLER_TIMEOUT must be positive")
	}
	if c.Dispatcher.TaskTimeout <= 0 {
		return errors.New("TASK_TIMEOUT must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return def
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s is invalid: %w", key, err)
	}
	return d, nil
}

// parseMinIOEndpoint strips the scheme and any path from a MinIO endpoint.
// Unresolved "${{...}}" platform templates yield "", which disables the journal.
func parseMinIOEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}

	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	if strings.Contains(endpoint, "${{") && strings.Contains(endpoint, "}}") {
		return ""
	}

	// MinIO wants host:port only.
	if strings.Contains(endpoint, "/") {
		parts := strings.SplitN(endpoint, "/", 2)
		endpoint = parts[0]
	}

	return endpoint
}
