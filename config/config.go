package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Telr     TelrConfig     `yaml:"telr"`
	Auth     AuthConfig     `yaml:"auth"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// StorageConfig selects the document store: "postgres" or "memory".
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type BookingConfig struct {
	Currency              string `yaml:"currency"`
	PollIntervalMillis    int    `yaml:"poll_interval_millis"`
	PollAttempts          int    `yaml:"poll_attempts"`
	AvailabilityCacheTTL  int    `yaml:"availability_cache_ttl_seconds"`
	PaymentWindowMinutes  int    `yaml:"payment_window_minutes"`
	StalePendingAfterSecs int    `yaml:"stale_pending_after_seconds"`
}

func (b BookingConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMillis) * time.Millisecond
}

func (b BookingConfig) PaymentWindow() time.Duration {
	return time.Duration(b.PaymentWindowMinutes) * time.Minute
}

func (b BookingConfig) StalePendingAfter() time.Duration {
	return time.Duration(b.StalePendingAfterSecs) * time.Second
}

func (b BookingConfig) CacheTTL() time.Duration {
	return time.Duration(b.AvailabilityCacheTTL) * time.Second
}

type TelrConfig struct {
	Endpoint      string `yaml:"endpoint"`
	StoreID       string `yaml:"store_id"`
	AuthKey       string `yaml:"auth_key"`
	Test          bool   `yaml:"test"`
	ReturnURL     string `yaml:"return_url"`
	TimeoutSecond int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type WorkerConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadConfig reads the YAML file at path after loading an optional .env
// file. Secrets in the environment override the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTP:    HTTPConfig{Address: ":8080"},
		Storage: StorageConfig{Driver: "postgres"},
		Booking: BookingConfig{
			Currency:              "AED",
			PollIntervalMillis:    2000,
			PollAttempts:          10,
			AvailabilityCacheTTL:  60,
			PaymentWindowMinutes:  30,
			StalePendingAfterSecs: 300,
		},
		Telr: TelrConfig{
			Endpoint:      "https://secure.telr.com/gateway/order.json",
			TimeoutSecond: 15,
		},
		Worker: WorkerConfig{SweepIntervalSeconds: 60},
		Log:    LogConfig{Level: "info", JSON: true},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TELR_AUTH_KEY"); v != "" {
		cfg.Telr.AuthKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
}
