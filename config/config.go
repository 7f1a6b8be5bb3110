package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Push         PushConfig         `yaml:"push"`
	WorkerPool   WorkerPoolConfig   `yaml:"worker_pool"`
	Registration RegistrationConfig `yaml:"registration"`
	Modules      map[string]bool    `yaml:"modules"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"CLUB_EVENTS_VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" env:"CLUB_EVENTS_VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"CLUB_EVENTS_PORT"`
	RequestIPHeader string        `yaml:"request_ip_header"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" env:"CLUB_EVENTS_DB_DRIVER"` // postgres or sqlite
	DSN                    string `yaml:"dsn" env:"CLUB_EVENTS_DB_DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// RegistrationConfig holds the registration and scheduling policy.
type RegistrationConfig struct {
	DisableWaitingList      bool     `yaml:"disable_waiting_list"`
	MaxOccurrences          int      `yaml:"max_occurrences"`
	DivingLevels            []string `yaml:"diving_levels"`
	CertificateValidityDays int      `yaml:"certificate_validity_days"`
	AttributeCacheSeconds   int      `yaml:"attribute_cache_seconds"`
}

// DefaultDivingLevels is the level scale used when none is configured, lowest first.
var DefaultDivingLevels = []string{"N1", "N2", "N3", "N4", "N5"}

// Load reads the configuration from the given path. CLUB_EVENTS_*
// environment variables override the file for the port, database
// connection and VAPID keys.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Registration.MaxOccurrences <= 0 {
		cfg.Registration.MaxOccurrences = 500
	}
	if len(cfg.Registration.DivingLevels) == 0 {
		cfg.Registration.DivingLevels = DefaultDivingLevels
	}
	if cfg.Registration.CertificateValidityDays <= 0 {
		cfg.Registration.CertificateValidityDays = 365
	}
	if cfg.Registration.AttributeCacheSeconds <= 0 {
		cfg.Registration.AttributeCacheSeconds = 60
	}

	if cfg.Modules == nil {
		cfg.Modules = map[string]bool{}
	}
	if _, ok := cfg.Modules["events"]; !ok {
		cfg.Modules["events"] = true
	}
}
