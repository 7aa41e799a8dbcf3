package config

import (
	"encoding/json"
	"os"
)

// DBConfig holds the database connection parameters.
type DBConfig struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	TimeZone string `json:"timezone"`
}

// LoggerConfig holds the logging configuration.
type LoggerConfig struct {
	Level      string `json:"level"`  // e.g., "debug", "info", "warn", "error"
	Format     string `json:"format"` // "text" or "json"
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// PolicyConfig holds the quorum and expiry policy knobs.
type PolicyConfig struct {
	ApprovalTTLMinutes   int `json:"approval_ttl_minutes"`
	SigningTTLMinutes    int `json:"signing_ttl_minutes"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	MaxSigners           int `json:"max_signers"`
}

// Config holds the application's configuration values.
type Config struct {
	ServerPort string       `json:"server_port"`
	Database   DBConfig     `json:"database"`
	Logger     LoggerConfig `json:"logger"`
	Policy     PolicyConfig `json:"policy"`
}

// Every request must carry an expiry: a missing TTL falls back to these
// defaults instead of meaning "never expires".
const (
	DefaultApprovalTTLMinutes   = 60
	DefaultSigningTTLMinutes    = 10
	DefaultSweepIntervalSeconds = 30
	DefaultMaxSigners           = 15
)

// LoadConfig reads the configuration from a file and returns a Config struct.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}
	config.Policy.ApplyDefaults()

	return config, nil
}

// ApplyDefaults fills in zero-valued policy knobs.
func (p *PolicyConfig) ApplyDefaults() {
	if p.ApprovalTTLMinutes <= 0 {
		p.ApprovalTTLMinutes = DefaultApprovalTTLMinutes
	}
	if p.SigningTTLMinutes <= 0 {
		p.SigningTTLMinutes = DefaultSigningTTLMinutes
	}
	if p.SweepIntervalSeconds <= 0 {
		p.SweepIntervalSeconds = DefaultSweepIntervalSeconds
	}
	if p.MaxSigners <= 0 {
		p.MaxSigners = DefaultMaxSigners
	}
}
