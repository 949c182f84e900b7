package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Log       LogConfig      `yaml:"log"`
	Gateway   GatewayConfig  `yaml:"gateway"`
	Polling   PollingConfig  `yaml:"polling"`
	Download  DownloadConfig `yaml:"download"`
	Archive   ArchiveConfig  `yaml:"archive"`
	Store     StoreConfig    `yaml:"store"`
	Auth      AuthConfig     `yaml:"auth"`
	Documents []DocumentType `yaml:"documents"`
	Users     []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig describes the remote payments/document backend.
type GatewayConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIToken   string `yaml:"api_token"`
	Seed       string `yaml:"seed"`
	TillNumber string `yaml:"till_number"`
	TillName   string `yaml:"till_name"`
}

// BudgetConfig bounds one polling phase. Durations are milliseconds so
// tests and config can express sub-second budgets.
type BudgetConfig struct {
	IntervalMs   int `yaml:"interval_ms"`
	MaxElapsedMs int `yaml:"max_elapsed_ms"`
}

type PollingConfig struct {
	Fast                 BudgetConfig `yaml:"fast"`
	Slow                 BudgetConfig `yaml:"slow"`
	InitialDelayMs       int          `yaml:"initial_delay_ms"`
	MaxConsecutiveErrors int          `yaml:"max_consecutive_errors"`
}

// DownloadConfig drives candidate URL construction. AltRoutes are
// secondary path shapes tried after the primary downloads route; each
// entry is a format string receiving the artifact name.
type DownloadConfig struct {
	BaseURL   string   `yaml:"base_url"`
	AltRoutes []string `yaml:"alt_routes"`
}

type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type DocumentType struct {
	Type   string `yaml:"type"`
	Amount int    `yaml:"amount"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Polling.Fast.IntervalMs == 0 {
		cfg.Polling.Fast.IntervalMs = 5000
	}
	if cfg.Polling.Fast.MaxElapsedMs == 0 {
		cfg.Polling.Fast.MaxElapsedMs = 120000
	}
	if cfg.Polling.Slow.IntervalMs == 0 {
		cfg.Polling.Slow.IntervalMs = 15000
	}
	if cfg.Polling.Slow.MaxElapsedMs == 0 {
		cfg.Polling.Slow.MaxElapsedMs = 900000
	}
	if cfg.Polling.MaxConsecutiveErrors == 0 {
		cfg.Polling.MaxConsecutiveErrors = 5
	}
	if cfg.Download.BaseURL == "" {
		cfg.Download.BaseURL = cfg.Gateway.BaseURL
	}
	if cfg.Archive.ExpireDays == 0 {
		cfg.Archive.ExpireDays = 7
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/submissions.db"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if len(cfg.Documents) == 0 {
		cfg.Documents = []DocumentType{
			{Type: "resume", Amount: 200},
			{Type: "cover_letter", Amount: 150},
			{Type: "cv", Amount: 300},
		}
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// DocumentAmounts returns the document type to price table.
func (c *Config) DocumentAmounts() map[string]int {
	amounts := make(map[string]int, len(c.Documents))
	for _, d := range c.Documents {
		amounts[d.Type] = d.Amount
	}
	return amounts
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
