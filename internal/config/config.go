package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Billing  BillingConfig  `mapstructure:"Billing"`
	Quota    QuotaConfig    `mapstructure:"Quota"`
	Export   ExportConfig   `mapstructure:"Export"`
}

type ServerConfig struct {
	Port    string `mapstructure:"Port"`
	BaseURL string `mapstructure:"BaseURL"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

// BillingConfig fixes the credit cost of each billable action and whether
// the ledger is enforced at all. Enforce=false selects the bypass policy
// for demo installs; it is read once at startup, never per request.
type BillingConfig struct {
	Enforce        bool   `mapstructure:"Enforce"`
	UploadCost     int64  `mapstructure:"UploadCost"`
	ParseCost      int64  `mapstructure:"ParseCost"`
	ExportCost     int64  `mapstructure:"ExportCost"`
	BillReuploads  bool   `mapstructure:"BillReuploads"`
	WebhookSecret  string `mapstructure:"WebhookSecret"`
	InitialCredits int64  `mapstructure:"InitialCredits"`
}

// QuotaConfig holds the storage quota policy. Strict=false keeps the
// fail-open behavior on tracker errors: a transient outage must not block
// legitimate uploads. Strict=true fails closed instead.
type QuotaConfig struct {
	DefaultBytes int64 `mapstructure:"DefaultBytes"`
	Strict       bool  `mapstructure:"Strict"`
}

type ExportConfig struct {
	WorkDir    string `mapstructure:"WorkDir"`
	AudioCodec string `mapstructure:"AudioCodec"`
	Format     string `mapstructure:"Format"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Billing.WebhookSecret", "BILLING_WEBHOOK_SECRET")

	v.SetDefault("Billing.Enforce", true)
	v.SetDefault("Billing.BillReuploads", true)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = v.GetString("DATABASE_HOST")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = v.GetString("DATABASE_PORT")
	}
	if cfg.Database.User == "" {
		cfg.Database.User = v.GetString("DATABASE_USER")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = v.GetString("DATABASE_NAME")
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = v.GetString("HTTP_PORT")
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Password == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "2525"
	}
	if cfg.Billing.UploadCost == 0 {
		cfg.Billing.UploadCost = 2
	}
	if cfg.Billing.ParseCost == 0 {
		cfg.Billing.ParseCost = 5
	}
	if cfg.Billing.ExportCost == 0 {
		cfg.Billing.ExportCost = 15
	}
	if cfg.Billing.InitialCredits == 0 {
		cfg.Billing.InitialCredits = 100
	}
	if cfg.Quota.DefaultBytes == 0 {
		cfg.Quota.DefaultBytes = 500 * 1024 * 1024 // 500MB
	}
	if cfg.Export.WorkDir == "" {
		cfg.Export.WorkDir = "/tmp/audiovault-export"
	}
	if cfg.Export.AudioCodec == "" {
		cfg.Export.AudioCodec = "aac"
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "m4a"
	}
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
