package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Templates TemplatesConfig `yaml:"templates"`
	Directory DirectoryConfig `yaml:"directory"`
	Mailer    MailerConfig    `yaml:"mailer"`
	History   HistoryConfig   `yaml:"history"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`
}

// WorkspaceConfig supplies the system variable values shared by all
// campaigns (workspaceName, appUrl).
type WorkspaceConfig struct {
	Name   string `yaml:"name"`
	AppURL string `yaml:"app_url"`
}

type TemplatesConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type DirectoryConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type MailerConfig struct {
	Provider string         `yaml:"provider"` // http, smtp or noop
	HTTP     HTTPSendConfig `yaml:"http"`
	SMTP     SMTPSendConfig `yaml:"smtp"`
}

type HTTPSendConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SMTPSendConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	From     string     `yaml:"from"`
	FromName string     `yaml:"from_name"`
	DKIM     DKIMConfig `yaml:"dkim"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type CampaignConfig struct {
	// ClearOverridesOnTemplateChange drops stale per-recipient variable
	// overrides when a different template is selected mid-campaign.
	ClearOverridesOnTemplateChange bool          `yaml:"clear_overrides_on_template_change"`
	SessionTTL                     time.Duration `yaml:"session_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Workspace.Name == "" {
		cfg.Workspace.Name = "TaskFlow"
	}
	if cfg.Mailer.Provider == "" {
		if cfg.Mailer.HTTP.BaseURL != "" {
			cfg.Mailer.Provider = "http"
		} else {
			cfg.Mailer.Provider = "smtp"
		}
	}
	if cfg.Mailer.HTTP.Timeout == 0 {
		cfg.Mailer.HTTP.Timeout = 30 * time.Second
	}
	if cfg.Mailer.SMTP.Port == 0 {
		cfg.Mailer.SMTP.Port = 587
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "/var/lib/mailcenter/history.db"
	}
	if cfg.Campaign.SessionTTL == 0 {
		cfg.Campaign.SessionTTL = 4 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required")
	}
	switch cfg.Mailer.Provider {
	case "http":
		if cfg.Mailer.HTTP.BaseURL == "" {
			return fmt.Errorf("mailer.http.base_url is required when provider is http")
		}
	case "smtp":
		if cfg.Mailer.SMTP.Host == "" {
			return fmt.Errorf("mailer.smtp.host is required when provider is smtp")
		}
		if cfg.Mailer.SMTP.From == "" {
			return fmt.Errorf("mailer.smtp.from is required when provider is smtp")
		}
		if cfg.Mailer.SMTP.DKIM.Enabled {
			if cfg.Mailer.SMTP.DKIM.KeyFile == "" {
				return fmt.Errorf("mailer.smtp.dkim.key_file is required when DKIM is enabled")
			}
			if cfg.Mailer.SMTP.DKIM.Domain == "" {
				return fmt.Errorf("mailer.smtp.dkim.domain is required when DKIM is enabled")
			}
			if cfg.Mailer.SMTP.DKIM.Selector == "" {
				return fmt.Errorf("mailer.smtp.dkim.selector is required when DKIM is enabled")
			}
		}
	case "noop":
		// accepted for evaluation installs without a mail provider
	default:
		return fmt.Errorf("mailer.provider must be http, smtp or noop")
	}
	return nil
}
