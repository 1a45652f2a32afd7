package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tudobem/internal/llm"
	"tudobem/internal/notify"
	"tudobem/internal/repository"
	"tudobem/internal/service"
	"tudobem/internal/triage"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // gin mode: release, debug or test
	} `yaml:"server"`

	Database struct {
		Type           string        `yaml:"type"` // "sqlite" or "postgres"
		URL            string        `yaml:"url"`  // SQLite path or PostgreSQL URL
		RawExecTimeout time.Duration `yaml:"raw_exec_timeout"`
	} `yaml:"database"`

	LLM llm.ProviderConfig `yaml:"llm"`

	Triage struct {
		PromptTTL       time.Duration `yaml:"prompt_ttl"`
		PatternTTL      time.Duration `yaml:"pattern_ttl"`
		ConversationTTL time.Duration `yaml:"conversation_ttl"`
		SessionID       string        `yaml:"session_id"`
		PromptDir       string        `yaml:"prompt_dir"`
	} `yaml:"triage"`

	Commit struct {
		SettleDelay time.Duration `yaml:"settle_delay"`
	} `yaml:"commit"`

	Telegram notify.TelegramConfig `yaml:"telegram"`

	Log struct {
		Production bool `yaml:"production"`
	} `yaml:"log"`
}

// LoadConfig loads configuration from a YAML file. A .env file next to the
// working directory is loaded first so ${VARS} in the file can refer to it.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in secrets and connection strings
	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.LLM.APIKey = os.ExpandEnv(config.LLM.APIKey)
	config.Telegram.BotToken = os.ExpandEnv(config.Telegram.BotToken)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Database.Type == "" {
		c.Database.Type = repository.TypeSQLite
	}
	if c.Database.URL == "" && c.Database.Type == repository.TypeSQLite {
		c.Database.URL = "./data/tudobem.db"
	}
	if c.Database.RawExecTimeout == 0 {
		c.Database.RawExecTimeout = repository.DefaultRawTimeout
	}

	if c.LLM.Type == "" {
		c.LLM.Type = llm.ProviderAnthropic
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = llm.DefaultMaxTokens
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Triage.PromptTTL == 0 {
		c.Triage.PromptTTL = triage.DefaultPromptTTL
	}
	if c.Triage.PatternTTL == 0 {
		c.Triage.PatternTTL = triage.DefaultPatternTTL
	}
	if c.Triage.ConversationTTL == 0 {
		c.Triage.ConversationTTL = triage.DefaultConversationTTL
	}
	if c.Triage.SessionID == "" {
		c.Triage.SessionID = triage.DefaultSessionID
	}

	if c.Commit.SettleDelay == 0 {
		c.Commit.SettleDelay = service.DefaultSettleDelay
	}
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case repository.TypeSQLite, repository.TypePostgres:
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", repository.TypeSQLite, repository.TypePostgres, c.Database.Type)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required for %s", c.Database.Type)
	}
	if c.Database.RawExecTimeout < 0 || c.Commit.SettleDelay < 0 {
		return fmt.Errorf("timeouts and delays must not be negative")
	}
	return nil
}

// TriageConfig converts the triage section for the analyzer
func (c *Config) TriageConfig() triage.Config {
	return triage.Config{
		PromptTTL:       c.Triage.PromptTTL,
		PatternTTL:      c.Triage.PatternTTL,
		ConversationTTL: c.Triage.ConversationTTL,
		SessionID:       c.Triage.SessionID,
		PromptDir:       c.Triage.PromptDir,
	}
}
