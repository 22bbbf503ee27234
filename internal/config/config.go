// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from switchyard.yaml.
type Config struct {
	// DefaultTenant owns channel events that do not name a tenant.
	DefaultTenant string          `yaml:"default_tenant"`
	Database      DatabaseConfig  `yaml:"database"`
	Redis         RedisConfig     `yaml:"redis"`
	Server        ServerConfig    `yaml:"server"`
	Gate          GateConfig      `yaml:"gate"`
	Channel       ChannelConfig   `yaml:"channel"`
	CRM           CRMConfig       `yaml:"crm"`
	Knowledge     KnowledgeConfig `yaml:"knowledge"`
	LLM           LLMConfig       `yaml:"llm"`
	Handoff       HandoffConfig   `yaml:"handoff"`
	Relay         RelayConfig     `yaml:"relay"`
}

// DatabaseConfig selects and addresses the SQL database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// RedisConfig enables the Redis-backed gate store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds HTTP listener and webhook verification settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// SigningSecret enables HMAC verification of channel webhooks.
	SigningSecret string `yaml:"signing_secret"`
	// WebhookSecret is the shared secret expected in X-Webhook-Secret.
	// Empty disables the check.
	WebhookSecret string `yaml:"webhook_secret"`
	// AdminToken protects tenant credential endpoints.
	AdminToken string `yaml:"admin_token"`
}

// GateConfig holds idempotency and throttle settings.
type GateConfig struct {
	Store          string `yaml:"store"` // "memory", "redis" or "sql"
	EventTTLSec    int    `yaml:"event_ttl_sec"`
	DailyLimit     int    `yaml:"daily_limit"`
	MinIntervalSec int    `yaml:"min_interval_sec"`
	Timezone       string `yaml:"timezone"`
	SweepCron      string `yaml:"sweep_cron"`
}

// ChannelConfig configures the chat-channel gateway adapter.
type ChannelConfig struct {
	Platform string `yaml:"platform"` // "gateway"
	SendURL  string `yaml:"send_url"`
	Token    string `yaml:"token"`
	// BusinessAddress is our own number; events from it are ignored.
	BusinessAddress   string  `yaml:"business_address"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// CRMConfig configures the CRM conversation API and its OAuth client.
type CRMConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIVersion        string  `yaml:"api_version"`
	ClientID          string  `yaml:"client_id"`
	ClientSecret      string  `yaml:"client_secret"`
	TokenURL          string  `yaml:"token_url"`
	ProviderID        string  `yaml:"conversation_provider_id"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// KnowledgeConfig configures indexing and retrieval.
type KnowledgeConfig struct {
	Backend         string       `yaml:"backend"` // "sql", "milvus" or "remote"
	RemoteURL       string       `yaml:"remote_url"`
	TopK            int          `yaml:"top_k"`
	ChunkSize       int          `yaml:"chunk_size"`
	ChunkOverlap    int          `yaml:"chunk_overlap"`
	MaxPages        int          `yaml:"max_pages"`
	CrawlDelayMS    int          `yaml:"crawl_delay_ms"`
	FetchTimeoutSec int          `yaml:"fetch_timeout_sec"`
	TimeoutSec      int          `yaml:"timeout_sec"`
	Milvus          MilvusConfig `yaml:"milvus"`
}

// MilvusConfig addresses a Milvus vector database.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// LLMConfig configures the generation and embedding models.
type LLMConfig struct {
	Provider       string `yaml:"provider"` // "openai" or "ollama"
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	SystemPrompt   string `yaml:"system_prompt"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// HandoffConfig configures escalation rules and operator notifications.
type HandoffConfig struct {
	RulesPath  string        `yaml:"rules_path"`
	DigestCron string        `yaml:"digest_cron"`
	Slack      SlackConfig   `yaml:"slack"`
	Discord    DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials for operator notices.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord bot credentials for operator notices.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// RelayConfig tunes the orchestrator.
type RelayConfig struct {
	Workers      int `yaml:"workers"`
	HistoryTurns int `yaml:"history_turns"`
}

// Load reads a YAML config file from path and returns a validated Config.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DefaultTenant == "" {
		c.DefaultTenant = "default"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchyard.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchyard"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Gate.Store == "" {
		c.Gate.Store = "memory"
		if c.Redis.Addr != "" {
			c.Gate.Store = "redis"
		}
	}
	if c.Gate.EventTTLSec == 0 {
		c.Gate.EventTTLSec = 24 * 60 * 60
	}
	if c.Gate.DailyLimit == 0 {
		c.Gate.DailyLimit = 50
	}
	if c.Gate.MinIntervalSec == 0 {
		c.Gate.MinIntervalSec = 30
	}
	if c.Gate.Timezone == "" {
		c.Gate.Timezone = "UTC"
	}
	if c.Gate.SweepCron == "" {
		c.Gate.SweepCron = "*/15 * * * *"
	}

	if c.Channel.Platform == "" {
		c.Channel.Platform = "gateway"
	}
	if c.Channel.TimeoutSec == 0 {
		c.Channel.TimeoutSec = 15
	}
	if c.Channel.RequestsPerSecond == 0 {
		c.Channel.RequestsPerSecond = 5
	}

	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = "https://services.leadconnectorhq.com"
	}
	if c.CRM.APIVersion == "" {
		c.CRM.APIVersion = "2021-04-15"
	}
	if c.CRM.TokenURL == "" {
		c.CRM.TokenURL = c.CRM.BaseURL + "/oauth/token"
	}
	if c.CRM.TimeoutSec == 0 {
		c.CRM.TimeoutSec = 15
	}
	if c.CRM.RequestsPerSecond == 0 {
		c.CRM.RequestsPerSecond = 10
	}
	if c.CRM.Burst == 0 {
		c.CRM.Burst = 10
	}

	if c.Knowledge.Backend == "" {
		c.Knowledge.Backend = "sql"
	}
	if c.Knowledge.TopK == 0 {
		c.Knowledge.TopK = 5
	}
	if c.Knowledge.ChunkSize == 0 {
		c.Knowledge.ChunkSize = 1500
	}
	if c.Knowledge.ChunkOverlap == 0 {
		c.Knowledge.ChunkOverlap = 200
	}
	if c.Knowledge.MaxPages == 0 {
		c.Knowledge.MaxPages = 20
	}
	if c.Knowledge.CrawlDelayMS == 0 {
		c.Knowledge.CrawlDelayMS = 1000
	}
	if c.Knowledge.FetchTimeoutSec == 0 {
		c.Knowledge.FetchTimeoutSec = 20
	}
	if c.Knowledge.TimeoutSec == 0 {
		c.Knowledge.TimeoutSec = 10
	}
	if c.Knowledge.Milvus.Collection == "" {
		c.Knowledge.Milvus.Collection = "knowledge_chunks"
	}
	if c.Knowledge.Milvus.Dimension == 0 {
		c.Knowledge.Milvus.Dimension = 1536
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "ollama":
			c.LLM.Model = "llama3"
		default:
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.LLM.EmbeddingModel == "" && c.LLM.Provider == "openai" {
		c.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 30
	}

	if c.Handoff.RulesPath == "" {
		c.Handoff.RulesPath = "handoff_rules.json"
	}
	if c.Handoff.DigestCron == "" {
		c.Handoff.DigestCron = "0 9 * * *"
	}

	if c.Relay.Workers == 0 {
		c.Relay.Workers = 64
	}
	if c.Relay.HistoryTurns == 0 {
		c.Relay.HistoryTurns = 10
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Gate.Store {
	case "memory", "sql":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when gate.store is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("gate.store %q is not supported", c.Gate.Store))
	}
	if c.Gate.DailyLimit < 0 {
		errs = append(errs, "gate.daily_limit must be >= 0")
	}
	if c.Gate.MinIntervalSec < 0 {
		errs = append(errs, "gate.min_interval_sec must be >= 0")
	}
	if _, err := time.LoadLocation(c.Gate.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("gate.timezone %q: %v", c.Gate.Timezone, err))
	}
	if c.Channel.Platform != "gateway" {
		errs = append(errs, fmt.Sprintf("channel.platform %q is not supported", c.Channel.Platform))
	}
	switch c.Knowledge.Backend {
	case "sql":
	case "milvus":
		if c.Knowledge.Milvus.Address == "" {
			errs = append(errs, "knowledge.milvus.address is required when knowledge.backend is milvus")
		}
	case "remote":
		if c.Knowledge.RemoteURL == "" {
			errs = append(errs, "knowledge.remote_url is required when knowledge.backend is remote")
		}
	default:
		errs = append(errs, fmt.Sprintf("knowledge.backend %q is not supported", c.Knowledge.Backend))
	}
	if c.Knowledge.ChunkOverlap < 0 {
		errs = append(errs, "knowledge.chunk_overlap must be >= 0")
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.Handoff.Slack.BotToken != "" && c.Handoff.Slack.Channel == "" {
		errs = append(errs, "handoff.slack.channel is required when a slack bot token is set")
	}
	if c.Handoff.Discord.BotToken != "" && c.Handoff.Discord.Channel == "" {
		errs = append(errs, "handoff.discord.channel is required when a discord bot token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EventTTL returns the idempotency window.
func (c GateConfig) EventTTL() time.Duration {
	return time.Duration(c.EventTTLSec) * time.Second
}

// MinInterval returns the minimum spacing between sends to one contact.
func (c GateConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSec) * time.Second
}

// Location returns the zone used for daily throttle buckets.
func (c GateConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Seconds converts an integer seconds setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
