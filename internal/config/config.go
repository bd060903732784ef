// Package config loads the tutor configuration from a JSON or YAML file with
// ${VAR} and ${VAR:default} environment substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/embedding"
	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/provider"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"github.com/nidhogg/nuka-tutor/internal/vectorstore"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig           `json:"server" yaml:"server"`
	Providers []ProviderConfig       `json:"providers" yaml:"providers"`
	Oracle    OracleConfig           `json:"oracle" yaml:"oracle"`
	Context   learnctx.BuilderConfig `json:"context" yaml:"context"`
	Tutor     TutorConfig            `json:"tutor" yaml:"tutor"`
	Followups FollowupConfig         `json:"followups" yaml:"followups"`
	Gateway   GatewayConfig          `json:"gateway" yaml:"gateway"`
	Database  DatabaseConfig         `json:"database" yaml:"database"`
	Embedding embedding.Config       `json:"embedding" yaml:"embedding"`
}

type ServerConfig struct {
	Port          int    `json:"port" yaml:"port"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	MigrationsDir string `json:"migrations_dir" yaml:"migrations_dir"`
}

type ProviderConfig struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Model    string            `json:"model,omitempty" yaml:"model,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Provider converts the entry to the provider package's config.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Model:    p.Model,
		Extra:    p.Extra,
		Timeout:  p.Timeout.Std(),
	}
}

// OracleConfig tunes oracle calls. Bindings route a purpose ("intent",
// "followup", "turn") to a provider id.
type OracleConfig struct {
	Model             string            `json:"model" yaml:"model"`
	MaxRetries        int               `json:"max_retries" yaml:"max_retries"`
	CallTimeout       Duration          `json:"call_timeout" yaml:"call_timeout"`
	ExtractTimeout    Duration          `json:"extract_timeout" yaml:"extract_timeout"`
	MaxTokens         int               `json:"max_tokens" yaml:"max_tokens"`
	Temperature       float64           `json:"temperature" yaml:"temperature"`
	PromptTokenBudget int               `json:"prompt_token_budget" yaml:"prompt_token_budget"`
	Bindings          map[string]string `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Fallbacks         []string          `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// Engine returns the conversation engine settings.
func (o OracleConfig) Engine() engine.Config {
	return engine.Config{
		MaxRetries:        o.MaxRetries,
		CallTimeout:       o.CallTimeout.Std(),
		MaxTokens:         o.MaxTokens,
		Temperature:       o.Temperature,
		PromptTokenBudget: o.PromptTokenBudget,
	}
}

type TutorConfig struct {
	MaxConcurrentTurns int64    `json:"max_concurrent_turns" yaml:"max_concurrent_turns"`
	QueueSize          int      `json:"queue_size" yaml:"queue_size"`
	WorkerIdle         Duration `json:"worker_idle" yaml:"worker_idle"`
}

// Service returns the tutor pool settings.
func (t TutorConfig) Service() tutor.Config {
	return tutor.Config{
		MaxConcurrentTurns: t.MaxConcurrentTurns,
		QueueSize:          t.QueueSize,
		WorkerIdle:         t.WorkerIdle.Std(),
	}
}

type FollowupConfig struct {
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig           `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig              `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig              `json:"redis" yaml:"redis"`
	Qdrant   vectorstore.QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL         string   `json:"url" yaml:"url"`
	SnapshotTTL Duration `json:"snapshot_ttl" yaml:"snapshot_ttl"`
}

// Duration is a time.Duration written as "30s" or "10m" in config files.
// Bare numbers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		var secs float64
		if _, serr := fmt.Sscanf(s, "%g", &secs); serr == nil {
			return Duration(secs * float64(time.Second)), nil
		}
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or number: %w", err)
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Defaults returns a configuration that runs fully in memory.
func Defaults() *Config {
	eng := engine.DefaultConfig()
	svc := tutor.DefaultConfig()
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info", MigrationsDir: "migrations"},
		Oracle: OracleConfig{
			MaxRetries:        eng.MaxRetries,
			CallTimeout:       Duration(eng.CallTimeout),
			ExtractTimeout:    Duration(10 * time.Second),
			MaxTokens:         eng.MaxTokens,
			Temperature:       eng.Temperature,
			PromptTokenBudget: eng.PromptTokenBudget,
		},
		Context: learnctx.DefaultBuilderConfig(),
		Tutor: TutorConfig{
			MaxConcurrentTurns: svc.MaxConcurrentTurns,
			QueueSize:          svc.QueueSize,
			WorkerIdle:         Duration(svc.WorkerIdle),
		},
		Followups: FollowupConfig{SweepInterval: Duration(15 * time.Minute)},
		Database: DatabaseConfig{
			Redis: RedisConfig{SnapshotTTL: Duration(24 * time.Hour)},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file over the defaults and substitutes
// environment variable references. The format follows the file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(resolved), cfg)
	default:
		err = json.Unmarshal([]byte(resolved), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "", "openai", "ollama", "anthropic":
		default:
			return fmt.Errorf("provider %s: unknown type %q", p.ID, p.Type)
		}
	}
	for purpose, id := range c.Oracle.Bindings {
		if !seen[id] {
			return fmt.Errorf("oracle binding %s: unknown provider %q", purpose, id)
		}
	}
	for _, id := range c.Oracle.Fallbacks {
		if !seen[id] {
			return fmt.Errorf("oracle fallback: unknown provider %q", id)
		}
	}
	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.AppToken == "") {
		return fmt.Errorf("gateway.slack: bot_token and app_token are required when enabled")
	}
	if c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken == "" {
		return fmt.Errorf("gateway.discord: bot_token is required when enabled")
	}
	return nil
}
