package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all environmentally dependent settings for the Thalamus API.
type Config struct {
	Addr     string `env:"THALAMUS_ADDR" envDefault:":8080"`
	LogLevel string `env:"THALAMUS_LOG_LEVEL" envDefault:"info"`

	// Optional YAML/JSON/TOML file overriding the built-in backend registry.
	BackendsFile string `env:"THALAMUS_BACKENDS_FILE"`

	// Backend selection
	Selector         string  `env:"THALAMUS_SELECTOR" envDefault:"random"`
	SemanticMinScore float32 `env:"THALAMUS_SEMANTIC_MIN_SCORE" envDefault:"0.75"`

	// Hosted providers
	DefaultMaxTokens int64         `env:"THALAMUS_MAX_TOKENS" envDefault:"2000"`
	ProviderTimeout  time.Duration `env:"THALAMUS_PROVIDER_TIMEOUT" envDefault:"5m"`

	// SSH double hop
	SSHKeyDir        string        `env:"THALAMUS_SSH_KEY_DIR"`
	SSHKeyNames      []string      `env:"THALAMUS_SSH_KEY_NAMES" envSeparator:"," envDefault:"id_rsa,id_ed25519,id_ecdsa,id_dsa"`
	JumpHost         string        `env:"THALAMUS_JUMP_HOST" envDefault:"146.152.232.8:22"`
	JumpUser         string        `env:"THALAMUS_JUMP_USER" envDefault:"guest"`
	KnownHostsFile   string        `env:"THALAMUS_KNOWN_HOSTS"`
	SSHDialTimeout   time.Duration `env:"THALAMUS_SSH_DIAL_TIMEOUT" envDefault:"15s"`
	BreakerThreshold int           `env:"THALAMUS_BREAKER_THRESHOLD" envDefault:"3"`
	BreakerCooldown  time.Duration `env:"THALAMUS_BREAKER_COOLDOWN" envDefault:"30s"`

	// Ollama embeddings for semantic selection
	OllamaHost       string `env:"THALAMUS_OLLAMA_HOST" envDefault:"http://localhost:11434"`
	OllamaEmbedModel string `env:"THALAMUS_OLLAMA_EMBED_MODEL" envDefault:"nomic-embed-text"`

	// Qdrant Vector DB
	QdrantHost       string `env:"THALAMUS_QDRANT_HOST" envDefault:"localhost"`
	QdrantPort       int    `env:"THALAMUS_QDRANT_PORT" envDefault:"6334"`
	QdrantCollection string `env:"THALAMUS_QDRANT_COLLECTION" envDefault:"thalamus_exemplars"`

	// Route audit; empty disables it.
	AuditDSN string `env:"THALAMUS_AUDIT_DSN"`
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("THALAMUS_ADDR is required")
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("THALAMUS_LOG_LEVEL must be one of debug, info, error")
	}
	switch c.Selector {
	case "random", "semantic":
	default:
		return fmt.Errorf("THALAMUS_SELECTOR must be random or semantic, got %q", c.Selector)
	}
	if c.SemanticMinScore < 0 || c.SemanticMinScore > 1 {
		return fmt.Errorf("THALAMUS_SEMANTIC_MIN_SCORE must be between 0 and 1")
	}
	if c.DefaultMaxTokens < 1 {
		return fmt.Errorf("THALAMUS_MAX_TOKENS must be at least 1")
	}
	if len(c.SSHKeyNames) == 0 {
		return fmt.Errorf("THALAMUS_SSH_KEY_NAMES cannot be empty")
	}
	if c.JumpHost == "" || c.JumpUser == "" {
		return fmt.Errorf("THALAMUS_JUMP_HOST and THALAMUS_JUMP_USER are required")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("THALAMUS_BREAKER_THRESHOLD must be at least 1")
	}
	if c.QdrantPort <= 0 || c.QdrantPort > 65535 {
		return fmt.Errorf("THALAMUS_QDRANT_PORT must be between 1 and 65535")
	}
	return nil
}

// Load reads an optional .env file, then the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SSHKeyDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.SSHKeyDir = filepath.Join(home, ".ssh")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
