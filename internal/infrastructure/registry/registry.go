// Package registry builds the backend registry from the built-in defaults or a
// backends file.
package registry

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

type fileRemote struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	User   string `mapstructure:"user"`
	Runner string `mapstructure:"runner"`
}

type fileBackend struct {
	ID            string     `mapstructure:"id"`
	Kind          string     `mapstructure:"kind"`
	Model         string     `mapstructure:"model"`
	APIKeyEnv     string     `mapstructure:"api_key_env"`
	BaseURL       string     `mapstructure:"base_url"`
	ContextWindow int        `mapstructure:"context_window"`
	MaxTokens     int64      `mapstructure:"max_tokens"`
	Remote        fileRemote `mapstructure:"remote"`
	Exemplars     []string   `mapstructure:"exemplars"`
}

type fileRegistry struct {
	Backends []fileBackend `mapstructure:"backends"`
}

// Defaults is the deployment the service was originally built for.
func Defaults() []repository.Descriptor {
	return []repository.Descriptor{
		{
			ID:            "gpt-4",
			Kind:          repository.KindHostedChat,
			Model:         "gpt-4",
			APIKeyEnv:     "OPENAI_API_KEY",
			BaseURL:       "https://api.openai.com/v1",
			ContextWindow: 8192,
			Exemplars:     []string{"Write a Python function that parses a CSV file", "Explain this stack trace"},
		},
		{
			ID:            "claude-3-opus-20240229",
			Kind:          repository.KindHostedStream,
			Model:         "claude-3-opus-20240229",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			BaseURL:       "https://api.anthropic.com",
			ContextWindow: 200000,
			MaxTokens:     2000,
			Exemplars:     []string{"Summarize this long document", "Review the tone of this essay"},
		},
		{
			ID:            "gemini-1.5-pro",
			Kind:          repository.KindHostedGemini,
			Model:         "gemini-1.5-pro",
			APIKeyEnv:     "GEMINI_API_KEY",
			ContextWindow: 1000000,
			Exemplars:     []string{"Compare these two research papers", "What is in this very large transcript"},
		},
		{
			ID:            "mistral",
			Kind:          repository.KindSelfHosted,
			Model:         "mistral",
			ContextWindow: 32768,
			Remote:        repository.Remote{Host: "100.81.81.162", Port: 22, User: "ubuntu", Runner: "ollama"},
			Exemplars:     []string{"Tell me a short joke", "Translate hello into French"},
		},
		{
			ID:            "llama3.1",
			Kind:          repository.KindSelfHosted,
			Model:         "llama3.1",
			ContextWindow: 131072,
			Remote:        repository.Remote{Host: "100.81.81.96", Port: 22, User: "ubuntu", Runner: "ollama"},
			Exemplars:     []string{"Brainstorm names for a pet", "Give me a quick fact about space"},
		},
	}
}

// Load returns the registry described by path, or the defaults when path is empty.
func Load(path string) (*repository.Registry, error) {
	if path == "" {
		return repository.NewRegistry(Defaults()...)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read backends file %s: %w", path, err)
	}

	var raw fileRegistry
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode backends file %s: %w", path, err)
	}

	descs := make([]repository.Descriptor, 0, len(raw.Backends))
	for _, b := range raw.Backends {
		descs = append(descs, repository.Descriptor{
			ID:            b.ID,
			Kind:          repository.Kind(b.Kind),
			Model:         b.Model,
			APIKeyEnv:     b.APIKeyEnv,
			BaseURL:       b.BaseURL,
			ContextWindow: b.ContextWindow,
			MaxTokens:     b.MaxTokens,
			Remote: repository.Remote{
				Host:   b.Remote.Host,
				Port:   b.Remote.Port,
				User:   b.Remote.User,
				Runner: b.Remote.Runner,
			},
			Exemplars: b.Exemplars,
		})
	}

	reg, err := repository.NewRegistry(descs...)
	if err != nil {
		return nil, fmt.Errorf("invalid backends file %s: %w", path, err)
	}
	return reg, nil
}
