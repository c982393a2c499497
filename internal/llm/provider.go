// Package llm adapts text-generation APIs to a single Provider interface.
// The HTTP providers talk to their REST APIs with net/http; the offline
// provider answers from pattern heuristics so intake works without a key.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "openai/gpt-4o-mini").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0 = deterministic
	Model       string  // overrides the provider's model when set
	Format      string  // "json" asks for a JSON object where the API supports it
	System      string  // system prompt (optional)
	Input       string  // the request text the prompt was built from
}

// Config holds provider configuration.
type Config struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"-" json:"-"` // empty = read from env
	BaseURL  string `yaml:"base_url" json:"base_url,omitempty"`
}

// String renders c the way --llm accepts it.
func (c Config) String() string {
	if c.Model == "" {
		return c.Provider
	}
	return c.Provider + "/" + c.Model
}

var (
	ErrUnknownProvider = errors.New("unknown LLM provider")
	ErrMissingAPIKey   = errors.New("missing API key")
)

// Offline is the provider name for the built-in heuristic extractor.
const Offline = "offline"

const defaultGoogleURL = "https://generativelanguage.googleapis.com/v1beta"

// chatPreset describes an OpenAI-compatible endpoint.
type chatPreset struct {
	envKeys  []string
	model    string
	baseURL  string
	needsKey bool
	headers  map[string]string
}

var chatPresets = map[string]chatPreset{
	"openai": {
		envKeys:  []string{"OPENAI_API_KEY"},
		model:    "gpt-4o-mini",
		baseURL:  "https://api.openai.com/v1",
		needsKey: true,
	},
	"openrouter": {
		envKeys:  []string{"OPENROUTER_API_KEY"},
		model:    "openai/gpt-4o-mini",
		baseURL:  "https://openrouter.ai/api/v1",
		needsKey: true,
		headers: map[string]string{
			"HTTP-Referer": "https://github.com/hurttlocker/intake",
			"X-Title":      "intake",
		},
	},
	"deepseek": {
		envKeys:  []string{"DEEPSEEK_API_KEY"},
		model:    "deepseek-chat",
		baseURL:  "https://api.deepseek.com/v1",
		needsKey: true,
	},
	"ollama": {
		model:   "llama3.2",
		baseURL: "http://localhost:11434/v1",
	},
}

// Providers lists the accepted provider names.
func Providers() []string {
	return []string{"google", "openai", "openrouter", "deepseek", "ollama", Offline}
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case "", Offline:
		return NewOffline(), nil

	case "google":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w: google provider requires GEMINI_API_KEY or GOOGLE_API_KEY", ErrMissingAPIKey)
		}
		return &googleProvider{
			apiKey:  key,
			model:   firstNonEmpty(cfg.Model, "gemini-2.5-flash"),
			baseURL: firstNonEmpty(cfg.BaseURL, defaultGoogleURL),
		}, nil
	}

	preset, ok := chatPresets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownProvider, cfg.Provider, strings.Join(Providers(), ", "))
	}
	key := cfg.APIKey
	for _, env := range preset.envKeys {
		key = firstNonEmpty(key, os.Getenv(env))
	}
	if key == "" && preset.needsKey {
		return nil, fmt.Errorf("%w: %s provider requires %s", ErrMissingAPIKey, name, strings.Join(preset.envKeys, " or "))
	}
	baseURL := cfg.BaseURL
	if name == "ollama" && baseURL == "" {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			baseURL = strings.TrimRight(host, "/") + "/v1"
		}
	}
	return &chatProvider{
		name:    name,
		apiKey:  key,
		model:   firstNonEmpty(cfg.Model, preset.model),
		baseURL: strings.TrimRight(firstNonEmpty(baseURL, preset.baseURL), "/"),
		headers: preset.headers,
	}, nil
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider" or "provider/model", e.g. "openai/gpt-4o-mini" or
// "openrouter/openai/gpt-4o-mini". Empty selects the offline provider.
func ParseLLMFlag(flag string) (Config, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return Config{Provider: Offline}, nil
	}

	provider, model, _ := strings.Cut(flag, "/")
	provider = strings.ToLower(provider)

	switch provider {
	case Offline:
		if model != "" {
			return Config{}, fmt.Errorf("invalid --llm %q: offline provider takes no model", flag)
		}
		return Config{Provider: Offline}, nil
	case "google":
		return Config{Provider: provider, Model: model}, nil
	}
	if _, ok := chatPresets[provider]; ok {
		return Config{Provider: provider, Model: model}, nil
	}
	return Config{}, fmt.Errorf("%w %q in --llm flag (supported: %s)", ErrUnknownProvider, provider, strings.Join(Providers(), ", "))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
