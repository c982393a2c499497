package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/intake/internal/llm"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/urgency"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Defaults applied before the config file.
const (
	DefaultLLM      = llm.Offline
	DefaultWorkers  = 4
	DefaultTimeout  = 30 * time.Second
	DefaultLogLevel = "info"
)

type ResolveOptions struct {
	ConfigPath  string
	CLILLM      string
	CLIDBPath   string
	CLISchema   string
	CLILogLevel string
	CLIWorkers  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue `json:"db_path"`
	SchemaPath ResolvedValue `json:"schema_path"`
	LogLevel   ResolvedValue `json:"log_level"`
	Workers    ResolvedValue `json:"workers"`

	LLM        ResolvedValue `json:"llm"`
	LLMBaseURL ResolvedValue `json:"llm_base_url"`
	LLMTimeout ResolvedValue `json:"llm_timeout"`

	LLMKeys map[string]ResolvedValue `json:"-"`

	Keywords   urgency.Keywords   `json:"urgency_keywords"`
	Thresholds urgency.Thresholds `json:"urgency_thresholds"`
	Roles      pipeline.Roles     `json:"roles"`
}

type fileConfig struct {
	DBPath   string `yaml:"db_path"`
	Schema   string `yaml:"schema"`
	LogLevel string `yaml:"log_level"`
	Workers  int    `yaml:"workers"`
	LLM      struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"llm"`
	Urgency struct {
		Keywords           urgency.Keywords `yaml:"keywords"`
		urgency.Thresholds `yaml:",inline"`
	} `yaml:"urgency"`
	Roles pipeline.Roles `yaml:"roles"`
}

func intakeHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".intake")
}

func DefaultConfigPath() string {
	return filepath.Join(intakeHome(), "config.yaml")
}

func DefaultDBPath() string {
	return filepath.Join(intakeHome(), "intake.db")
}

// ResolveConfig layers built-in defaults, the config file, environment
// variables and CLI flags, in that order, remembering where each value came
// from.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := firstNonEmpty(opts.ConfigPath, os.Getenv("INTAKE_CONFIG"), DefaultConfigPath())
	path = expandUserPath(strings.TrimSpace(path))

	builtin := func(v string) ResolvedValue {
		return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	out := ResolvedConfig{
		ConfigPath: path,
		DBPath:     builtin(DefaultDBPath()),
		LogLevel:   builtin(DefaultLogLevel),
		Workers:    builtin(strconv.Itoa(DefaultWorkers)),
		LLM:        builtin(DefaultLLM),
		LLMTimeout: builtin(DefaultTimeout.String()),
		LLMKeys:    map[string]ResolvedValue{},
		Keywords:   urgency.DefaultKeywords(),
		Thresholds: urgency.DefaultThresholds(),
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.SchemaPath, cfg.Schema, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		if cfg.Workers > 0 {
			apply(&out.Workers, strconv.Itoa(cfg.Workers), SourceConfig, path)
		}
		apply(&out.LLM, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMBaseURL, cfg.LLM.BaseURL, SourceConfig, path)
		apply(&out.LLMTimeout, cfg.LLM.Timeout, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(cfg.LLM.Provider)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}

		if len(cfg.Urgency.Keywords.High) > 0 {
			out.Keywords.High = cfg.Urgency.Keywords.High
		}
		if len(cfg.Urgency.Keywords.Medium) > 0 {
			out.Keywords.Medium = cfg.Urgency.Keywords.Medium
		}
		if cfg.Urgency.HighWithin > 0 {
			out.Thresholds.HighWithin = cfg.Urgency.HighWithin
		}
		if cfg.Urgency.MediumWithin > 0 {
			out.Thresholds.MediumWithin = cfg.Urgency.MediumWithin
		}
		out.Roles = cfg.Roles
	}

	applyEnv(&out.DBPath, "INTAKE_DB")
	applyEnv(&out.SchemaPath, "INTAKE_SCHEMA")
	applyEnv(&out.LogLevel, "INTAKE_LOG_LEVEL")
	applyEnv(&out.Workers, "INTAKE_WORKERS")
	applyEnv(&out.LLM, "INTAKE_LLM")
	applyEnv(&out.LLMBaseURL, "INTAKE_LLM_BASE_URL")
	applyEnv(&out.LLMTimeout, "INTAKE_LLM_TIMEOUT")

	for env, provider := range map[string]string{
		"INTAKE_API_KEY":     "default",
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
		"DEEPSEEK_API_KEY":   "deepseek",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.SchemaPath, opts.CLISchema, SourceCLI, "--schema")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")

	if out.DBPath.Value != "" && out.DBPath.Value != ":memory:" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.SchemaPath.Value != "" {
		out.SchemaPath.Value = expandUserPath(out.SchemaPath.Value)
	}

	return out, nil
}

// WorkerCount parses the resolved worker count.
func (r ResolvedConfig) WorkerCount() (int, error) {
	n, err := strconv.Atoi(r.Workers.Value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid workers %q (from %s): want a positive integer", r.Workers.Value, r.Workers.Source)
	}
	return n, nil
}

// Timeout parses the resolved LLM timeout. Bare integers are seconds.
func (r ResolvedConfig) Timeout() (time.Duration, error) {
	v := strings.TrimSpace(r.LLMTimeout.Value)
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid llm timeout %q (from %s)", v, r.LLMTimeout.Source)
	}
	return d, nil
}

// LLMConfig turns the resolved provider, key and base URL into an llm.Config.
func (r ResolvedConfig) LLMConfig() (llm.Config, error) {
	cfg, err := llm.ParseLLMFlag(r.LLM.Value)
	if err != nil {
		return llm.Config{}, err
	}
	cfg.APIKey = r.APIKeyForProvider(cfg.Provider).Value
	cfg.BaseURL = r.LLMBaseURL.Value
	return cfg, nil
}

// UrgencyOptions returns classifier options for the resolved keywords and
// thresholds.
func (r ResolvedConfig) UrgencyOptions() []urgency.Option {
	return []urgency.Option{
		urgency.WithKeywords(r.Keywords),
		urgency.WithThresholds(r.Thresholds),
	}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" || provider == llm.Offline {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
