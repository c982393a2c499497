package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hurttlocker/intake/internal/urgency"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INTAKE_CONFIG", "INTAKE_DB", "INTAKE_SCHEMA", "INTAKE_LOG_LEVEL", "INTAKE_WORKERS",
		"INTAKE_LLM", "INTAKE_LLM_BASE_URL", "INTAKE_LLM_TIMEOUT", "INTAKE_API_KEY",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	r, err := ResolveConfig(ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if r.LLM.Value != DefaultLLM || r.LLM.Source != SourceDefault {
		t.Errorf("llm: %+v", r.LLM)
	}
	if r.DBPath.Value != DefaultDBPath() {
		t.Errorf("db: %+v", r.DBPath)
	}
	if n, err := r.WorkerCount(); err != nil || n != DefaultWorkers {
		t.Errorf("workers: %d %v", n, err)
	}
	if d, err := r.Timeout(); err != nil || d != DefaultTimeout {
		t.Errorf("timeout: %v %v", d, err)
	}
	if !reflect.DeepEqual(r.Keywords, urgency.DefaultKeywords()) {
		t.Errorf("keywords: %+v", r.Keywords)
	}
	if r.SchemaPath.Value != "" {
		t.Errorf("schema should be unset: %+v", r.SchemaPath)
	}
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, `db_path: ~/.intake/from-config.db
schema: ./fields.yaml
log_level: warn
workers: 2
llm:
  provider: openrouter/openai/gpt-4o-mini
  timeout: 10s
`)

	t.Setenv("INTAKE_DB", "~/from-env.db")
	t.Setenv("INTAKE_LLM", "google/gemini-2.5-flash")
	t.Setenv("INTAKE_WORKERS", "6")

	r, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLILLM:     "openai/gpt-4o-mini",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if r.DBPath.Source != SourceCLI || r.DBPath.From != "--db" {
		t.Errorf("db: %+v", r.DBPath)
	}
	if r.LLM.Source != SourceCLI || r.LLM.Value != "openai/gpt-4o-mini" {
		t.Errorf("llm: %+v", r.LLM)
	}
	if r.Workers.Source != SourceEnv || r.Workers.Value != "6" {
		t.Errorf("workers: %+v", r.Workers)
	}
	if r.LogLevel.Source != SourceConfig || r.LogLevel.Value != "warn" {
		t.Errorf("log level: %+v", r.LogLevel)
	}
	if r.SchemaPath.Source != SourceConfig || r.SchemaPath.From != cfgPath {
		t.Errorf("schema: %+v", r.SchemaPath)
	}
	if d, err := r.Timeout(); err != nil || d != 10*time.Second {
		t.Errorf("timeout: %v %v", d, err)
	}
}

func TestResolveConfig_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "log_level: debug\n")
	t.Setenv("INTAKE_CONFIG", cfgPath)

	r, err := ResolveConfig(ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ConfigPath != cfgPath || r.LogLevel.Value != "debug" {
		t.Errorf("got %+v", r)
	}
}

func TestResolveConfig_UrgencyAndRoles(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, `urgency:
  keywords:
    high: [urgente, "right away"]
  high_within_days: 3
roles:
  urgency: priority
  deadline: due
`)
	r, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r.Keywords.High, []string{"urgente", "right away"}) {
		t.Errorf("high keywords: %v", r.Keywords.High)
	}
	if !reflect.DeepEqual(r.Keywords.Medium, urgency.DefaultKeywords().Medium) {
		t.Errorf("medium keywords should keep defaults: %v", r.Keywords.Medium)
	}
	if r.Thresholds.HighWithin != 3 || r.Thresholds.MediumWithin != 30 {
		t.Errorf("thresholds: %+v", r.Thresholds)
	}
	if r.Roles.Urgency != "priority" || r.Roles.Deadline != "due" {
		t.Errorf("roles: %+v", r.Roles)
	}

	c := urgency.New(r.UrgencyOptions()...)
	if c.Classify("please send right away", nil) != urgency.High {
		t.Error("configured keyword should classify high")
	}
	if c.Classify("soon", nil) != urgency.Medium {
		t.Error("default medium keyword should still apply")
	}
}

func TestResolveConfig_BadFile(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "llm: [unclosed\n")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	r, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := r.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" || k.Source != SourceEnv {
		t.Fatalf("expected env key, got %+v", k)
	}
	if got := r.APIKeyForProvider("offline"); got.Value != "" {
		t.Errorf("offline needs no key: %+v", got)
	}
}

func TestLLMConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("INTAKE_API_KEY", "generic")
	t.Setenv("INTAKE_LLM_BASE_URL", "http://proxy.local/v1")

	r, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml"), CLILLM: "deepseek"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := r.LLMConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "deepseek" || cfg.APIKey != "generic" || cfg.BaseURL != "http://proxy.local/v1" {
		t.Errorf("got %+v", cfg)
	}

	r.LLM.Value = "nope/model"
	if _, err := r.LLMConfig(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestWorkerCountAndTimeoutValidation(t *testing.T) {
	r := ResolvedConfig{
		Workers:    ResolvedValue{Value: "0", Source: SourceCLI},
		LLMTimeout: ResolvedValue{Value: "soon", Source: SourceEnv},
	}
	if _, err := r.WorkerCount(); err == nil {
		t.Error("expected worker error")
	}
	if _, err := r.Timeout(); err == nil {
		t.Error("expected timeout error")
	}
	r.LLMTimeout.Value = "45"
	if d, err := r.Timeout(); err != nil || d != 45*time.Second {
		t.Errorf("bare seconds: %v %v", d, err)
	}
}
