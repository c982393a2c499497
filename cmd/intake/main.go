package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hurttlocker/intake/internal/config"
	"github.com/hurttlocker/intake/internal/extract"
	"github.com/hurttlocker/intake/internal/llm"
	"github.com/hurttlocker/intake/internal/logging"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/schema"
	"github.com/hurttlocker/intake/internal/store"
	"github.com/hurttlocker/intake/internal/urgency"
)

const version = "0.3.0"

// Global flags, parsed ahead of the subcommand.
var (
	globalConfigPath string
	globalLLM        string
	globalDBPath     string
	globalSchema     string
	globalLogLevel   string
	globalWorkers    string
	globalSave       bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "extract":
		err = runExtract(args[1:])
	case "normalize":
		err = runNormalize(args[1:])
	case "urgency":
		err = runUrgency(args[1:])
	case "batch":
		err = runBatch(args[1:])
	case "history":
		err = runHistory(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "schema":
		err = runSchema(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("intake %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags strips global flags from args and returns the rest.
// Both "--flag value" and "--flag=value" forms are accepted.
func parseGlobalFlags(args []string) []string {
	targets := map[string]*string{
		"--config":    &globalConfigPath,
		"--llm":       &globalLLM,
		"--db":        &globalDBPath,
		"--schema":    &globalSchema,
		"--log-level": &globalLogLevel,
		"--workers":   &globalWorkers,
	}

	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--save" {
			globalSave = true
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		dst, ok := targets[name]
		if !ok {
			out = append(out, arg)
			continue
		}
		if hasValue {
			*dst = value
			continue
		}
		if i+1 < len(args) {
			*dst = args[i+1]
			i++
		}
	}
	return out
}

// app is the wiring shared by every command that processes requests.
type app struct {
	cfg      config.ResolvedConfig
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
}

func resolveConfig() (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  globalConfigPath,
		CLILLM:      globalLLM,
		CLIDBPath:   globalDBPath,
		CLISchema:   globalSchema,
		CLILogLevel: globalLogLevel,
		CLIWorkers:  globalWorkers,
	})
}

// newApp resolves configuration, sets up logging and builds the pipeline.
// machineOutput selects JSON logs for commands whose stdout is parsed.
func newApp(machineOutput bool) (*app, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.Init(machineOutput, logging.ParseLevel(cfg.LogLevel.Value))

	s := schema.MaterialRequest()
	if cfg.SchemaPath.Value != "" {
		if s, err = schema.Load(cfg.SchemaPath.Value); err != nil {
			return nil, err
		}
	}

	p, err := pipeline.New(s,
		pipeline.WithClassifier(urgency.New(cfg.UrgencyOptions()...)),
		pipeline.WithRoles(cfg.Roles),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, pipeline: p}, nil
}

func (a *app) extractor() (*extract.Extractor, error) {
	llmCfg, err := a.cfg.LLMConfig()
	if err != nil {
		return nil, err
	}
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return nil, err
	}
	timeout, err := a.cfg.Timeout()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("llm provider ready", "provider", provider.Name(), "timeout", timeout.String())
	return extract.New(provider, a.pipeline,
		extract.WithTimeout(timeout),
		extract.WithLogger(a.logger),
	), nil
}

func openStore(cfg config.ResolvedConfig) (*store.SQLiteStore, error) {
	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func printUsage() {
	fmt.Printf(`intake %s - Turn free-text material requests into structured records

Usage:
  intake [global flags] <command> [arguments]

Commands:
  extract <text>          Extract a record from text (reads stdin when no text)
  normalize               Normalize raw model output read from stdin
  urgency <text>          Classify urgency and show the deciding rule
  batch <in> <out>        Process one request per line into a JSON array
  history                 List stored results, newest first
  stats                   Show stored result statistics
  schema                  Print the active schema as YAML
  mcp                     Run the MCP server on stdio
  config                  Show resolved configuration and where each value came from
  version                 Print version

Global Flags:
  --config <path>         Config file (default ~/.intake/config.yaml)
  --llm <provider/model>  LLM provider: offline, openai, openrouter, google, deepseek, ollama
  --db <path>             Result database (default ~/.intake/intake.db)
  --schema <path>         Schema file (YAML or JSON)
  --log-level <level>     debug, info, warn or error
  --workers <n>           Batch worker count
  --save                  Store results in the database

Command Flags:
  extract    --trace                 Print the full outcome with its trace
  normalize  --source <text>         Original request text
             --trace                 Print the full result with its trace
  urgency    --deadline <date>       Deadline to weigh
             --json                  Print the decision as JSON
  history    --limit <n>             Maximum results (default 20)
             --urgency <tier>        Only results with this tier
             --json                  Print JSON
  stats      --json                  Print JSON
`, version)
}
