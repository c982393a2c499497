package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/intake/internal/batch"
	"github.com/hurttlocker/intake/internal/config"
	"github.com/hurttlocker/intake/internal/dates"
	intakemcp "github.com/hurttlocker/intake/internal/mcp"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/store"
	"github.com/hurttlocker/intake/internal/urgency"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runExtract(args []string) error {
	var words []string
	trace := false
	for _, arg := range args {
		switch {
		case arg == "--trace":
			trace = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
	}

	text := strings.Join(words, " ")
	if len(words) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(b)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("usage: intake extract <text> [--trace]")
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	ex, err := a.extractor()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := ex.Extract(ctx, text)
	if out.Error != "" {
		fmt.Fprintf(os.Stderr, "Warning: provider failed after %d attempt(s): %s\n", out.Attempts, out.Error)
	}
	if globalSave {
		if err := saveResult(a, out.Input, out.Output, out.Provider, out.Result); err != nil {
			return err
		}
	}

	if trace {
		return printJSON(out)
	}
	return printJSON(out.Record)
}

func runNormalize(args []string) error {
	source := ""
	trace := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--trace":
			trace = true
		case arg == "--source" && i+1 < len(args):
			i++
			source = args[i]
		case strings.HasPrefix(arg, "--source="):
			source = strings.TrimPrefix(arg, "--source=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s (raw output is read from stdin)", arg)
		}
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}

	res := a.pipeline.Process(pipeline.Input{Text: source, Output: string(raw)})
	if globalSave {
		if err := saveResult(a, source, string(raw), "", res); err != nil {
			return err
		}
	}

	if trace {
		return printJSON(res)
	}
	return printJSON(res.Record)
}

func runUrgency(args []string) error {
	var words []string
	deadlineRaw := ""
	asJSON := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			asJSON = true
		case arg == "--deadline" && i+1 < len(args):
			i++
			deadlineRaw = args[i]
		case strings.HasPrefix(arg, "--deadline="):
			deadlineRaw = strings.TrimPrefix(arg, "--deadline=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
	}
	text := strings.TrimSpace(strings.Join(words, " "))
	if text == "" {
		return fmt.Errorf("usage: intake urgency <text> [--deadline <date>] [--json]")
	}

	var deadline *time.Time
	if strings.TrimSpace(deadlineRaw) != "" {
		iso, ok := dates.Normalize(deadlineRaw)
		if !ok {
			return fmt.Errorf("invalid deadline %q", deadlineRaw)
		}
		d, _ := dates.Parse(iso)
		deadline = &d
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}

	d := a.pipeline.Classifier().Explain(text, deadline)
	if asJSON {
		return printJSON(d)
	}
	fmt.Println(formatDecision(d))
	return nil
}

func runBatch(args []string) error {
	var paths []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && arg != "-" {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		paths = append(paths, arg)
	}
	if len(paths) != 2 {
		return fmt.Errorf("usage: intake batch <input-file> <output-file|-> [--workers N] [--save]")
	}
	inPath, outPath := paths[0], paths[1]

	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	inputs, err := batch.ReadInputs(f)
	f.Close()
	if err != nil {
		return err
	}

	a, err := newApp(outPath == "-")
	if err != nil {
		return err
	}
	workers, err := a.cfg.WorkerCount()
	if err != nil {
		return err
	}
	ex, err := a.extractor()
	if err != nil {
		return err
	}

	opts := []batch.Option{batch.WithWorkers(workers), batch.WithLogger(a.logger)}
	if globalSave {
		s, err := openStore(a.cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		opts = append(opts, batch.WithSaver(s))
	}

	ctx, cancel := signalContext()
	defer cancel()

	outcomes, err := batch.New(ex, opts...).Run(ctx, inputs)
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if outPath != "-" {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer out.Close()
		w = out
	}
	if err := batch.WriteJSON(w, outcomes); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	withIssues, degraded := 0, 0
	for _, o := range outcomes {
		if len(o.Trace.Issues) > 0 {
			withIssues++
		}
		if o.Error != "" {
			degraded++
		}
	}
	fmt.Fprintf(os.Stderr, "Processed %d request(s): %d with issues, %d provider failures\n", len(outcomes), withIssues, degraded)
	return nil
}

func runHistory(args []string) error {
	opts := store.ListOpts{Limit: 20}
	asJSON := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			asJSON = true
		case arg == "--limit" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --limit %q", args[i])
			}
			opts.Limit = n
		case arg == "--urgency" && i+1 < len(args):
			i++
			tier, err := urgency.ParseTier(args[i])
			if err != nil {
				return err
			}
			opts.Urgency = string(tier)
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.List(context.Background(), opts)
	if err != nil {
		return err
	}
	if asJSON {
		if entries == nil {
			entries = []*store.Entry{}
		}
		return printJSON(entries)
	}
	outputHistoryTTY(entries)
	return nil
}

func runStats(args []string) error {
	asJSON := false
	for _, arg := range args {
		switch {
		case arg == "--json":
			asJSON = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(context.Background())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(st)
	}
	outputStatsTTY(st, cfg.DBPath.Value)
	return nil
}

func runSchema(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	a, err := newApp(false)
	if err != nil {
		return err
	}

	b, err := yaml.Marshal(a.pipeline.Schema())
	if err != nil {
		return err
	}
	roles := a.pipeline.Roles()
	fmt.Printf("# urgency field: %s\n# deadline field: %s\n", orNone(roles.Urgency), orNone(roles.Deadline))
	fmt.Print(string(b))
	return nil
}

func runMCP(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	a, err := newApp(true)
	if err != nil {
		return err
	}
	ex, err := a.extractor()
	if err != nil {
		return err
	}
	s, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	a.logger.Info("mcp server starting", "provider", ex.Provider(), "db", a.cfg.DBPath.Value)
	return server.ServeStdio(intakemcp.NewServer(intakemcp.ServerConfig{
		Extractor: ex,
		Store:     s,
		Version:   version,
	}))
}

func runConfig(args []string) error {
	asJSON := false
	for _, arg := range args {
		switch {
		case arg == "--json":
			asJSON = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cfg)
	}

	fmt.Printf("config file: %s\n", cfg.ConfigPath)
	rows := []struct {
		name string
		v    string
		src  string
	}{
		{"llm", cfg.LLM.Value, describeSource(cfg.LLM.Source, cfg.LLM.From)},
		{"llm timeout", cfg.LLMTimeout.Value, describeSource(cfg.LLMTimeout.Source, cfg.LLMTimeout.From)},
		{"llm base url", orNone(cfg.LLMBaseURL.Value), describeSource(cfg.LLMBaseURL.Source, cfg.LLMBaseURL.From)},
		{"db", cfg.DBPath.Value, describeSource(cfg.DBPath.Source, cfg.DBPath.From)},
		{"schema", orDefault(cfg.SchemaPath.Value, "built-in material request"), describeSource(cfg.SchemaPath.Source, cfg.SchemaPath.From)},
		{"log level", cfg.LogLevel.Value, describeSource(cfg.LogLevel.Source, cfg.LogLevel.From)},
		{"workers", cfg.Workers.Value, describeSource(cfg.Workers.Source, cfg.Workers.From)},
	}
	for _, r := range rows {
		fmt.Printf("  %-13s %s  (%s)\n", r.name+":", r.v, r.src)
	}

	key := cfg.APIKeyForProvider(cfg.LLM.Value)
	if key.Value != "" {
		fmt.Printf("  %-13s set  (%s)\n", "api key:", describeSource(key.Source, key.From))
	} else {
		fmt.Printf("  %-13s not set\n", "api key:")
	}
	fmt.Printf("  %-13s high < %d days, medium <= %d days\n", "thresholds:", cfg.Thresholds.HighWithin, cfg.Thresholds.MediumWithin)
	return nil
}

func saveResult(a *app, input, output, provider string, res pipeline.Result) error {
	s, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := store.NewEntry(input, output, provider, res)
	if err != nil {
		return err
	}
	id, err := s.Save(context.Background(), e)
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Saved %s\n", id)
	return nil
}

// --- Output ---

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func formatDecision(d urgency.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  (rule: %s", d.Tier, d.Rule)
	if d.Evidence != "" {
		fmt.Fprintf(&b, ", matched %q", d.Evidence)
	}
	if d.Days != nil {
		fmt.Fprintf(&b, ", %d day(s) away", *d.Days)
	}
	b.WriteString(")")
	return b.String()
}

func outputHistoryTTY(entries []*store.Entry) {
	if len(entries) == 0 {
		fmt.Println("No stored results.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %-6s  %-8s  %d issue(s)  %s\n",
			shortID(e.ID),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			orDefault(e.Urgency, "-"),
			e.Tier,
			e.Issues,
			truncate(e.Input, 60),
		)
	}
}

func outputStatsTTY(st *store.Stats, dbPath string) {
	fmt.Printf("Results:      %d\n", st.Total)
	fmt.Printf("With issues:  %d\n", st.WithIssues)
	fmt.Printf("Database:     %s (%s)\n", dbPath, formatBytes(st.DBSizeBytes))
	if st.Total == 0 {
		return
	}
	fmt.Println("\nBy urgency:")
	for _, k := range sortedKeys(st.ByUrgency) {
		fmt.Printf("  %-8s %d\n", k, st.ByUrgency[k])
	}
	fmt.Println("\nBy recovery tier:")
	for _, k := range sortedKeys(st.ByTier) {
		fmt.Printf("  %-8s %d\n", k, st.ByTier[k])
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describeSource(src config.ValueSource, from string) string {
	if src == "" {
		return "unset"
	}
	if from == "" {
		return string(src)
	}
	return string(src) + ": " + from
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orNone(s string) string { return orDefault(s, "none") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
