// Package extract runs a request through an LLM provider and the
// normalization pipeline.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hurttlocker/intake/internal/llm"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/recovery"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

const maxTokens = 400

// Outcome is the result of one extraction.
type Outcome struct {
	pipeline.Result
	Input    string `json:"input"`
	Output   string `json:"output"`
	Provider string `json:"provider"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"` // last provider error, if the call degraded
}

// Extractor is safe for concurrent use.
type Extractor struct {
	provider llm.Provider
	pipeline *pipeline.Pipeline
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an extractor.
func New(p llm.Provider, pl *pipeline.Pipeline, opts ...Option) *Extractor {
	e := &Extractor{
		provider: p,
		pipeline: pl,
		timeout:  DefaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Provider returns the provider name.
func (e *Extractor) Provider() string { return e.provider.Name() }

// Pipeline returns the pipeline the extractor feeds.
func (e *Extractor) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Extract asks the provider for a record and normalizes the answer. It never
// fails: provider errors degrade to an empty output, which the pipeline turns
// into an all-null record with urgency still classified from text.
func (e *Extractor) Extract(ctx context.Context, text string) Outcome {
	out, attempts, err := e.complete(ctx, text)
	o := Outcome{
		Result:   e.pipeline.Process(pipeline.Input{Text: text, Output: out}),
		Input:    text,
		Output:   out,
		Provider: e.provider.Name(),
		Attempts: attempts,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// complete makes at most two calls. The second uses a stricter instruction and
// runs only when the first errored, timed out, or held no JSON object.
func (e *Extractor) complete(ctx context.Context, text string) (string, int, error) {
	prompt := BuildPrompt(e.pipeline.Schema(), text)

	out, err := e.call(ctx, prompt, text, systemPrompt)
	if err == nil {
		return out, 1, nil
	}
	if ctx.Err() != nil {
		// The caller gave up; no retry.
		return "", 1, ctx.Err()
	}
	e.logger.Warn("extraction attempt failed, retrying", "provider", e.provider.Name(), "error", errString(err))

	out, err = e.call(ctx, prompt, text, strictSystemPrompt)
	if err != nil {
		e.logger.Warn("extraction failed, using empty output", "provider", e.provider.Name(), "error", err)
		return "", 2, err
	}
	return out, 2, nil
}

var errNoObject = errors.New("response held no JSON object")

func (e *Extractor) call(ctx context.Context, prompt, text, system string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		MaxTokens:   maxTokens,
		Temperature: 0,
		Format:      "json",
		System:      system,
		Input:       text,
	})
	e.logger.Debug("provider call", "provider", e.provider.Name(), "elapsed", time.Since(start), "error", errString(err))
	if err != nil {
		return "", err
	}
	if !recoverable(out) {
		return out, errNoObject
	}
	return out, nil
}

func recoverable(out string) bool {
	_, tier := recovery.RecoverTier(out)
	return tier != recovery.TierNone
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
