// Package batch runs many requests through an extractor with a bounded
// worker pool.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/intake/internal/extract"
	"github.com/hurttlocker/intake/internal/store"
)

// DefaultWorkers is used when no positive worker count is configured.
const DefaultWorkers = 4

const maxLineBytes = 1 << 20

// ErrNoInputs is returned when an input file holds no requests.
var ErrNoInputs = errors.New("no inputs")

// Saver persists extraction results. *store.SQLiteStore satisfies it.
type Saver interface {
	Save(ctx context.Context, e *store.Entry) (string, error)
}

// Runner fans requests out to an extractor.
type Runner struct {
	extractor *extract.Extractor
	workers   int
	saver     Saver
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithSaver stores every outcome after the batch finishes.
func WithSaver(s Saver) Option {
	return func(r *Runner) { r.saver = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(e *extract.Extractor, opts ...Option) *Runner {
	r := &Runner{
		extractor: e,
		workers:   DefaultWorkers,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReadInputs returns one request per non-blank line. Lines starting with
// '#' are comments.
func ReadInputs(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading inputs: %w", err)
	}
	return out, nil
}

// Run extracts every input and returns outcomes in input order. Extraction
// itself never fails; Run only returns an error when ctx is cancelled or a
// save fails.
func (r *Runner) Run(ctx context.Context, inputs []string) ([]extract.Outcome, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	start := time.Now()
	out := make([]extract.Outcome, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(r.workers, len(inputs)))

	for i := range inputs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out[i] = r.extractor.Extract(gctx, inputs[i])
			r.logger.DebugContext(gctx, "batch item done",
				"index", i,
				"attempts", out[i].Attempts,
				"issues", len(out[i].Trace.Issues),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	if r.saver != nil {
		for i := range out {
			e, err := store.NewEntry(out[i].Input, out[i].Output, out[i].Provider, out[i].Result)
			if err != nil {
				return out, fmt.Errorf("batch item %d: %w", i+1, err)
			}
			if _, err := r.saver.Save(ctx, e); err != nil {
				return out, fmt.Errorf("batch item %d: saving: %w", i+1, err)
			}
		}
	}

	r.logger.InfoContext(ctx, "batch complete",
		"items", len(out),
		"workers", workerCount(r.workers, len(inputs)),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return out, nil
}

func workerCount(configured, items int) int {
	if configured < 1 {
		configured = DefaultWorkers
	}
	return min(configured, items)
}

// WriteJSON writes outcomes as an indented JSON array. Each element is the
// record followed by "_input" and, when the provider call degraded, "_error".
func WriteJSON(w io.Writer, outcomes []extract.Outcome) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, o := range outcomes {
		if i > 0 {
			buf.WriteByte(',')
		}
		keys := []string{"_input"}
		extra := map[string]any{"_input": o.Input}
		if o.Error != "" {
			keys = append(keys, "_error")
			extra["_error"] = o.Error
		}
		b, err := o.Record.AppendJSON(keys, extra)
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err := w.Write(pretty.Bytes())
	return err
}
