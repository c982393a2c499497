// Package pipeline turns raw model output into a schema-conformant record:
// recover a candidate, enforce the schema, normalize dates, then classify
// urgency. Every step is total, so Run and Process never fail.
package pipeline

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hurttlocker/intake/internal/dates"
	"github.com/hurttlocker/intake/internal/enforce"
	"github.com/hurttlocker/intake/internal/record"
	"github.com/hurttlocker/intake/internal/recovery"
	"github.com/hurttlocker/intake/internal/schema"
	"github.com/hurttlocker/intake/internal/urgency"
)

// IssueKind classifies a non-fatal problem seen during a run.
type IssueKind string

const (
	IssueRecoveryMiss    IssueKind = "recovery_miss"
	IssueTypeCoercion    IssueKind = "type_coercion_failure"
	IssueDateInvalid     IssueKind = "date_invalid"
	IssueDateAmbiguous   IssueKind = "date_ambiguous"
	IssueDateConflict    IssueKind = "date_conflict"
	IssueSchemaViolation IssueKind = "schema_violation"
)

// Issue is one entry in a Trace.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Field  string    `json:"field,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Trace records how a record was produced. It is for audit only; the record
// is valid whatever the trace says.
type Trace struct {
	Tier    string            `json:"tier"`
	Issues  []Issue           `json:"issues,omitempty"`
	Urgency *urgency.Decision `json:"urgency,omitempty"`
	Roles   Roles             `json:"roles"`
}

// Count returns how many issues of kind k were recorded.
func (t Trace) Count(k IssueKind) int {
	n := 0
	for _, is := range t.Issues {
		if is.Kind == k {
			n++
		}
	}
	return n
}

// Input is one request. Output is the raw model output; Text is the original
// request text, which urgency and date checks prefer when it is set.
type Input struct {
	Text   string
	Output string
}

// Result is a record plus its trace.
type Result struct {
	Record record.Record `json:"record"`
	Trace  Trace         `json:"trace"`
}

// Pipeline is immutable after New and safe for concurrent use.
type Pipeline struct {
	schema     schema.Schema
	roles      Roles
	classifier *urgency.Classifier
	strategies []recovery.Strategy
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier sets the urgency classifier.
func WithClassifier(c *urgency.Classifier) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.classifier = c
		}
	}
}

// WithRoles overrides detected roles. Empty names keep the detected field.
func WithRoles(r Roles) Option {
	return func(p *Pipeline) {
		if r.Urgency != "" {
			p.roles.Urgency = r.Urgency
		}
		if r.Deadline != "" {
			p.roles.Deadline = r.Deadline
		}
	}
}

// WithStrategies replaces the recovery tiers.
func WithStrategies(s []recovery.Strategy) Option {
	return func(p *Pipeline) {
		if len(s) > 0 {
			p.strategies = s
		}
	}
}

// WithLogger sets the logger used for per-run debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates s and builds a pipeline for it.
func New(s schema.Schema, opts ...Option) (*Pipeline, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		schema:     s,
		roles:      DetectRoles(s),
		classifier: urgency.New(),
		strategies: recovery.DefaultStrategies(),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.roles.validate(s); err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidSchema, err)
	}
	return p, nil
}

// Schema returns the pipeline's schema.
func (p *Pipeline) Schema() schema.Schema { return p.schema }

// Roles returns the resolved field roles.
func (p *Pipeline) Roles() Roles { return p.roles }

// Classifier returns the urgency classifier.
func (p *Pipeline) Classifier() *urgency.Classifier { return p.classifier }

// Run normalizes raw model output. Urgency is scanned over raw itself.
func (p *Pipeline) Run(raw string) record.Record {
	return p.Process(Input{Output: raw}).Record
}

// Process normalizes in.Output, using in.Text as the source for urgency
// keywords and date cross-checks. With request text the deadline must be a
// date the text states. Without it, keywords are scanned over the output with
// its object keys removed.
func (p *Pipeline) Process(in Input) Result {
	stated := strings.TrimSpace(in.Text) != ""
	source, keywords := in.Text, in.Text
	if !stated {
		source, keywords = in.Output, stripKeys(in.Output)
	}

	cand, tier := recovery.Run(in.Output, p.strategies)
	tr := Trace{Tier: tier, Roles: p.roles}
	if len(cand) == 0 {
		tr.Issues = append(tr.Issues, Issue{Kind: IssueRecoveryMiss, Detail: "no structured value recovered"})
	}

	rec, rep := enforce.EnforceReport(cand, p.schema)
	for _, k := range rep.Dropped {
		tr.Issues = append(tr.Issues, Issue{Kind: IssueSchemaViolation, Field: k, Detail: "unknown field dropped"})
	}
	for _, name := range rep.Nulled {
		tr.Issues = append(tr.Issues, Issue{Kind: IssueTypeCoercion, Field: name, Detail: fmt.Sprintf("value %v not coercible", cand[name])})
	}

	rec = p.normalizeDates(rec, source, stated, &tr)

	if p.roles.Urgency != "" {
		rec = p.classify(rec, keywords, &tr)
	}

	p.logger.Debug("pipeline run",
		"tier", tr.Tier,
		"candidate", cand.Compact(),
		"issues", len(tr.Issues),
		"urgency", urgencyTier(tr.Urgency),
	)
	return Result{Record: rec, Trace: tr}
}

func (p *Pipeline) normalizeDates(rec record.Record, source string, stated bool, tr *Trace) record.Record {
	for _, f := range p.schema.Fields() {
		if f.Type != schema.TypeDate {
			continue
		}
		v, _ := rec.Get(f.Name)
		if v == nil {
			continue
		}
		// Only the deadline is cross-checked against the source text.
		iso, st := dates.Check(v)
		switch {
		case f.Name == p.roles.Deadline && stated:
			iso, st = dates.Confirm(v, source)
		case f.Name == p.roles.Deadline:
			iso, st = dates.Resolve(v, source)
		}
		if st == dates.StatusOK {
			rec = rec.With(f.Name, iso)
			continue
		}
		rec = rec.With(f.Name, nil)
		if kind, ok := dateIssue(st); ok {
			tr.Issues = append(tr.Issues, Issue{Kind: kind, Field: f.Name, Detail: fmt.Sprintf("%v", v)})
		}
	}
	return rec
}

func (p *Pipeline) classify(rec record.Record, source string, tr *Trace) record.Record {
	var deadline *time.Time
	if p.roles.Deadline != "" {
		if s, ok := rec.String(p.roles.Deadline); ok {
			if d, ok := dates.Parse(s); ok {
				deadline = &d
			}
		}
	}

	d := p.classifier.Explain(source, deadline)
	tr.Urgency = &d

	f, _ := p.schema.Field(p.roles.Urgency)
	spelled, ok := f.HasEnumValue(string(d.Tier))
	if !ok {
		tr.Issues = append(tr.Issues, Issue{
			Kind:   IssueTypeCoercion,
			Field:  f.Name,
			Detail: fmt.Sprintf("tier %q not in enum domain", d.Tier),
		})
		return rec.With(f.Name, nil)
	}
	return rec.With(f.Name, spelled)
}

// objectKey matches a quoted JSON member name and its colon.
var objectKey = regexp.MustCompile(`"(?:[^"\\]|\\.)*"\s*:`)

// stripKeys blanks the member names in raw model output so field names like
// "priority" do not read as urgency words.
func stripKeys(raw string) string {
	return objectKey.ReplaceAllString(raw, " ")
}

func dateIssue(st dates.Status) (IssueKind, bool) {
	switch st {
	case dates.StatusInvalid:
		return IssueDateInvalid, true
	case dates.StatusAmbiguous:
		return IssueDateAmbiguous, true
	case dates.StatusConflict:
		return IssueDateConflict, true
	}
	return "", false
}

func urgencyTier(d *urgency.Decision) string {
	if d == nil {
		return ""
	}
	return string(d.Tier)
}
