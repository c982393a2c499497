package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/schema"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(t *testing.T, input, output string) *Entry {
	t.Helper()
	p, err := pipeline.New(schema.MaterialRequest())
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEntry(input, output, "offline", p.Process(pipeline.Input{Text: input, Output: output}))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewStoreMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "intake.db")
	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s.Save(context.Background(), testEntry(t, "urgent sand", `{"material_name":"sand"}`)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	done, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil || !done {
		t.Errorf("bootstrap flag: %v %v", done, err)
	}
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.DBSizeBytes == 0 {
		t.Errorf("stats after reopen: %+v", st)
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEntry(t, "need 50 bags of cement urgently", `{"material_name":"cement","quantity":50,"unit":"bags","junk":1}`)
	id, err := s.Save(ctx, e)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" || e.ID != id || e.CreatedAt.IsZero() {
		t.Fatalf("save should assign id and time: %+v", e)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Input != e.Input || got.Output != e.Output || got.Provider != "offline" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Urgency != "high" || got.Tier != "direct" || got.Issues != 1 {
		t.Errorf("summary columns: urgency=%q tier=%q issues=%d", got.Urgency, got.Tier, got.Issues)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("created_at: got %v want %v", got.CreatedAt, e.CreatedAt)
	}

	var rec map[string]any
	if err := json.Unmarshal(got.Record, &rec); err != nil {
		t.Fatalf("record json: %v", err)
	}
	if rec["material_name"] != "cement" || rec["quantity"] != 50.0 {
		t.Errorf("record: %v", rec)
	}
	if _, ok := rec["junk"]; ok {
		t.Error("stored record should not contain dropped keys")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(context.Background(), nil); err == nil {
		t.Error("expected error for nil entry")
	}
	if _, err := s.Save(context.Background(), &Entry{}); err == nil {
		t.Error("expected error for entry without record")
	}
}

func TestListOrderPaginationAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	inputs := []string{"urgent rebar", "sand", "urgent cement", "bricks soon", "gravel"}
	for i, in := range inputs {
		e := testEntry(t, in, `{}`)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := s.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].Input != "gravel" || all[4].Input != "urgent rebar" {
		t.Fatalf("order: %v", inputsOf(all))
	}

	page, err := s.List(ctx, ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(inputsOf(page)) != "[bricks soon urgent cement]" {
		t.Errorf("page: %v", inputsOf(page))
	}

	high, err := s.List(ctx, ListOpts{Urgency: "HIGH"})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(inputsOf(high)) != "[urgent cement urgent rebar]" {
		t.Errorf("high filter: %v", inputsOf(high))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []*Entry{
		testEntry(t, "urgent", `{"material_name":"a"}`),
		testEntry(t, "soon", "```json\n{\"material_name\":\"b\"}\n```"),
		testEntry(t, "whenever", "no json here"),
	} {
		if _, err := s.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 {
		t.Errorf("total: %d", st.Total)
	}
	if st.ByUrgency["high"] != 1 || st.ByUrgency["medium"] != 1 || st.ByUrgency["low"] != 1 {
		t.Errorf("by urgency: %v", st.ByUrgency)
	}
	if st.ByTier["direct"] != 1 || st.ByTier["fenced"] != 1 || st.ByTier["none"] != 1 {
		t.Errorf("by tier: %v", st.ByTier)
	}
	if st.WithIssues != 1 {
		t.Errorf("with issues: %d", st.WithIssues)
	}
}

func TestStatsEmpty(t *testing.T) {
	st, err := newTestStore(t).Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 0 || st.WithIssues != 0 || len(st.ByUrgency) != 0 {
		t.Errorf("empty stats: %+v", st)
	}
}

func inputsOf(es []*Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Input
	}
	return out
}
