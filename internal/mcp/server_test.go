package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/intake/internal/extract"
	"github.com/hurttlocker/intake/internal/llm"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/schema"
	"github.com/hurttlocker/intake/internal/store"
	"github.com/hurttlocker/intake/internal/urgency"
)

func setupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExtractor(t *testing.T) *extract.Extractor {
	t.Helper()
	now := func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	p, err := pipeline.New(schema.MaterialRequest(), pipeline.WithClassifier(urgency.New(urgency.WithClock(now))))
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}
	return extract.New(llm.NewOffline(), p)
}

func newTestServer(t *testing.T, st store.Store) *server.MCPServer {
	t.Helper()
	return NewServer(ServerConfig{Extractor: testExtractor(t), Store: st, Version: "test"})
}

// callTool invokes an MCP tool through the JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func readResource(t *testing.T, srv *server.MCPServer, uri string) string {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params": map[string]interface{}{
			"uri": uri,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatalf("no resource contents for %s", uri)
	}
	return resp.Result.Contents[0].Text
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func decode(t *testing.T, text string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("parsing tool output: %v\n%s", err, text)
	}
	return out
}

func TestNewServer(t *testing.T) {
	if srv := newTestServer(t, nil); srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestExtractToolSavesAndLists(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "intake_extract", map[string]interface{}{
		"text": "Need 200 bags of Ultratech Cement for Project Skyline in Mumbai by 5th March 2024",
		"save": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}

	out := decode(t, getTextContent(t, result))
	rec, _ := out["record"].(map[string]interface{})
	if rec["material_name"] != "Ultratech Cement" || rec["deadline"] != "2024-03-05" || rec["urgency"] != "high" {
		t.Errorf("record: %v", rec)
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("expected saved id, got %v", out)
	}

	saved, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("saved entry: %v", err)
	}
	if saved.Provider != llm.Offline || saved.Urgency != "high" {
		t.Errorf("saved entry: %+v", saved)
	}

	history := callTool(t, srv, "intake_history", map[string]interface{}{"limit": float64(5)})
	var entries []store.Entry
	if err := json.Unmarshal([]byte(getTextContent(t, history)), &entries); err != nil {
		t.Fatalf("parsing history: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Errorf("history: %+v", entries)
	}
}

func TestExtractToolWithoutSave(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	result := callTool(t, srv, "intake_extract", map[string]interface{}{"text": "5 tons of sand"})
	out := decode(t, getTextContent(t, result))
	if _, ok := out["id"]; ok {
		t.Errorf("unsaved result should have no id: %v", out)
	}
	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 {
		t.Errorf("nothing should be stored, got %d", stats.Total)
	}
}

func TestExtractToolErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	if r := callTool(t, srv, "intake_extract", map[string]interface{}{"text": "   "}); !r.IsError {
		t.Error("empty text should be an error")
	}
	if r := callTool(t, srv, "intake_extract", map[string]interface{}{"text": "sand", "save": true}); !r.IsError {
		t.Error("save without a store should be an error")
	}
}

func TestNormalizeTool(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "intake_normalize", map[string]interface{}{
		"output": "Sure:\n```json\n{\"material_name\":\"sand\",\"quantity\":\"3\",\"unit\":\"tons\",\"colour\":\"red\"}\n```",
		"source": "need 3 tons of sand asap",
	})
	out := decode(t, getTextContent(t, result))

	rec, _ := out["record"].(map[string]interface{})
	if rec["quantity"] != 3.0 || rec["urgency"] != "high" {
		t.Errorf("record: %v", rec)
	}
	if _, ok := rec["colour"]; ok {
		t.Error("unknown key should be dropped")
	}
	trace, _ := out["trace"].(map[string]interface{})
	if trace["tier"] != "fenced" {
		t.Errorf("trace tier: %v", trace["tier"])
	}
	if !strings.Contains(getTextContent(t, result), "schema_violation") {
		t.Error("dropped key should be traced")
	}
}

func TestNormalizeToolUnrecoverable(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "intake_normalize", map[string]interface{}{"output": "no json at all"})
	if result.IsError {
		t.Fatal("unrecoverable output is not a tool error")
	}
	rec, _ := decode(t, getTextContent(t, result))["record"].(map[string]interface{})
	if len(rec) != schema.MaterialRequest().Len() || rec["material_name"] != nil {
		t.Errorf("expected a null-filled record, got %v", rec)
	}
}

func TestUrgencyTool(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name     string
		args     map[string]interface{}
		wantTier string
		wantRule string
	}{
		{"keyword", map[string]interface{}{"text": "urgent: rebar"}, "high", "high_keyword"},
		{"near deadline", map[string]interface{}{"text": "rebar", "deadline": "2024-03-05"}, "high", "deadline_high"},
		{"written deadline", map[string]interface{}{"text": "rebar", "deadline": "20 March 2024"}, "medium", "deadline_medium"},
		{"relative phrase", map[string]interface{}{"text": "rebar within 2 weeks"}, "medium", "relative_medium"},
		{"default", map[string]interface{}{"text": "rebar"}, "low", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := decode(t, getTextContent(t, callTool(t, srv, "intake_urgency", tt.args)))
			if out["tier"] != tt.wantTier || out["rule"] != tt.wantRule {
				t.Errorf("got %v", out)
			}
		})
	}
}

func TestUrgencyToolInvalidDeadline(t *testing.T) {
	srv := newTestServer(t, nil)
	r := callTool(t, srv, "intake_urgency", map[string]interface{}{"text": "rebar", "deadline": "someday"})
	if !r.IsError {
		t.Error("expected error for invalid deadline")
	}
}

func TestHistoryTool(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)

	for _, text := range []string{"urgent rebar", "sand", "cement asap"} {
		r := callTool(t, srv, "intake_extract", map[string]interface{}{"text": text, "save": true})
		if r.IsError {
			t.Fatalf("extract %q: %s", text, getTextContent(t, r))
		}
	}

	var high []store.Entry
	r := callTool(t, srv, "intake_history", map[string]interface{}{"urgency": "high"})
	if err := json.Unmarshal([]byte(getTextContent(t, r)), &high); err != nil {
		t.Fatal(err)
	}
	if len(high) != 2 {
		t.Errorf("expected 2 high entries, got %d", len(high))
	}

	var limited []store.Entry
	r = callTool(t, srv, "intake_history", map[string]interface{}{"limit": float64(1)})
	if err := json.Unmarshal([]byte(getTextContent(t, r)), &limited); err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d entries", len(limited))
	}
}

func TestHistoryToolEmptyAndNoStore(t *testing.T) {
	srv := newTestServer(t, setupTestStore(t))
	if text := getTextContent(t, callTool(t, srv, "intake_history", map[string]interface{}{})); strings.TrimSpace(text) != "[]" {
		t.Errorf("empty history: %q", text)
	}

	if r := callTool(t, newTestServer(t, nil), "intake_history", map[string]interface{}{}); !r.IsError {
		t.Error("history without a store should be an error")
	}
}

func TestSchemaResource(t *testing.T) {
	text := readResource(t, newTestServer(t, nil), "intake://schema")

	var payload struct {
		Fields []schema.Field `json:"fields"`
		Roles  pipeline.Roles `json:"roles"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("parsing schema resource: %v", err)
	}
	if len(payload.Fields) != schema.MaterialRequest().Len() || payload.Fields[0].Name != "material_name" {
		t.Errorf("fields: %+v", payload.Fields)
	}
	if payload.Roles.Urgency != "urgency" || payload.Roles.Deadline != "deadline" {
		t.Errorf("roles: %+v", payload.Roles)
	}
}

func TestStatsResource(t *testing.T) {
	st := setupTestStore(t)
	srv := newTestServer(t, st)
	callTool(t, srv, "intake_extract", map[string]interface{}{"text": "urgent rebar", "save": true})

	var stats store.Stats
	if err := json.Unmarshal([]byte(readResource(t, srv, "intake://stats")), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.Total != 1 || stats.ByUrgency["high"] != 1 {
		t.Errorf("stats: %+v", stats)
	}
}
