// Package mcp provides a Model Context Protocol server for intake.
//
// It exposes extraction, normalization, urgency classification and stored
// history as MCP tools, and the active schema and store statistics as MCP
// resources. The server is served over stdio by the intake CLI.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/intake/internal/dates"
	"github.com/hurttlocker/intake/internal/extract"
	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/store"
	"github.com/hurttlocker/intake/internal/urgency"
)

const maxHistoryLimit = 200

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Extractor *extract.Extractor
	Store     store.Store // optional; history, stats and save need it
	Version   string
}

// dbMu serializes store access. mcp-go dispatches handlers concurrently and
// SQLite allows one writer at a time.
var dbMu sync.Mutex

var errNoStore = errors.New("no result store configured")

// NewServer creates a configured MCP server with all intake tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"intake",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Extractor, cfg.Store)
	registerNormalizeTool(s, cfg.Extractor.Pipeline())
	registerUrgencyTool(s, cfg.Extractor.Pipeline().Classifier())
	registerHistoryTool(s, cfg.Store)

	registerSchemaResource(s, cfg.Extractor.Pipeline())
	registerStatsResource(s, cfg.Store)

	return s
}

// --- Tools ---

type extractResult struct {
	extract.Outcome
	ID string `json:"id,omitempty"`
}

func registerExtractTool(s *server.MCPServer, ex *extract.Extractor, st store.Store) {
	tool := mcp.NewTool("intake_extract",
		mcp.WithDescription("Extract a structured record from a free-text material request. Calls the configured LLM provider, repairs its output against the schema, normalizes dates and classifies urgency."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The request text, e.g. 'Need 50 bags of cement at site B by Friday'"),
		),
		mcp.WithBoolean("save",
			mcp.Description("Persist the result in the result store (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		text = strings.ReplaceAll(text, "\x00", "")
		if strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text cannot be empty"), nil
		}

		out := extractResult{Outcome: ex.Extract(ctx, text)}

		if save, err := req.RequireBool("save"); err == nil && save {
			if st == nil {
				return mcp.NewToolResultError(errNoStore.Error()), nil
			}
			e, err := store.NewEntry(out.Input, out.Output, out.Provider, out.Result)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
			}
			dbMu.Lock()
			id, err := st.Save(ctx, e)
			dbMu.Unlock()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("saving result: %v", err)), nil
			}
			out.ID = id
		}

		return jsonResult(out)
	})
}

func registerNormalizeTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("intake_normalize",
		mcp.WithDescription("Normalize raw model output into a schema-conformant record without calling an LLM. Pass the original request as source so urgency keywords and date cross-checks use it."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("output",
			mcp.Required(),
			mcp.Description("Raw model output; may contain prose, code fences or broken JSON"),
		),
		mcp.WithString("source",
			mcp.Description("Original request text (optional)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := req.RequireString("output")
		if err != nil {
			return mcp.NewToolResultError("output is required"), nil
		}
		source := ""
		if v, err := req.RequireString("source"); err == nil {
			source = v
		}

		return jsonResult(p.Process(pipeline.Input{Text: source, Output: output}))
	})
}

func registerUrgencyTool(s *server.MCPServer, c *urgency.Classifier) {
	tool := mcp.NewTool("intake_urgency",
		mcp.WithDescription("Classify the urgency of a request as high, medium or low and report which rule decided it."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Request text to scan for urgency keywords and relative time phrases"),
		),
		mcp.WithString("deadline",
			mcp.Description("Optional deadline, e.g. 2024-03-15 or '15 March 2024'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		var deadline *time.Time
		if raw, err := req.RequireString("deadline"); err == nil && strings.TrimSpace(raw) != "" {
			d, err := parseDeadline(raw)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			deadline = &d
		}

		return jsonResult(c.Explain(text, deadline))
	})
}

func registerHistoryTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("intake_history",
		mcp.WithDescription("List stored extraction results, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 20, max: 200)"),
		),
		mcp.WithString("urgency",
			mcp.Description("Only return results with this urgency tier"),
			mcp.Enum("high", "medium", "low"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if st == nil {
			return mcp.NewToolResultError(errNoStore.Error()), nil
		}

		opts := store.ListOpts{Limit: 20}
		if limitVal, err := req.RequireFloat("limit"); err == nil && limitVal > 0 {
			opts.Limit = min(int(limitVal), maxHistoryLimit)
		}
		if u, err := req.RequireString("urgency"); err == nil && u != "" {
			tier, err := urgency.ParseTier(u)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opts.Urgency = string(tier)
		}

		dbMu.Lock()
		entries, err := st.List(ctx, opts)
		dbMu.Unlock()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing results: %v", err)), nil
		}
		if entries == nil {
			entries = []*store.Entry{}
		}
		return jsonResult(entries)
	})
}

// parseDeadline accepts any date form the normalizer accepts.
func parseDeadline(raw string) (time.Time, error) {
	iso, ok := dates.Normalize(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid deadline %q", raw)
	}
	d, ok := dates.Parse(iso)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid deadline %q", raw)
	}
	return d, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
