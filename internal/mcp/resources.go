package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/intake/internal/pipeline"
	"github.com/hurttlocker/intake/internal/schema"
	"github.com/hurttlocker/intake/internal/store"
)

func registerSchemaResource(s *server.MCPServer, p *pipeline.Pipeline) {
	resource := mcp.NewResource(
		"intake://schema",
		"Record Schema",
		mcp.WithResourceDescription("The field definitions every extracted record conforms to, plus the fields used for urgency and deadline."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		payload := struct {
			Fields []schema.Field `json:"fields"`
			Roles  pipeline.Roles `json:"roles"`
		}{
			Fields: p.Schema().Fields(),
			Roles:  p.Roles(),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"intake://stats",
		"Result Statistics",
		mcp.WithResourceDescription("Counts of stored results by urgency tier and recovery tier, and how many carry issues."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if st == nil {
			return nil, errNoStore
		}

		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
