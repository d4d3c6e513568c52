package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/zeus-ia/zeus/internal/model"
)

const (
	agentsURI           = "zeus://agents"
	recentActivitiesURI = "zeus://activities/recent"
)

func (s *Server) registerResources() {
	// zeus://agents: the personas that can be addressed.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			agentsURI,
			"Agents",
			mcplib.WithResourceDescription("Registered ZEUS agents"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgents,
	)

	// zeus://activities/recent: latest activities of the caller's company.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentActivitiesURI,
			"Recent Activities",
			mcplib.WithResourceDescription("Most recent agent activities for your company"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentActivities,
	)
}

func (s *Server) handleAgents(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(agentsURI, map[string]any{"agents": s.agents.Names()})
}

func (s *Server) handleRecentActivities(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	list, err := s.activities.List(ctx, model.ActivityFilter{UserEmail: companyID(ctx), Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent activities: %w", err)
	}
	return jsonResource(recentActivitiesURI, map[string]any{
		"activities": list,
		"total":      len(list),
	})
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
