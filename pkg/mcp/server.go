package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spawn-mcp/research-pipeline/pkg/orchestrator"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Service is the orchestrator surface exposed as MCP tools
type Service interface {
	Create(ctx context.Context, req types.ResearchRequest, mode orchestrator.Mode) (*types.ResearchTask, error)
	Get(ctx context.Context, id string) (*types.ResearchTask, error)
	Status(ctx context.Context, id string) (*orchestrator.StatusReport, error)
	Outline(ctx context.Context, id string) (*types.Outline, error)
	List(ctx context.Context) ([]types.TaskSummary, error)
	ResumeForEdit(ctx context.Context, id string) (*types.ResearchTask, error)
	Cost(ctx context.Context, id string) (types.CostSummary, error)
}

// MCPServer exposes the research pipeline over the MCP protocol
type MCPServer struct {
	svc       Service
	mcpServer *server.MCPServer
}

// NewMCPServer creates a new MCP server backed by svc
func NewMCPServer(svc Service) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Research Pipeline",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &MCPServer{
		svc:       svc,
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s
}

func (s *MCPServer) registerTools() {
	startResearch := mcp.NewTool("start_research",
		mcp.WithDescription("Start a research task in the background and return its id"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language research question"),
		),
		mcp.WithString("topic", mcp.Description("Topic override")),
		mcp.WithString("scope", mcp.Description("Scope override")),
		mcp.WithString("target_audience", mcp.Description("Audience override")),
		mcp.WithString("mode",
			mcp.Description("basic stops after section research, complete also edits and publishes"),
			mcp.DefaultString(string(orchestrator.ModeComplete)),
			mcp.Enum(string(orchestrator.ModeBasic), string(orchestrator.ModeComplete)),
		),
	)
	s.mcpServer.AddTool(startResearch, s.handleStartResearch)

	status := mcp.NewTool("research_status",
		mcp.WithDescription("Get the status and progress of a research task"),
		mcp.WithString("research_id", mcp.Required()),
	)
	s.mcpServer.AddTool(status, s.handleStatus)

	outline := mcp.NewTool("research_outline",
		mcp.WithDescription("Get the outline of a research task"),
		mcp.WithString("research_id", mcp.Required()),
	)
	s.mcpServer.AddTool(outline, s.handleOutline)

	result := mcp.NewTool("research_result",
		mcp.WithDescription("Get the full research task including its final document"),
		mcp.WithString("research_id", mcp.Required()),
	)
	s.mcpServer.AddTool(result, s.handleResult)

	cost := mcp.NewTool("research_cost",
		mcp.WithDescription("Get the LLM and search spend of a research task"),
		mcp.WithString("research_id", mcp.Required()),
	)
	s.mcpServer.AddTool(cost, s.handleCost)

	editOnly := mcp.NewTool("edit_only",
		mcp.WithDescription("Re-run editing and publishing for a task whose sections are researched"),
		mcp.WithString("research_id", mcp.Required()),
	)
	s.mcpServer.AddTool(editOnly, s.handleEditOnly)

	list := mcp.NewTool("list_research",
		mcp.WithDescription("List all research tasks, newest first"),
	)
	s.mcpServer.AddTool(list, s.handleList)
}

func (s *MCPServer) handleStartResearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid query: %v", err)), nil
	}
	req := types.ResearchRequest{
		Query:          query,
		Topic:          request.GetString("topic", ""),
		Scope:          request.GetString("scope", ""),
		TargetAudience: request.GetString("target_audience", ""),
	}
	mode := orchestrator.Mode(request.GetString("mode", string(orchestrator.ModeComplete)))

	task, err := s.svc.Create(ctx, req, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start research: %v", err)), nil
	}
	log.Printf("Started research %s via MCP (%s)", task.ID, mode)
	return mcp.NewToolResultText(fmt.Sprintf("Started research %s (%s run). Poll research_status for progress.", task.ID, mode)), nil
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("research_id")
	if err != nil {
		return mcp.NewToolResultError("research_id required"), nil
	}
	report, err := s.svc.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *MCPServer) handleOutline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("research_id")
	if err != nil {
		return mcp.NewToolResultError("research_id required"), nil
	}
	outline, err := s.svc.Outline(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(outline)
}

func (s *MCPServer) handleResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("research_id")
	if err != nil {
		return mcp.NewToolResultError("research_id required"), nil
	}
	task, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(task)
}

func (s *MCPServer) handleCost(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("research_id")
	if err != nil {
		return mcp.NewToolResultError("research_id required"), nil
	}
	summary, err := s.svc.Cost(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summary)
}

func (s *MCPServer) handleEditOnly(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("research_id")
	if err != nil {
		return mcp.NewToolResultError("research_id required"), nil
	}
	task, err := s.svc.ResumeForEdit(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Research %s is %s; editing runs in the background.", task.ID, task.Status)), nil
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.svc.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No research tasks found"), nil
	}

	result := "Research Tasks:\n"
	for _, t := range tasks {
		result += fmt.Sprintf("- ID: %s, Status: %s, Phase: %s, Created: %s, Query: %s\n",
			t.ID, t.Status, t.Phase, t.CreatedAt.Format("2006-01-02 15:04:05"), t.Query)
	}
	return mcp.NewToolResultText(result), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// Start serves the MCP protocol over stdio until the client disconnects
func (s *MCPServer) Start(ctx context.Context) error {
	log.Println("Starting MCP server...")
	return server.ServeStdio(s.mcpServer)
}
