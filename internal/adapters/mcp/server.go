package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

const serverName = "equity-lens"

// Tools exposes the reviewer and analyst workflows to MCP clients. Every tool
// is scoped to owner_id the same way the HTTP surface scopes X-User-Id.
type Tools struct {
	projects   ports.ProjectService
	insights   ports.InsightCurator
	equityRisk ports.EquityRiskAnalyzer
	logger     *slog.Logger
}

func NewTools(
	projects ports.ProjectService,
	insights ports.InsightCurator,
	equityRisk ports.EquityRiskAnalyzer,
	logger *slog.Logger,
) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{
		projects:   projects,
		insights:   insights,
		equityRisk: equityRisk,
		logger:     logger,
	}
}

func (t *Tools) Server(version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	ownerArg := mcp.WithString("owner_id", mcp.Required(), mcp.Description("Planner identity that owns the project"))
	projectArg := mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier"))

	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List the planning projects owned by a planner."),
		ownerArg,
	), t.listProjects)

	s.AddTool(mcp.NewTool("list_insights",
		mcp.WithDescription("List extracted community insights for a project, optionally filtered by review status or source file."),
		ownerArg,
		projectArg,
		mcp.WithString("status", mcp.Enum("pending", "accepted", "rejected"), mcp.Description("Review status filter")),
		mcp.WithString("file_id", mcp.Description("Source file filter")),
	), t.listInsights)

	s.AddTool(mcp.NewTool("review_insight",
		mcp.WithDescription("Accept or reject a pending insight. Only accepted insights feed equity-risk analysis."),
		ownerArg,
		projectArg,
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight identifier")),
		mcp.WithString("status", mcp.Required(), mcp.Enum("accepted", "rejected"), mcp.Description("Review decision")),
	), t.reviewInsight)

	s.AddTool(mcp.NewTool("equity_risk_context",
		mcp.WithDescription("Show the accepted insights and geospatial layers an equity-risk assessment would use."),
		ownerArg,
		projectArg,
	), t.equityRiskContext)

	s.AddTool(mcp.NewTool("assess_equity_risk",
		mcp.WithDescription("Assess the equity risks of a policy proposal against a project's accepted community insights and geospatial layers."),
		ownerArg,
		projectArg,
		mcp.WithString("policy_text", mcp.Required(), mcp.Description("Policy proposal to assess")),
	), t.assessEquityRisk)

	return s
}

func (t *Tools) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	projects, err := t.projects.ListProjects(ctx, ownerID)
	if err != nil {
		return t.toolError("list_projects", err), nil
	}
	return jsonResult(map[string]any{"projects": projects})
}

func (t *Tools) listInsights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, failure := t.ownedProject(ctx, "list_insights", req)
	if failure != nil {
		return failure, nil
	}
	filter := domain.InsightFilter{FileID: strings.TrimSpace(req.GetString("file_id", ""))}
	if raw := req.GetString("status", ""); raw != "" {
		status, err := domain.ParseReviewStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = status
	}
	insights, err := t.insights.ListInsights(ctx, project.ID, filter)
	if err != nil {
		return t.toolError("list_insights", err), nil
	}
	return jsonResult(map[string]any{"insights": insights})
}

func (t *Tools) reviewInsight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, failure := t.ownedProject(ctx, "review_insight", req)
	if failure != nil {
		return failure, nil
	}
	insightID, err := req.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawStatus, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := domain.ParseReviewStatus(rawStatus)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	insight, err := t.insights.SetReviewStatus(ctx, ports.ReviewRequest{
		ProjectID:  project.ID,
		InsightID:  insightID,
		Status:     status,
		ReviewerID: project.OwnerID,
	})
	if err != nil {
		return t.toolError("review_insight", err), nil
	}
	return jsonResult(insight)
}

func (t *Tools) equityRiskContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, failure := t.ownedProject(ctx, "equity_risk_context", req)
	if failure != nil {
		return failure, nil
	}
	assembled, err := t.equityRisk.AssembleContext(ctx, project.ID)
	if err != nil {
		return t.toolError("equity_risk_context", err), nil
	}
	return jsonResult(assembled)
}

func (t *Tools) assessEquityRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, failure := t.ownedProject(ctx, "assess_equity_risk", req)
	if failure != nil {
		return failure, nil
	}
	policyText, err := req.RequireString("policy_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := t.equityRisk.Analyze(ctx, project.ID, policyText)
	if err != nil {
		return t.toolError("assess_equity_risk", err), nil
	}
	return jsonResult(report)
}

// ownedProject resolves project_id for owner_id. Projects of other owners
// are reported as not found.
func (t *Tools) ownedProject(ctx context.Context, tool string, req mcp.CallToolRequest) (*domain.Project, *mcp.CallToolResult) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	project, err := t.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, t.toolError(tool, err)
	}
	if project.OwnerID != ownerID {
		return nil, mcp.NewToolResultError(domain.ErrProjectNotFound.Error())
	}
	return project, nil
}

// toolError reports caller-facing failures verbatim and hides the rest.
func (t *Tools) toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsNotFound(err),
		domain.IsKind(err, domain.ErrInvalidTransition),
		domain.IsKind(err, domain.ErrAnalysisUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return mcp.NewToolResultError(err.Error())
	}
	t.logger.Error("mcp_tool_error", "tool", tool, "error", err)
	return mcp.NewToolResultError("internal error")
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}
