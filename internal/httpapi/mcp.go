package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/seonho/gympt/internal/memory"
	"github.com/seonho/gympt/internal/store"
)

// MCPMemory abstracts the long-term lookup for the MCP layer.
type MCPMemory interface {
	LongTermContext(ctx context.Context, owner, question string) memory.ContextResult
}

// MCPPlanStore is the slice of the store the MCP tools read.
type MCPPlanStore interface {
	WorkoutPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]store.WorkoutPlan, error)
	DietPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]store.DietPlan, error)
	RecentTurns(ctx context.Context, owner string, limit int) ([]store.Turn, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory MCPMemory
	Store  MCPPlanStore
}

// NewMCPServer creates an MCP server exposing the coach's memory and
// plan data to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"gympt",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("gympt fitness coaching memory: past conversations and workout/diet plans."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_memory",
			mcp.WithDescription("Search a user's past coaching conversations and return the most relevant question/answer pairs."),
			mcp.WithString("user_id", mcp.Description("User whose history to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
		),
		mcpSearchMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_plans",
			mcp.WithDescription("Fetch a user's workout and diet plans for a date range."),
			mcp.WithString("user_id", mcp.Description("Plan owner"), mcp.Required()),
			mcp.WithString("start_date", mcp.Description("Range start, YYYY-MM-DD"), mcp.Required()),
			mcp.WithString("end_date", mcp.Description("Range end, YYYY-MM-DD"), mcp.Required()),
		),
		mcpGetPlans(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_history",
			mcp.WithDescription("Return a user's most recent conversation turns."),
			mcp.WithString("user_id", mcp.Description("User whose history to read"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum turns to return (default 10)")),
		),
		mcpRecentHistory(deps),
	)

	return s
}

func mcpSearchMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		result := deps.Memory.LongTermContext(ctx, userID, query)

		type pairResult struct {
			Question   string `json:"question"`
			Answer     string `json:"answer"`
			AskedAt    string `json:"asked_at,omitempty"`
			AnsweredAt string `json:"answered_at,omitempty"`
		}
		pairs := make([]pairResult, len(result.Pairs))
		for i, p := range result.Pairs {
			pairs[i] = pairResult{
				Question:   p.Question,
				Answer:     p.Answer,
				AskedAt:    formatMCPTime(p.AskedAt),
				AnsweredAt: formatMCPTime(p.AnsweredAt),
			}
		}

		b, err := json.Marshal(map[string]any{
			"kind":  result.Kind.String(),
			"pairs": pairs,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPlans(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		startDate, err := req.RequireString("start_date")
		if err != nil {
			return mcpError("start_date is required"), nil
		}
		endDate, err := req.RequireString("end_date")
		if err != nil {
			return mcpError("end_date is required"), nil
		}
		if !validDate(startDate) || !validDate(endDate) {
			return mcpError("dates must be YYYY-MM-DD"), nil
		}

		workouts, err := deps.Store.WorkoutPlansByRange(ctx, userID, startDate, endDate)
		if err != nil {
			return mcpError(fmt.Sprintf("loading workout plans: %v", err)), nil
		}
		diets, err := deps.Store.DietPlansByRange(ctx, userID, startDate, endDate)
		if err != nil {
			return mcpError(fmt.Sprintf("loading diet plans: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"workout_plans": workouts,
			"diet_plans":    diets,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plans: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		turns, err := deps.Store.RecentTurns(ctx, userID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("loading history: %v", err)), nil
		}

		type turnResult struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at,omitempty"`
		}
		results := make([]turnResult, len(turns))
		for i, t := range turns {
			results[i] = turnResult{
				Role:      t.Role,
				Content:   t.Content,
				CreatedAt: formatMCPTime(t.CreatedAt),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func formatMCPTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
