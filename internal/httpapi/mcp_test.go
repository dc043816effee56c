package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/seonho/gympt/internal/memory"
	"github.com/seonho/gympt/internal/store"
)

type mockMCPMemory struct {
	result memory.ContextResult
}

func (m *mockMCPMemory) LongTermContext(_ context.Context, _, _ string) memory.ContextResult {
	return m.result
}

type mockMCPStore struct {
	workouts []store.WorkoutPlan
	diets    []store.DietPlan
	turns    []store.Turn
	err      error

	gotLimit int
}

func (m *mockMCPStore) WorkoutPlansByRange(_ context.Context, _, _, _ string) ([]store.WorkoutPlan, error) {
	return m.workouts, m.err
}

func (m *mockMCPStore) DietPlansByRange(_ context.Context, _, _, _ string) ([]store.DietPlan, error) {
	return m.diets, m.err
}

func (m *mockMCPStore) RecentTurns(_ context.Context, _ string, limit int) ([]store.Turn, error) {
	m.gotLimit = limit
	return m.turns, m.err
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestMCPTool_SearchMemory(t *testing.T) {
	asked := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	deps := MCPDeps{
		Memory: &mockMCPMemory{result: memory.ContextResult{
			Kind: memory.ContextFound,
			Pairs: []memory.ContextPair{
				{Question: "스쿼트 자세 알려줘", Answer: "허리를 곧게 펴세요", AskedAt: asked, AnsweredAt: asked.Add(time.Second)},
			},
		}},
		Store: &mockMCPStore{},
	}
	handler := mcpSearchMemory(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_memory", map[string]interface{}{
		"user_id": "u1",
		"query":   "스쿼트",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var parsed struct {
		Kind  string `json:"kind"`
		Pairs []struct {
			Question string `json:"question"`
			Answer   string `json:"answer"`
			AskedAt  string `json:"asked_at"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if parsed.Kind != "found" {
		t.Errorf("kind = %q", parsed.Kind)
	}
	if len(parsed.Pairs) != 1 || parsed.Pairs[0].Answer != "허리를 곧게 펴세요" {
		t.Errorf("pairs = %+v", parsed.Pairs)
	}
	if parsed.Pairs[0].AskedAt != asked.Format(time.RFC3339) {
		t.Errorf("asked_at = %q", parsed.Pairs[0].AskedAt)
	}
}

func TestMCPTool_SearchMemory_MissingArgs(t *testing.T) {
	deps := MCPDeps{Memory: &mockMCPMemory{}, Store: &mockMCPStore{}}
	handler := mcpSearchMemory(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_memory", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when query is missing")
	}
}

func TestMCPTool_GetPlans(t *testing.T) {
	deps := MCPDeps{
		Memory: &mockMCPMemory{},
		Store: &mockMCPStore{
			workouts: []store.WorkoutPlan{{Owner: "u1", PlanDate: "2026-09-01", ExerciseName: "백스쿼트"}},
			diets:    []store.DietPlan{{Owner: "u1", PlanDate: "2026-09-01", MealType: "lunch", FoodName: "닭가슴살"}},
		},
	}
	handler := mcpGetPlans(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_plans", map[string]interface{}{
		"user_id":    "u1",
		"start_date": "2026-09-01",
		"end_date":   "2026-09-07",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var parsed struct {
		WorkoutPlans []json.RawMessage `json:"workout_plans"`
		DietPlans    []json.RawMessage `json:"diet_plans"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(parsed.WorkoutPlans) != 1 || len(parsed.DietPlans) != 1 {
		t.Errorf("plans = %d workout, %d diet", len(parsed.WorkoutPlans), len(parsed.DietPlans))
	}
}

func TestMCPTool_GetPlans_BadDates(t *testing.T) {
	deps := MCPDeps{Memory: &mockMCPMemory{}, Store: &mockMCPStore{}}
	handler := mcpGetPlans(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_plans", map[string]interface{}{
		"user_id":    "u1",
		"start_date": "sep 1",
		"end_date":   "2026-09-07",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for malformed dates")
	}
}

func TestMCPTool_RecentHistory(t *testing.T) {
	st := &mockMCPStore{turns: []store.Turn{
		{Role: store.RoleUser, Content: "스쿼트 루틴"},
		{Role: store.RoleAssistant, Content: "3x8 추천"},
	}}
	handler := mcpRecentHistory(MCPDeps{Memory: &mockMCPMemory{}, Store: st})

	result, err := handler(context.Background(), makeCallToolRequest("recent_history", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if st.gotLimit != 10 {
		t.Errorf("default limit = %d, want 10", st.gotLimit)
	}

	var turns []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &turns); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(turns) != 2 || turns[1].Role != store.RoleAssistant {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMCPTool_RecentHistory_LimitCapped(t *testing.T) {
	st := &mockMCPStore{}
	handler := mcpRecentHistory(MCPDeps{Memory: &mockMCPMemory{}, Store: st})

	if _, err := handler(context.Background(), makeCallToolRequest("recent_history", map[string]interface{}{
		"user_id": "u1",
		"limit":   500,
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.gotLimit != 50 {
		t.Errorf("limit = %d, want capped at 50", st.gotLimit)
	}
}

func TestMCPTool_RecentHistory_StoreError(t *testing.T) {
	handler := mcpRecentHistory(MCPDeps{
		Memory: &mockMCPMemory{},
		Store:  &mockMCPStore{err: errors.New("db closed")},
	})

	result, err := handler(context.Background(), makeCallToolRequest("recent_history", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when store fails")
	}
}
