package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seonho/gympt/internal/llm"
	"github.com/seonho/gympt/internal/memory"
	"github.com/seonho/gympt/internal/rerank"
	"github.com/seonho/gympt/internal/retrieval"
	"github.com/seonho/gympt/internal/store"
)

// mockLLM serves both the gate (Chat) and generation (ChatStream).
type mockLLM struct {
	gateAnswer string
	streamSSE  string
	streamErr  error
	embedVec   []float32
	embedErr   error
}

func (m *mockLLM) Chat(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (string, error) {
	return m.gateAnswer, nil
}

func (m *mockLLM) ChatStream(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (io.ReadCloser, error) {
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	return io.NopCloser(strings.NewReader(m.streamSSE)), nil
}

func (m *mockLLM) Embed(_ context.Context, _ string) ([]float32, error) {
	return m.embedVec, m.embedErr
}

type passScorer struct{}

func (passScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i := range scores {
		scores[i] = 1
	}
	return scores, nil
}

func newTestServer(t *testing.T, client llm.Client) (*Server, store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", "")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	retriever := retrieval.NewRetriever(st, 10)
	reranker := rerank.NewReranker(passScorer{}, 3, nil)
	gate := memory.NewGate(client, nil)
	manager := memory.NewManager(st, client, retriever, reranker, gate, memory.NewShortTermCache(10), nil)

	return NewServer(Options{
		Store:  st,
		Memory: manager,
		LLM:    client,
	}), st
}

func sseStream(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": d}}},
		})
		b.WriteString("data: ")
		b.Write(payload)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router("secret-token"))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated chat status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/chat", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Error("authenticated chat still rejected")
	}

	// Health stays open.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status with auth enabled = %d, want 200", resp.StatusCode)
	}
}

func TestSignup(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	body := `{"user_id":"u1","gender":"male","age":29,"height_cm":178,"weight_kg":75,"level":"intermediate"}`
	resp, err := http.Post(ts.URL+"/users/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/users/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate signup status = %d, want 400", resp.StatusCode)
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing user_id", body: `{"message":"hi"}`},
		{name: "missing message and image", body: `{"user_id":"u1"}`},
		{name: "invalid json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	client := &mockLLM{
		gateAnswer: "no",
		streamSSE:  sseStream("백스쿼트 ", "3x8 추천합니다"),
		embedVec:   []float32{0.1, 0.2, 0.3},
	}
	srv, st := newTestServer(t, client)
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"스쿼트 루틴 추천해줘"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("[DONE]")) {
		t.Error("stream missing DONE marker")
	}

	// Persistence runs in a detached goroutine; wait for both turns.
	deadline := time.Now().Add(2 * time.Second)
	var turns []store.Turn
	for time.Now().Before(deadline) {
		turns, err = st.RecentTurns(context.Background(), "u1", 10)
		if err == nil && len(turns) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[0].Role != store.RoleUser || turns[0].Content != "스쿼트 루틴 추천해줘" {
		t.Errorf("user turn = %+v", turns[0])
	}
	if turns[1].Role != store.RoleAssistant || turns[1].Content != "백스쿼트 3x8 추천합니다" {
		t.Errorf("assistant turn = %+v", turns[1])
	}

	// The gate said no, so no embedding was computed or stored.
	embedded, err := st.EmbeddedUserTurns(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(embedded) != 0 {
		t.Fatalf("embedded user turns = %d, want 0 when the gate skips search", len(embedded))
	}
}

func TestChatPersistsEmbeddingWhenSearched(t *testing.T) {
	client := &mockLLM{
		gateAnswer: "yes",
		streamSSE:  sseStream("지난번에는 ", "백스쿼트를 추천했어요"),
		embedVec:   []float32{0.1, 0.2, 0.3},
	}
	srv, st := newTestServer(t, client)
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"지난주에 뭐 추천했었지?"}`))
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	var embedded []store.Turn
	for time.Now().Before(deadline) {
		embedded, err = st.EmbeddedUserTurns(context.Background(), "u1")
		if err == nil && len(embedded) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(embedded) != 1 {
		t.Fatalf("embedded user turns = %d, want 1 after a searched question", len(embedded))
	}
	if len(embedded[0].Embedding) != 3 {
		t.Errorf("stored embedding = %v", embedded[0].Embedding)
	}
}

func TestChatGenerationFailure(t *testing.T) {
	client := &mockLLM{
		gateAnswer: "no",
		streamErr:  errors.New("model unavailable"),
		embedVec:   []float32{0.1},
	}
	srv, _ := newTestServer(t, client)
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("chat status = %d, want 502", resp.StatusCode)
	}
}

func TestWorkoutPlanLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	body := `{"exercise_name":"백스쿼트","sets":3,"reps":8,"weight_kg":60}`
	resp, err := http.Post(ts.URL+"/workout_plans/2026-09-01?user_id=u1", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create plan status = %d, want 201", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/workout_plans/2026-09-01/status/completed?user_id=u1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/plans/range/2026-09-01/2026-09-07?user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var result struct {
		WorkoutPlans []store.WorkoutPlan `json:"workout_plans"`
		DietPlans    []store.DietPlan    `json:"diet_plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.WorkoutPlans) != 1 {
		t.Fatalf("range returned %d workout plans, want 1", len(result.WorkoutPlans))
	}
	if got := result.WorkoutPlans[0]; got.ExerciseName != "백스쿼트" || got.Status != "completed" {
		t.Errorf("plan = %+v", got)
	}
}

func TestPlanValidation(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	// Missing user_id.
	resp, err := http.Post(ts.URL+"/workout_plans/2026-09-01", "application/json",
		strings.NewReader(`{"exercise_name":"스쿼트"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", resp.StatusCode)
	}

	// Bad date.
	resp, err = http.Post(ts.URL+"/workout_plans/not-a-date?user_id=u1", "application/json",
		strings.NewReader(`{"exercise_name":"스쿼트"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", resp.StatusCode)
	}

	// Bad status value.
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/workout_plans/2026-09-01/status/done?user_id=u1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status value status = %d, want 400", resp.StatusCode)
	}
}

func TestPlanStatusUpdateMissingPlan(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	for _, path := range []string{
		"/workout_plans/2026-09-01/status/completed?user_id=u1",
		"/diet_plans/2026-09-01/lunch/status/completed?user_id=u1",
	} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestBatchTTSEnqueueAndPoll(t *testing.T) {
	srv, st := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/batch_tts", "application/json",
		strings.NewReader(`{"text":"오늘의 운동 루틴입니다"}`))
	if err != nil {
		t.Fatal(err)
	}
	var enqueue map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&enqueue); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, want 202", resp.StatusCode)
	}
	jobID := enqueue["job_id"]
	if jobID == "" {
		t.Fatal("enqueue response missing job_id")
	}

	// Pending poll.
	resp, err = http.Get(ts.URL + "/batch_tts/" + jobID)
	if err != nil {
		t.Fatal(err)
	}
	var status map[string]string
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["status"] != "pending" {
		t.Errorf("status = %q, want pending", status["status"])
	}

	// Complete the job as the worker would, then poll again.
	if err := st.CompleteJob(context.Background(), jobID, []byte("RIFFwav")); err != nil {
		t.Fatal(err)
	}
	resp, err = http.Get(ts.URL + "/batch_tts/" + jobID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	audio, _ := io.ReadAll(resp.Body)
	if string(audio) != "RIFFwav" {
		t.Errorf("audio = %q, want RIFFwav", audio)
	}
}

func TestVideoSearchNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, &mockLLM{})
	ts := httptest.NewServer(srv.Router(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/youtube/search?q=스쿼트")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
