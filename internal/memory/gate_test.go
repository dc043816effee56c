package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/seonho/gympt/internal/llm"
)

type mockChat struct {
	answer    string
	err       error
	gotSystem string
	gotUser   string
}

func (m *mockChat) Chat(_ context.Context, messages []llm.Message, _ llm.ChatOptions) (string, error) {
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			m.gotSystem = msg.Content
		case "user":
			m.gotUser = msg.Content
		}
	}
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockChat) ChatStream(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (m *mockChat) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func TestGateDecisions(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		want   Decision
	}{
		{name: "yes", answer: "yes", want: Search},
		{name: "yes with padding", answer: " Yes.", want: Search},
		{name: "no", answer: "no", want: NoSearch},
		{name: "garbage", answer: "maybe", want: NoSearch},
		{name: "classifier failure fails open", err: errors.New("timeout"), want: SearchDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(&mockChat{answer: tt.answer, err: tt.err}, nil)
			if got := g.Decide(context.Background(), "question", nil); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGatePromptIncludesHistory(t *testing.T) {
	chat := &mockChat{answer: "no"}
	g := NewGate(chat, nil)

	g.Decide(context.Background(), "what about that one?", []CacheEntry{
		{Role: "user", Content: "recommend squats"},
		{Role: "assistant", Content: "try back squats"},
	})

	if want := "user: recommend squats\nassistant: try back squats"; !strings.Contains(chat.gotSystem, want) {
		t.Errorf("system prompt missing history, got %q", chat.gotSystem)
	}
	if want := "what about that one?"; !strings.Contains(chat.gotUser, want) {
		t.Errorf("user message missing question, got %q", chat.gotUser)
	}
}

func TestGatePromptEmptyHistory(t *testing.T) {
	chat := &mockChat{answer: "no"}
	g := NewGate(chat, nil)

	g.Decide(context.Background(), "hi", nil)

	if !strings.Contains(chat.gotSystem, "None") {
		t.Errorf("system prompt should mark empty history as None, got %q", chat.gotSystem)
	}
}
