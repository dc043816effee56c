// Package prompt assembles the message list sent to the chat model:
// coach persona, retrieved long-term pairs, short-term history, and the
// user's message with any OCR text merged in.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/seonho/gympt/internal/llm"
	"github.com/seonho/gympt/internal/memory"
)

// The coach persona. Generation rules the model must follow: routines are
// day-numbered from today's date, every exercise names sets and reps,
// weight and duration appear only where they apply, diet entries always
// carry macro estimates instead of null, and no bracketed dates appear in
// the answer.
const coachPromptFormat = `'스포츠 지도사 1급' 책과 '헬스의 정석-근력운동' 책을 학습해줘.
너는 Gym PT를 도와주는 AI 챗봇이야. 사용자가 인바디 이미지를 업로드할 수 있으며, OCR 텍스트를 참고해서 정확한 분석을 제공해줘.
[과거 검색 기록]이 주어질 경우, 날짜 정보를 참고하여 사용자의 질문에 답변해줘.

사용자가 운동 루틴을 요청하면, 다음 지침을 반드시 따라야 해:
1. 오늘 날짜(%s)를 기준으로 루틴을 생성해. 요일(월, 화, 수) 대신 '1일차', '2일차' 등으로 명확하게 날짜를 기준으로 제시해.
2. 각 운동에 대해 운동 이름, 세트 수, 횟수를 반드시 포함해.
3. 무게(kg)나 시간(분) 정보는 해당 운동에 필요할 경우에만 포함해. 맨몸 운동처럼 무게가 필요 없는 경우는 '무게' 항목을 아예 표시하지 마.

사용자가 식단 계획을 요청하면, 다음 지침을 반드시 따라야 해:
1. 각 식사 항목에 대해 음식 이름, 칼로리, 단백질(g), 탄수화물(g), 지방(g)을 반드시 포함해. 정확한 수치를 알 수 없는 경우 일반적인 추정치를 제공하거나 '약 N'과 같이 명시하고, 절대 null로 표시하지 마.

답변을 생성할 때는 [YYYY-MM-DD]와 같은 대괄호 형식으로 날짜를 절대 포함하지 마.`

const pastContextHeader = "[과거 검색 기록]"

// Input collects everything one chat turn contributes to the prompt.
type Input struct {
	UserMessage string
	OCRText     string
	Pairs       []memory.ContextPair
	History     []memory.CacheEntry
	Now         time.Time
}

// Build returns the full message list for a generation call. Long-term
// pairs come first so the recent history stays closest to the question.
func Build(in Input) []llm.Message {
	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(coachPromptFormat, in.Now.Format("2006-01-02"))},
	}

	if len(in.Pairs) > 0 {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: pastContextHeader + "\n" + formatPairs(in.Pairs),
		})
	}

	for _, e := range in.History {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userContent(in)})
	return messages
}

// formatPairs renders retrieved pairs with their original dates so the
// model can answer questions like "what did you suggest last week".
func formatPairs(pairs []memory.ContextPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] user: %s\n", stamp(p.AskedAt), p.Question)
		fmt.Fprintf(&b, "[%s] assistant: %s", stamp(p.AnsweredAt), p.Answer)
	}
	return b.String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func userContent(in Input) string {
	if in.OCRText == "" {
		return in.UserMessage
	}
	if in.UserMessage == "" {
		return "[Image OCR Result]\n" + in.OCRText
	}
	return in.UserMessage + "\n\n[Image OCR Result]\n" + in.OCRText
}
