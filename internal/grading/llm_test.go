package grading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type fakeChat struct {
	reply string
	err   error
	calls int
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func newTestLLM(api chatClient) *LLMGrader {
	return &LLMGrader{
		api:      api,
		model:    "gpt-test",
		timeout:  time.Second,
		fallback: NewReferenceGrader(),
		log:      zap.NewNop(),
	}
}

func TestLLMGraderParsesVerdict(t *testing.T) {
	g := newTestLLM(&fakeChat{reply: `{"score_percentage": 75, "is_correct": true, "feedback": "solid", "confidence": 0.9}`})
	res, err := g.Grade(context.Background(), Q{Type: "short", ReferenceAnswer: "x", Points: 8}, Response{Text: "y"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.PointsEarned != 6.0 {
		t.Errorf("points = %v, want 6.0", res.PointsEarned)
	}
	if !res.IsCorrect || res.Confidence != 0.9 || res.Feedback != "solid" {
		t.Errorf("verdict not carried: %+v", res)
	}
	if res.Method != "llm-gpt-test" {
		t.Errorf("method = %q", res.Method)
	}
}

func TestLLMGraderStripsCodeFences(t *testing.T) {
	g := newTestLLM(&fakeChat{reply: "```json\n{\"score_percentage\": 50, \"feedback\": \"ok\", \"confidence\": 0.8}\n```"})
	res, err := g.Grade(context.Background(), Q{Type: "essay", Points: 10}, Response{Text: "y"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.PointsEarned != 5.0 {
		t.Errorf("points = %v, want 5.0", res.PointsEarned)
	}
}

func TestLLMGraderFallsBackOnError(t *testing.T) {
	g := newTestLLM(&fakeChat{err: errors.New("connection refused")})
	q := Q{Type: "short", ReferenceAnswer: phrase(2), Points: 10}
	res, err := g.Grade(context.Background(), q, Response{Text: phrase(2)})
	if err != nil {
		t.Fatalf("fallback must not surface backend errors, got %v", err)
	}
	if res.PointsEarned != 10 {
		t.Errorf("fallback points = %v, want 10", res.PointsEarned)
	}
	if !strings.HasSuffix(res.Method, "-fallback") {
		t.Errorf("method = %q, want -fallback suffix", res.Method)
	}
}

func TestLLMGraderFallsBackOnMalformedReply(t *testing.T) {
	g := newTestLLM(&fakeChat{reply: "I think the answer deserves a B+"})
	res, err := g.Grade(context.Background(), Q{Type: "short", ReferenceAnswer: "x", Points: 4}, Response{Text: "x"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !strings.HasSuffix(res.Method, "-fallback") {
		t.Errorf("method = %q, want -fallback suffix", res.Method)
	}
}

func TestLLMGraderGradesObjectiveLocally(t *testing.T) {
	fc := &fakeChat{err: errors.New("must not be called")}
	g := newTestLLM(fc)
	q := Q{Type: "choice", Choices: []string{"a", "b"}, ReferenceAnswer: "0", Points: 2}
	res, err := g.Grade(context.Background(), q, Response{SelectedChoice: intPtr(0)})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if fc.calls != 0 {
		t.Errorf("objective grading hit the API %d times", fc.calls)
	}
	if res.PointsEarned != 2 || res.Method != MethodExactMatch {
		t.Errorf("local result: %+v", res)
	}
}
