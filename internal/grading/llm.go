package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// chatClient is the slice of the OpenAI client the grader uses; it exists so
// tests can substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMGrader grades free-text answers through an OpenAI-compatible endpoint.
// It wraps a local Grader by explicit composition: any API failure, timeout
// or malformed reply falls back to the local result, so an unavailable
// backend can never fail a submission. Objective question types are always
// graded locally.
type LLMGrader struct {
	api      chatClient
	model    string
	timeout  time.Duration
	fallback Grader
	log      *zap.Logger
}

// NewLLMGrader builds an LLM-backed grader. baseURL may be empty for the
// default OpenAI endpoint. fallback must not be nil.
func NewLLMGrader(baseURL, apiKey, model string, timeout time.Duration, fallback Grader, log *zap.Logger) *LLMGrader {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMGrader{
		api:      openai.NewClientWithConfig(cfg),
		model:    model,
		timeout:  timeout,
		fallback: fallback,
		log:      log,
	}
}

// llmVerdict is the JSON contract the model is asked to honor.
type llmVerdict struct {
	ScorePercentage float64 `json:"score_percentage"`
	IsCorrect       *bool   `json:"is_correct"`
	Feedback        string  `json:"feedback"`
	Confidence      float64 `json:"confidence"`
}

func (g *LLMGrader) Grade(ctx context.Context, q Q, r Response) (Result, error) {
	if q.Type == "choice" || q.Type == "boolean" {
		return g.fallback.Grade(ctx, q, r)
	}

	res, err := g.gradeRemote(ctx, q, r)
	if err == nil {
		return res, nil
	}
	g.log.Warn("llm grading failed, using reference grader",
		zap.String("model", g.model), zap.Error(err))

	res, ferr := g.fallback.Grade(ctx, q, r)
	if ferr != nil {
		return res, ferr
	}
	res.Method += "-fallback"
	return res, nil
}

func (g *LLMGrader) gradeRemote(ctx context.Context, q Q, r Response) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: gradeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: gradeUserPrompt(q, r)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("llm returned no choices")
	}

	var v llmVerdict
	raw := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return Result{}, fmt.Errorf("parse llm verdict: %w", err)
	}

	pct := v.ScorePercentage
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	correct := pct >= 60
	if v.IsCorrect != nil {
		correct = *v.IsCorrect
	}
	conf := v.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.8
	}
	feedback := v.Feedback
	if feedback == "" {
		feedback = "Graded by AI"
	}

	return Result{
		PointsEarned: round2(pct / 100 * q.Points),
		MaxPoints:    q.Points,
		IsCorrect:    correct,
		Confidence:   conf,
		Method:       "llm-" + g.model,
		Feedback:     feedback,
	}, nil
}

const gradeSystemPrompt = `You are an exam grader. Grade the student answer against the expected answer and rubric. Respond ONLY with a JSON object:
{"score_percentage": <0-100>, "is_correct": <bool>, "feedback": "<brief feedback>", "confidence": <0.0-1.0>}`

func gradeUserPrompt(q Q, r Response) string {
	var sb strings.Builder
	sb.WriteString("QUESTION TYPE: " + q.Type + "\n")
	fmt.Fprintf(&sb, "MAX POINTS: %.2f\n", q.Points)
	sb.WriteString("QUESTION: " + q.Text + "\n")
	sb.WriteString("EXPECTED ANSWER: " + q.ReferenceAnswer + "\n")
	if q.RubricText != "" {
		sb.WriteString("RUBRIC: " + q.RubricText + "\n")
	} else {
		sb.WriteString("RUBRIC: standard criteria\n")
	}
	sb.WriteString("STUDENT ANSWER: " + r.Text + "\n")
	return sb.String()
}

// stripFences removes a ```json ... ``` wrapper some models insist on adding
// despite the JSON response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
