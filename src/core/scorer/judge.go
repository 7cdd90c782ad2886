package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rageval/src/core/accuracy"
)

// JudgeRequest carries everything a judge needs to grade one answer
type JudgeRequest struct {
	Question        string
	ReferenceAnswer string
	CandidateAnswer string
	Dimensions      []string
	ScoringMethod   accuracy.ScoringMethod
	PromptTemplate  string
	Model           string
}

// Judgement is a judge verdict. Raw is the upstream payload kept for audit.
type Judgement struct {
	Score           float64
	DimensionScores map[string]float64
	Reason          string
	Raw             json.RawMessage
}

type Judge interface {
	Score(ctx context.Context, req JudgeRequest) (*Judgement, error)
}

// Completer is a text completion backend
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// LLMJudge grades answers by prompting a completion model for a JSON verdict
type LLMJudge struct {
	completer    Completer
	defaultModel string
}

func NewLLMJudge(completer Completer, defaultModel string) *LLMJudge {
	return &LLMJudge{completer: completer, defaultModel: defaultModel}
}

func (j *LLMJudge) Score(ctx context.Context, req JudgeRequest) (*Judgement, error) {
	if j == nil || j.completer == nil {
		return nil, errors.New("llm judge completer is nil")
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}
	model := j.resolveModel(req.Model)

	text, err := j.completer.Complete(ctx, model, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", accuracy.ErrUpstreamScoring, err)
	}

	v, err := parseVerdict(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", accuracy.ErrUpstreamScoring, err)
	}

	raw, err := json.Marshal(map[string]string{"model": model, "content": text})
	if err != nil {
		return nil, err
	}
	v.Raw = raw
	return v, nil
}

func (j *LLMJudge) resolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return strings.TrimSpace(j.defaultModel)
}
