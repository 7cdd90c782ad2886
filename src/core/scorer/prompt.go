package scorer

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"rageval/src/core/accuracy"
)

const systemPrompt = `You are a strict evaluator of answers produced by retrieval-augmented generation systems. Reply with JSON only.`

const DefaultPromptTemplate = `Evaluate the quality of the RAG system answer below against the reference answer.

Question: {{question}}

Reference answer: {{reference_answer}}

RAG system answer: {{rag_answer}}

Scoring method: {{scoring_method}}

Dimensions: {{dimensions}}

Score every dimension, give an overall score and explain your reasoning.`

const formatInstructions = `

Respond with a single JSON object and nothing else:
{"overall_score": <number>, "dimension_scores": {"<dimension>": <number>}, "reason": "<explanation>"}`

var promptVariables = []string{"question", "reference_answer", "rag_answer", "scoring_method", "dimensions"}

// Rubric returns the scoring instruction shown to the judge for a method
func Rubric(m accuracy.ScoringMethod) string {
	switch m {
	case accuracy.ScoringBinary:
		return "binary: 1 if the answer is correct, 0 if it is wrong"
	case accuracy.ScoringThreeScale:
		return "three-point scale: 0 wrong, 1 partially correct, 2 fully correct"
	default:
		return "five-point scale from 1 (completely incorrect) to 5 (completely correct)"
	}
}

// BuildPrompt renders the test's template, or the default one, for a request
func BuildPrompt(req JudgeRequest) (string, error) {
	tmpl := req.PromptTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultPromptTemplate
	}

	pt := prompts.PromptTemplate{
		Template:       tmpl,
		TemplateFormat: prompts.TemplateFormatJinja2,
		InputVariables: promptVariables,
	}
	out, err := pt.Format(map[string]any{
		"question":         req.Question,
		"reference_answer": req.ReferenceAnswer,
		"rag_answer":       req.CandidateAnswer,
		"scoring_method":   Rubric(req.ScoringMethod),
		"dimensions":       strings.Join(req.Dimensions, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("%w: render prompt template: %w", accuracy.ErrValidation, err)
	}
	return out + formatInstructions, nil
}
