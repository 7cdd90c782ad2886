package scorer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type verdict struct {
	OverallScore     json.RawMessage            `json:"overall_score"`
	Score            json.RawMessage            `json:"score"`
	DimensionScores  map[string]json.RawMessage `json:"dimension_scores"`
	Reason           string                     `json:"reason"`
	EvaluationReason string                     `json:"evaluation_reason"`
}

// parseVerdict extracts the first JSON object from a completion and reads
// the overall score, per dimension scores and reason from it.
func parseVerdict(text string) (*Judgement, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty judge response")
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in judge response: %q", truncate(trimmed, 200))
	}

	var v verdict
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("malformed judge verdict: %w", err)
	}

	dims := make(map[string]float64, len(v.DimensionScores))
	for name, raw := range v.DimensionScores {
		n, err := number(raw)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", name, err)
		}
		dims[name] = n
	}

	rawScore := v.OverallScore
	if len(rawScore) == 0 || string(rawScore) == "null" {
		rawScore = v.Score
	}
	var overall float64
	switch {
	case len(rawScore) > 0 && string(rawScore) != "null":
		n, err := number(rawScore)
		if err != nil {
			return nil, fmt.Errorf("overall score: %w", err)
		}
		overall = n
	case len(dims) > 0:
		var sum float64
		for _, d := range dims {
			sum += d
		}
		overall = sum / float64(len(dims))
	default:
		return nil, errors.New("judge verdict has no score")
	}

	reason := v.Reason
	if reason == "" {
		reason = v.EvaluationReason
	}
	return &Judgement{Score: overall, DimensionScores: dims, Reason: reason}, nil
}

// number accepts 4, "4", 4.5 or {"score": 4}
func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid score %q", s)
		}
		return finite(f)
	}
	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Score != nil {
		return finite(*obj.Score)
	}
	return 0, fmt.Errorf("invalid score %s", string(raw))
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("score is not finite")
	}
	return f, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
