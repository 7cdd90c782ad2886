package memstore

import (
	"context"
	"fmt"
	"sync"

	"rageval/src/core/accuracy"
)

// Dataset is an in-memory question and candidate answer source
type Dataset struct {
	mu         sync.RWMutex
	questions  map[string][]accuracy.Question
	answers    map[string]*accuracy.Answer
	byQuestion map[string][]*accuracy.Answer
}

func NewDataset() *Dataset {
	return &Dataset{
		questions:  map[string][]accuracy.Question{},
		answers:    map[string]*accuracy.Answer{},
		byQuestion: map[string][]*accuracy.Answer{},
	}
}

func (d *Dataset) AddQuestion(datasetID string, q accuracy.Question) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.questions[datasetID] = append(d.questions[datasetID], q)
}

func (d *Dataset) AddAnswer(a accuracy.Answer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := a
	d.answers[a.ID] = &cp
	d.byQuestion[a.QuestionID] = append(d.byQuestion[a.QuestionID], &cp)
}

func (d *Dataset) ListQuestions(ctx context.Context, datasetID string) ([]accuracy.Question, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]accuracy.Question(nil), d.questions[datasetID]...), nil
}

// ResolveAnswer returns the newest answer of the question matching version, if given
func (d *Dataset) ResolveAnswer(ctx context.Context, questionID, version string) (*accuracy.Answer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var best *accuracy.Answer
	for _, a := range d.byQuestion[questionID] {
		if version != "" && a.Version != version {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("question %s: %w", questionID, accuracy.ErrAnswerNotFound)
	}
	cp := *best
	return &cp, nil
}

func (d *Dataset) GetAnswer(ctx context.Context, answerID string) (*accuracy.Answer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.answers[answerID]
	if !ok {
		return nil, fmt.Errorf("answer %s: %w", answerID, accuracy.ErrAnswerNotFound)
	}
	cp := *a
	return &cp, nil
}
