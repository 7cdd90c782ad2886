package accuracy

import (
	"context"
	"time"
)

// Question is a dataset question with its reference answer
type Question struct {
	ID              string
	Text            string
	ReferenceAnswer string
}

// Answer is a candidate answer produced by the RAG system under test
type Answer struct {
	ID         string
	QuestionID string
	Text       string
	Version    string
	CreatedAt  time.Time
}

// QuestionStore lists the questions of a dataset
type QuestionStore interface {
	ListQuestions(ctx context.Context, datasetID string) ([]Question, error)
}

// AnswerStore resolves candidate answers
type AnswerStore interface {
	// ResolveAnswer returns the most recent answer for the question, restricted
	// to version when it is not empty. It returns ErrAnswerNotFound when none match.
	ResolveAnswer(ctx context.Context, questionID, version string) (*Answer, error)
	// GetAnswer also reports a missing answer as ErrAnswerNotFound
	GetAnswer(ctx context.Context, answerID string) (*Answer, error)
}

// CompletionHook is notified after a test has been committed as completed
type CompletionHook interface {
	OnTestCompleted(ctx context.Context, test *Test) error
}
