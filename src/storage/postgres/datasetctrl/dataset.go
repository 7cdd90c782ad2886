package datasetctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rageval/src/core/accuracy"
)

type Question struct {
	ID             string    `gorm:"primaryKey;column:id" json:"id"`
	DatasetID      string    `gorm:"not null;column:dataset_id;index" json:"dataset_id"`
	QuestionText   string    `gorm:"not null;column:question_text" json:"question_text"`
	StandardAnswer string    `gorm:"not null;column:standard_answer" json:"standard_answer"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Question) TableName() string {
	return "questions"
}

type RagAnswer struct {
	ID         string    `gorm:"primaryKey;column:id" json:"id"`
	QuestionID string    `gorm:"not null;column:question_id;index" json:"question_id"`
	AnswerText string    `gorm:"not null;column:answer_text" json:"answer_text"`
	Version    string    `gorm:"column:version" json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RagAnswer) TableName() string {
	return "rag_answers"
}

// DatasetService reads questions and candidate answers owned by the dataset module
type DatasetService struct {
	db *gorm.DB
}

var (
	_ accuracy.QuestionStore = (*DatasetService)(nil)
	_ accuracy.AnswerStore   = (*DatasetService)(nil)
)

func NewDatasetService(db *gorm.DB) *DatasetService {
	return &DatasetService{db: db}
}

// AutoMigrate creates the dataset tables. In production they belong to the
// dataset module; this is for local setups.
func (s *DatasetService) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Question{}, &RagAnswer{})
}

func (s *DatasetService) ListQuestions(ctx context.Context, datasetID string) ([]accuracy.Question, error) {
	var rows []Question
	result := s.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("created_at ASC").Order("id ASC").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list questions: %w", result.Error)
	}
	out := make([]accuracy.Question, len(rows))
	for i, r := range rows {
		out[i] = accuracy.Question{ID: r.ID, Text: r.QuestionText, ReferenceAnswer: r.StandardAnswer}
	}
	return out, nil
}

func (s *DatasetService) ResolveAnswer(ctx context.Context, questionID, version string) (*accuracy.Answer, error) {
	db := s.db.WithContext(ctx).Where("question_id = ?", questionID)
	if version != "" {
		db = db.Where("version = ?", version)
	}
	var row RagAnswer
	if err := db.Order("created_at DESC").Order("id DESC").Take(&row).Error; err != nil {
		return nil, answerErr(err, "question "+questionID)
	}
	return row.toAnswer(), nil
}

func (s *DatasetService) GetAnswer(ctx context.Context, answerID string) (*accuracy.Answer, error) {
	var row RagAnswer
	if err := s.db.WithContext(ctx).Where("id = ?", answerID).Take(&row).Error; err != nil {
		return nil, answerErr(err, "answer "+answerID)
	}
	return row.toAnswer(), nil
}

func answerErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, accuracy.ErrAnswerNotFound)
	}
	return fmt.Errorf("failed to get answer for %s: %w", what, err)
}

func (r *RagAnswer) toAnswer() *accuracy.Answer {
	return &accuracy.Answer{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		Text:       r.AnswerText,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
	}
}
