package accuracyctrl

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"rageval/src/core/accuracy"
)

type testRow struct {
	ID                 int64             `gorm:"primaryKey;autoIncrement:false"`
	ProjectID          string            `gorm:"not null;size:64;index"`
	DatasetID          string            `gorm:"not null;size:64"`
	Name               string            `gorm:"not null;size:255"`
	Description        string            `gorm:"type:text"`
	EvaluationType     string            `gorm:"not null;size:16"`
	ScoringMethod      string            `gorm:"not null;size:16"`
	MergePolicy        string            `gorm:"not null;size:32"`
	Dimensions         datatypes.JSON    `gorm:"type:jsonb;not null"`
	Weights            datatypes.JSON    `gorm:"type:jsonb;not null"`
	PromptTemplate     string            `gorm:"type:text"`
	Version            string            `gorm:"size:64"`
	ModelConfig        datatypes.JSON    `gorm:"type:jsonb"`
	BatchSize          int               `gorm:"not null"`
	TimeoutSeconds     int               `gorm:"not null"`
	Status             string            `gorm:"not null;size:16;index"`
	TotalQuestions     int               `gorm:"not null;default:0"`
	ProcessedQuestions int               `gorm:"not null;default:0"`
	SuccessQuestions   int               `gorm:"not null;default:0"`
	FailedQuestions    int               `gorm:"not null;default:0"`
	ResultsSummary     datatypes.JSON    `gorm:"type:jsonb"`
	ErrorDetails       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedBy          string            `gorm:"size:64"`
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

func (testRow) TableName() string {
	return "accuracy_tests"
}

type itemRow struct {
	ID                    int64             `gorm:"primaryKey;autoIncrement:false"`
	TestID                int64             `gorm:"column:test_id;not null;uniqueIndex:idx_accuracy_item_question,priority:1"`
	QuestionID            string            `gorm:"column:question_id;not null;size:64;uniqueIndex:idx_accuracy_item_question,priority:2"`
	AnswerID              string            `gorm:"column:rag_answer_id;not null;size:64"`
	Status                string            `gorm:"column:status;not null;size:16;index"`
	FinalScore            *float64          `gorm:"column:final_score"`
	FinalDimensionScores  datatypes.JSON    `gorm:"column:final_dimension_scores;type:jsonb"`
	FinalEvaluationReason string            `gorm:"column:final_evaluation_reason;type:text"`
	FinalEvaluationType   string            `gorm:"column:final_evaluation_type;size:8"`
	AIScore               *float64          `gorm:"column:ai_score"`
	AIDimensionScores     datatypes.JSON    `gorm:"column:ai_dimension_scores;type:jsonb"`
	AIEvaluationReason    string            `gorm:"column:ai_evaluation_reason;type:text"`
	AIRawResponse         datatypes.JSON    `gorm:"column:ai_raw_response;type:jsonb"`
	AIEvaluationTime      *time.Time        `gorm:"column:ai_evaluation_time"`
	AIError               string            `gorm:"column:ai_error;type:text"`
	HumanScore            *float64          `gorm:"column:human_score"`
	HumanDimensionScores  datatypes.JSON    `gorm:"column:human_dimension_scores;type:jsonb"`
	HumanEvaluationReason string            `gorm:"column:human_evaluation_reason;type:text"`
	HumanEvaluatorID      string            `gorm:"column:human_evaluator_id;size:255"`
	HumanEvaluationTime   *time.Time        `gorm:"column:human_evaluation_time"`
	HumanError            string            `gorm:"column:human_error;type:text"`
	SequenceNumber        int               `gorm:"column:sequence_number;not null"`
	ItemMetadata          datatypes.JSONMap `gorm:"column:item_metadata;type:jsonb"`
	CreatedAt             time.Time         `gorm:"column:created_at"`
	UpdatedAt             time.Time         `gorm:"column:updated_at"`
}

func (itemRow) TableName() string {
	return "accuracy_test_items"
}

type assignmentRow struct {
	ID               int64          `gorm:"primaryKey;autoIncrement:false"`
	TestID           int64          `gorm:"not null;index"`
	AccessCode       string         `gorm:"not null;size:16;uniqueIndex"`
	EvaluatorName    string         `gorm:"size:255"`
	EvaluatorEmail   string         `gorm:"size:255"`
	ItemIDs          datatypes.JSON `gorm:"column:item_ids;type:jsonb;not null"`
	CompletedItemIDs datatypes.JSON `gorm:"column:completed_item_ids;type:jsonb;not null"`
	TotalItems       int            `gorm:"not null"`
	CompletedItems   int            `gorm:"not null"`
	Status           string         `gorm:"not null;size:16"`
	IsActive         bool           `gorm:"not null;index"`
	ExpirationDate   *time.Time
	AssignedAt       time.Time `gorm:"not null"`
	LastActivityAt   *time.Time
	CompletedAt      *time.Time
	CreatedBy        string `gorm:"size:64"`
}

func (assignmentRow) TableName() string {
	return "accuracy_human_assignments"
}

func encode(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// decode leaves dst untouched for NULL or JSON null columns
func decode(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func toTestRow(t *accuracy.Test) (*testRow, error) {
	row := &testRow{
		ID:                 t.ID,
		ProjectID:          t.ProjectID,
		DatasetID:          t.DatasetID,
		Name:               t.Name,
		Description:        t.Description,
		EvaluationType:     string(t.EvaluationType),
		ScoringMethod:      string(t.ScoringMethod),
		MergePolicy:        string(t.MergePolicy),
		PromptTemplate:     t.PromptTemplate,
		Version:            t.Version,
		BatchSize:          t.BatchSettings.BatchSize,
		TimeoutSeconds:     t.BatchSettings.TimeoutSeconds,
		Status:             string(t.Status),
		TotalQuestions:     t.Total,
		ProcessedQuestions: t.Processed,
		SuccessQuestions:   t.Success,
		FailedQuestions:    t.Failed,
		ErrorDetails:       datatypes.JSONMap(t.ErrorDetails),
		CreatedBy:          t.CreatedBy,
		CreatedAt:          t.CreatedAt,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
	}
	var err error
	if row.Dimensions, err = encode(t.Dimensions); err != nil {
		return nil, fmt.Errorf("encode dimensions: %w", err)
	}
	if row.Weights, err = encode(t.Weights); err != nil {
		return nil, fmt.Errorf("encode weights: %w", err)
	}
	if row.ModelConfig, err = encode(t.ModelConfig); err != nil {
		return nil, fmt.Errorf("encode model config: %w", err)
	}
	if t.ResultsSummary != nil {
		if row.ResultsSummary, err = encode(t.ResultsSummary); err != nil {
			return nil, fmt.Errorf("encode results summary: %w", err)
		}
	}
	return row, nil
}

func (r *testRow) toTest() (*accuracy.Test, error) {
	t := &accuracy.Test{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		DatasetID:      r.DatasetID,
		Name:           r.Name,
		Description:    r.Description,
		EvaluationType: accuracy.EvaluationType(r.EvaluationType),
		ScoringMethod:  accuracy.ScoringMethod(r.ScoringMethod),
		MergePolicy:    accuracy.MergePolicy(r.MergePolicy),
		PromptTemplate: r.PromptTemplate,
		Version:        r.Version,
		BatchSettings:  accuracy.BatchSettings{BatchSize: r.BatchSize, TimeoutSeconds: r.TimeoutSeconds},
		Status:         accuracy.TestStatus(r.Status),
		Total:          r.TotalQuestions,
		Processed:      r.ProcessedQuestions,
		Success:        r.SuccessQuestions,
		Failed:         r.FailedQuestions,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
	if len(r.ErrorDetails) > 0 {
		t.ErrorDetails = map[string]any(r.ErrorDetails)
	}
	if err := decode(r.Dimensions, &t.Dimensions); err != nil {
		return nil, fmt.Errorf("decode dimensions of test %d: %w", r.ID, err)
	}
	if err := decode(r.Weights, &t.Weights); err != nil {
		return nil, fmt.Errorf("decode weights of test %d: %w", r.ID, err)
	}
	if err := decode(r.ModelConfig, &t.ModelConfig); err != nil {
		return nil, fmt.Errorf("decode model config of test %d: %w", r.ID, err)
	}
	if err := decode(r.ResultsSummary, &t.ResultsSummary); err != nil {
		return nil, fmt.Errorf("decode results summary of test %d: %w", r.ID, err)
	}
	return t, nil
}

func toItemRow(it *accuracy.Item) (*itemRow, error) {
	row := &itemRow{
		ID:                    it.ID,
		TestID:                it.TestID,
		QuestionID:            it.QuestionID,
		AnswerID:              it.AnswerID,
		Status:                string(it.Status),
		FinalScore:            it.FinalScore,
		FinalEvaluationReason: it.FinalReason,
		FinalEvaluationType:   string(it.FinalEvaluationType),
		AIScore:               it.AIScore,
		AIEvaluationReason:    it.AIReason,
		AIEvaluationTime:      it.AIEvaluatedAt,
		AIError:               it.AIError,
		HumanScore:            it.HumanScore,
		HumanEvaluationReason: it.HumanReason,
		HumanEvaluatorID:      it.HumanEvaluatorID,
		HumanEvaluationTime:   it.HumanEvaluatedAt,
		HumanError:            it.HumanError,
		SequenceNumber:        it.SequenceNumber,
		ItemMetadata:          datatypes.JSONMap(it.Metadata),
	}
	if len(it.AIRawResponse) > 0 {
		row.AIRawResponse = datatypes.JSON(it.AIRawResponse)
	}
	var err error
	if it.FinalDimensionScores != nil {
		if row.FinalDimensionScores, err = encode(it.FinalDimensionScores); err != nil {
			return nil, err
		}
	}
	if it.AIDimensionScores != nil {
		if row.AIDimensionScores, err = encode(it.AIDimensionScores); err != nil {
			return nil, err
		}
	}
	if it.HumanDimensionScores != nil {
		if row.HumanDimensionScores, err = encode(it.HumanDimensionScores); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (r *itemRow) toItem() (accuracy.Item, error) {
	it := accuracy.Item{
		ID:                  r.ID,
		TestID:              r.TestID,
		QuestionID:          r.QuestionID,
		AnswerID:            r.AnswerID,
		Status:              accuracy.ItemStatus(r.Status),
		FinalScore:          r.FinalScore,
		FinalReason:         r.FinalEvaluationReason,
		FinalEvaluationType: accuracy.Track(r.FinalEvaluationType),
		AIScore:             r.AIScore,
		AIReason:            r.AIEvaluationReason,
		AIEvaluatedAt:       r.AIEvaluationTime,
		AIError:             r.AIError,
		HumanScore:          r.HumanScore,
		HumanReason:         r.HumanEvaluationReason,
		HumanEvaluatorID:    r.HumanEvaluatorID,
		HumanEvaluatedAt:    r.HumanEvaluationTime,
		HumanError:          r.HumanError,
		SequenceNumber:      r.SequenceNumber,
	}
	if len(r.ItemMetadata) > 0 {
		it.Metadata = map[string]any(r.ItemMetadata)
	}
	if len(r.AIRawResponse) > 0 && string(r.AIRawResponse) != "null" {
		it.AIRawResponse = json.RawMessage(r.AIRawResponse)
	}
	for _, f := range []struct {
		raw datatypes.JSON
		dst *accuracy.DimensionScores
	}{
		{r.FinalDimensionScores, &it.FinalDimensionScores},
		{r.AIDimensionScores, &it.AIDimensionScores},
		{r.HumanDimensionScores, &it.HumanDimensionScores},
	} {
		if err := decode(f.raw, f.dst); err != nil {
			return it, fmt.Errorf("decode dimension scores of item %d: %w", r.ID, err)
		}
	}
	return it, nil
}

func toAssignmentRow(a *accuracy.Assignment) (*assignmentRow, error) {
	row := &assignmentRow{
		ID:             a.ID,
		TestID:         a.TestID,
		AccessCode:     a.AccessCode,
		EvaluatorName:  a.EvaluatorName,
		EvaluatorEmail: a.EvaluatorEmail,
		TotalItems:     a.TotalItems,
		CompletedItems: a.CompletedItems,
		Status:         string(a.Status),
		IsActive:       a.IsActive,
		ExpirationDate: a.ExpiresAt,
		AssignedAt:     a.AssignedAt,
		LastActivityAt: a.LastActivityAt,
		CompletedAt:    a.CompletedAt,
		CreatedBy:      a.CreatedBy,
	}
	ids, done := a.ItemIDs, a.CompletedItemIDs
	if ids == nil {
		ids = []int64{}
	}
	if done == nil {
		done = []int64{}
	}
	var err error
	if row.ItemIDs, err = encode(ids); err != nil {
		return nil, err
	}
	if row.CompletedItemIDs, err = encode(done); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *assignmentRow) toAssignment() (*accuracy.Assignment, error) {
	a := &accuracy.Assignment{
		ID:             r.ID,
		TestID:         r.TestID,
		AccessCode:     r.AccessCode,
		EvaluatorName:  r.EvaluatorName,
		EvaluatorEmail: r.EvaluatorEmail,
		TotalItems:     r.TotalItems,
		CompletedItems: r.CompletedItems,
		Status:         accuracy.AssignmentStatus(r.Status),
		IsActive:       r.IsActive,
		ExpiresAt:      r.ExpirationDate,
		AssignedAt:     r.AssignedAt,
		LastActivityAt: r.LastActivityAt,
		CompletedAt:    r.CompletedAt,
		CreatedBy:      r.CreatedBy,
	}
	if err := decode(r.ItemIDs, &a.ItemIDs); err != nil {
		return nil, fmt.Errorf("decode item ids of assignment %d: %w", r.ID, err)
	}
	if err := decode(r.CompletedItemIDs, &a.CompletedItemIDs); err != nil {
		return nil, fmt.Errorf("decode completed item ids of assignment %d: %w", r.ID, err)
	}
	return a, nil
}
