package accuracy

import (
	"encoding/json"
	"math"
	"time"
)

// EvaluationType selects which scoring tracks feed a test
type EvaluationType string

const (
	EvaluationTypeAI     EvaluationType = "ai"
	EvaluationTypeManual EvaluationType = "manual"
	EvaluationTypeHybrid EvaluationType = "hybrid"
)

func (t EvaluationType) Valid() bool {
	switch t {
	case EvaluationTypeAI, EvaluationTypeManual, EvaluationTypeHybrid:
		return true
	}
	return false
}

// UsesAI reports whether the AI scorer is expected to run for this type
func (t EvaluationType) UsesAI() bool {
	return t == EvaluationTypeAI || t == EvaluationTypeHybrid
}

// AllowsHuman reports whether human assignments can be created for this type
func (t EvaluationType) AllowsHuman() bool {
	return t == EvaluationTypeManual || t == EvaluationTypeHybrid
}

// ScoringMethod defines the rubric scale the judge and the reviewers use
type ScoringMethod string

const (
	ScoringBinary     ScoringMethod = "binary"
	ScoringThreeScale ScoringMethod = "three_scale"
	ScoringFiveScale  ScoringMethod = "five_scale"
)

func (m ScoringMethod) Valid() bool {
	switch m {
	case ScoringBinary, ScoringThreeScale, ScoringFiveScale:
		return true
	}
	return false
}

// MaxScore returns the top of the numeric range for the method
func (m ScoringMethod) MaxScore() float64 {
	switch m {
	case ScoringBinary:
		return 1
	case ScoringThreeScale:
		return 2
	default:
		return 5
	}
}

// InRange reports whether v is a legal score for the method
func (m ScoringMethod) InRange(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= 0 && v <= m.MaxScore()
}

// MergePolicy decides which track wins for hybrid tests
type MergePolicy string

const (
	MergeHumanAuthoritative MergePolicy = "human_authoritative"
	MergeAIAuthoritative    MergePolicy = "ai_authoritative"
)

func (p MergePolicy) Valid() bool {
	return p == MergeHumanAuthoritative || p == MergeAIAuthoritative
}

type TestStatus string

const (
	TestStatusCreated     TestStatus = "created"
	TestStatusRunning     TestStatus = "running"
	TestStatusCompleted   TestStatus = "completed"
	TestStatusFailed      TestStatus = "failed"
	TestStatusInterrupted TestStatus = "interrupted"
)

type ItemStatus string

const (
	ItemStatusPending        ItemStatus = "pending"
	ItemStatusAICompleted    ItemStatus = "ai_completed"
	ItemStatusHumanCompleted ItemStatus = "human_completed"
	ItemStatusBothCompleted  ItemStatus = "both_completed"
	ItemStatusFailed         ItemStatus = "failed"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusAICompleted, ItemStatusHumanCompleted, ItemStatusBothCompleted, ItemStatusFailed:
		return true
	}
	return false
}

// Track is one of the two independent scoring pipelines
type Track string

const (
	TrackNone  Track = ""
	TrackAI    Track = "ai"
	TrackHuman Track = "human"
)

type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentExpired    AssignmentStatus = "expired"
)

// DimensionScores maps a declared dimension name to its score
type DimensionScores map[string]float64

func (d DimensionScores) clone() DimensionScores {
	if d == nil {
		return nil
	}
	out := make(DimensionScores, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

const (
	DefaultBatchSize      = 10
	DefaultTimeoutSeconds = 300
)

type BatchSettings struct {
	BatchSize      int `json:"batch_size"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

func (b BatchSettings) withDefaults() BatchSettings {
	if b.BatchSize <= 0 {
		b.BatchSize = DefaultBatchSize
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return b
}

// Timeout is the per judge call deadline
func (b BatchSettings) Timeout() time.Duration {
	return time.Duration(b.withDefaults().TimeoutSeconds) * time.Second
}

// ModelConfig carries judge model selection for the AI track
type ModelConfig struct {
	ModelName string         `json:"model_name,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Test is one evaluation run over one dataset snapshot
type Test struct {
	ID             int64              `json:"id"`
	ProjectID      string             `json:"project_id"`
	DatasetID      string             `json:"dataset_id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	EvaluationType EvaluationType     `json:"evaluation_type"`
	ScoringMethod  ScoringMethod      `json:"scoring_method"`
	MergePolicy    MergePolicy        `json:"merge_policy"`
	Dimensions     []string           `json:"dimensions"`
	Weights        map[string]float64 `json:"weights"`
	PromptTemplate string             `json:"prompt_template,omitempty"`
	Version        string             `json:"version,omitempty"`
	ModelConfig    ModelConfig        `json:"model_config"`
	BatchSettings  BatchSettings      `json:"batch_settings"`
	Status         TestStatus         `json:"status"`

	Total     int `json:"total_questions"`
	Processed int `json:"processed_questions"`
	Success   int `json:"success_questions"`
	Failed    int `json:"failed_questions"`

	ResultsSummary *ResultsSummary `json:"results_summary"`
	ErrorDetails   map[string]any  `json:"error_details,omitempty"`

	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Item is a single (question, candidate answer) scoring unit inside a test
type Item struct {
	ID         int64      `json:"id"`
	TestID     int64      `json:"evaluation_id"`
	QuestionID string     `json:"question_id"`
	AnswerID   string     `json:"rag_answer_id"`
	Status     ItemStatus `json:"status"`

	FinalScore           *float64        `json:"final_score"`
	FinalDimensionScores DimensionScores `json:"final_dimension_scores"`
	FinalReason          string          `json:"final_evaluation_reason,omitempty"`
	FinalEvaluationType  Track           `json:"final_evaluation_type,omitempty"`

	AIScore           *float64        `json:"ai_score"`
	AIDimensionScores DimensionScores `json:"ai_dimension_scores"`
	AIReason          string          `json:"ai_evaluation_reason,omitempty"`
	AIRawResponse     json.RawMessage `json:"ai_raw_response,omitempty"`
	AIEvaluatedAt     *time.Time      `json:"ai_evaluation_time,omitempty"`
	AIError           string          `json:"ai_error,omitempty"`

	HumanScore           *float64        `json:"human_score"`
	HumanDimensionScores DimensionScores `json:"human_dimension_scores"`
	HumanReason          string          `json:"human_evaluation_reason,omitempty"`
	HumanEvaluatorID     string          `json:"human_evaluator_id,omitempty"`
	HumanEvaluatedAt     *time.Time      `json:"human_evaluation_time,omitempty"`
	HumanError           string          `json:"human_error,omitempty"`

	SequenceNumber int            `json:"sequence_number"`
	Metadata       map[string]any `json:"item_metadata,omitempty"`
}

// Assignment is a frozen slice of items handed to one reviewer
type Assignment struct {
	ID               int64            `json:"id"`
	TestID           int64            `json:"evaluation_id"`
	AccessCode       string           `json:"access_code"`
	EvaluatorName    string           `json:"evaluator_name,omitempty"`
	EvaluatorEmail   string           `json:"evaluator_email,omitempty"`
	ItemIDs          []int64          `json:"item_ids"`
	CompletedItemIDs []int64          `json:"completed_item_ids"`
	TotalItems       int              `json:"total_items"`
	CompletedItems   int              `json:"completed_items"`
	Status           AssignmentStatus `json:"status"`
	IsActive         bool             `json:"is_active"`
	ExpiresAt        *time.Time       `json:"expiration_date,omitempty"`
	AssignedAt       time.Time        `json:"assigned_at"`
	LastActivityAt   *time.Time       `json:"last_activity_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CreatedBy        string           `json:"created_by,omitempty"`
}

// expired reports whether the assignment deadline has passed at now
func (a *Assignment) expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

func (a *Assignment) holds(itemID int64) bool {
	for _, id := range a.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// evaluatorID stamps human results coming through the assignment
func (a *Assignment) evaluatorID() string {
	switch {
	case a.EvaluatorEmail != "":
		return a.EvaluatorEmail
	case a.EvaluatorName != "":
		return a.EvaluatorName
	default:
		return "assignment:" + a.AccessCode
	}
}

// ResultsSummary is frozen on the test when it completes
type ResultsSummary struct {
	OverallScore      float64            `json:"overall_score"`
	DimensionScores   map[string]float64 `json:"dimension_scores"`
	DimensionCounts   map[string]int     `json:"dimension_counts"`
	ScoreDistribution map[string]int     `json:"score_distribution"`
	EvaluationTypes   map[Track]int      `json:"evaluation_types"`
	TotalEvaluated    int                `json:"total_evaluated"`
	FailedCount       int                `json:"failed_count"`
	EvaluationType    EvaluationType     `json:"evaluation_type"`
	ScoringMethod     ScoringMethod      `json:"scoring_method"`
}

// ItemResult is one track's verdict for the item of a question
type ItemResult struct {
	QuestionID      string          `json:"question_id"`
	Track           Track           `json:"track"`
	Score           *float64        `json:"score,omitempty"`
	DimensionScores DimensionScores `json:"dimension_scores,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	RawResponse     json.RawMessage `json:"raw_response,omitempty"`
	EvaluatorID     string          `json:"evaluator_id,omitempty"`
	EvaluatedAt     *time.Time      `json:"evaluated_at,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// SubmitOutcome reports what a submission batch did
type SubmitOutcome struct {
	Applied   int  `json:"applied"`
	Skipped   int  `json:"skipped"`
	Completed bool `json:"completed"`
}

// TestSpec is the caller supplied definition of a new test
type TestSpec struct {
	ProjectID      string             `json:"project_id"`
	DatasetID      string             `json:"dataset_id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	EvaluationType EvaluationType     `json:"evaluation_type"`
	ScoringMethod  ScoringMethod      `json:"scoring_method"`
	MergePolicy    MergePolicy        `json:"merge_policy"`
	Dimensions     []string           `json:"dimensions"`
	Weights        map[string]float64 `json:"weights"`
	PromptTemplate string             `json:"prompt_template"`
	Version        string             `json:"version"`
	ModelConfig    ModelConfig        `json:"model_config"`
	BatchSettings  *BatchSettings     `json:"batch_settings"`
}

// AssignmentRequest describes a new human review slice
type AssignmentRequest struct {
	TestID         int64  `json:"evaluation_id"`
	EvaluatorName  string `json:"evaluator_name"`
	EvaluatorEmail string `json:"evaluator_email"`
	ItemCount      int    `json:"item_count"`
	ExpirationDays *int   `json:"expiration_days"`
}

// ItemQuery filters a paginated item listing
type ItemQuery struct {
	TestID   int64
	Statuses []ItemStatus
	MinScore *float64
	MaxScore *float64
	Offset   int
	Limit    int
}

// ItemCounts is the number of items per status
type ItemCounts map[ItemStatus]int

func (c ItemCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Progress is the read model of a test's counters
type Progress struct {
	TestID          int64      `json:"id"`
	Status          TestStatus `json:"status"`
	Total           int        `json:"total"`
	Processed       int        `json:"processed"`
	Success         int        `json:"success"`
	Failed          int        `json:"failed"`
	ProgressPercent float64    `json:"progress_percent"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}
