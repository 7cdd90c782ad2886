package minioctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rageval/src/core/accuracy"
	"rageval/src/log"
)

// ObjectStore is the subset of MinioService the archiver needs
type ObjectStore interface {
	EnsureBucketExists(ctx context.Context, bucketName string) error
	PutObject(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
	GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
}

// ArchivedSummary is the document written for every completed test
type ArchivedSummary struct {
	TestID         int64                    `json:"evaluation_id"`
	ProjectID      string                   `json:"project_id"`
	DatasetID      string                   `json:"dataset_id"`
	Name           string                   `json:"name"`
	EvaluationType accuracy.EvaluationType  `json:"evaluation_type"`
	ScoringMethod  accuracy.ScoringMethod   `json:"scoring_method"`
	Dimensions     []string                 `json:"dimensions"`
	Weights        map[string]float64       `json:"weights"`
	Total          int                      `json:"total_questions"`
	Success        int                      `json:"success_questions"`
	Failed         int                      `json:"failed_questions"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	Summary        *accuracy.ResultsSummary `json:"results_summary"`
}

// SummaryArchiver stores the frozen results summary of completed tests
type SummaryArchiver struct {
	store  ObjectStore
	bucket string

	mu    sync.Mutex
	ready bool
}

var _ accuracy.CompletionHook = (*SummaryArchiver)(nil)

func NewSummaryArchiver(store ObjectStore, bucket string) *SummaryArchiver {
	if bucket == "" {
		bucket = DefaultArchiveBucket
	}
	return &SummaryArchiver{store: store, bucket: bucket}
}

func ObjectName(testID int64) string {
	return fmt.Sprintf("accuracy-tests/%d/summary.json", testID)
}

func (a *SummaryArchiver) OnTestCompleted(ctx context.Context, test *accuracy.Test) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	doc := ArchivedSummary{
		TestID:         test.ID,
		ProjectID:      test.ProjectID,
		DatasetID:      test.DatasetID,
		Name:           test.Name,
		EvaluationType: test.EvaluationType,
		ScoringMethod:  test.ScoringMethod,
		Dimensions:     test.Dimensions,
		Weights:        test.Weights,
		Total:          test.Total,
		Success:        test.Success,
		Failed:         test.Failed,
		StartedAt:      test.StartedAt,
		CompletedAt:    test.CompletedAt,
		Summary:        test.ResultsSummary,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := a.store.PutObject(ctx, a.bucket, ObjectName(test.ID), "application/json", data); err != nil {
		return err
	}
	log.Debug("archived results summary", "test_id", test.ID, "bucket", a.bucket)
	return nil
}

func (a *SummaryArchiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	if err := a.store.EnsureBucketExists(ctx, a.bucket); err != nil {
		return fmt.Errorf("archive bucket %s: %w", a.bucket, err)
	}
	a.ready = true
	return nil
}

// Load reads back an archived summary
func (a *SummaryArchiver) Load(ctx context.Context, testID int64) (*ArchivedSummary, error) {
	data, err := a.store.GetObject(ctx, a.bucket, ObjectName(testID))
	if err != nil {
		return nil, err
	}
	var doc ArchivedSummary
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode archived summary: %w", err)
	}
	return &doc, nil
}
