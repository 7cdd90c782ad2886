package job

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

var ErrJobNotFound = errors.New("job not found")

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a background job
type Job struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	TaskType  string         `json:"task_type" gorm:"size:64;index"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status    JobStatus      `json:"status" gorm:"size:32;index"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobRepository defines the interface for job persistence
type JobRepository interface {
	Create(ctx context.Context, taskType string, payload []byte) (*Job, error)
	Get(ctx context.Context, id int64) (*Job, error)
	UpdateStatus(ctx context.Context, id int64, status JobStatus, err *string) error
}
