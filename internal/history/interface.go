package history

import (
	"context"
	"time"

	"PS3DL/internal/model"
)

// Status is the lifecycle state of one acquisition run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one recorded acquisition attempt of a target.
type Run struct {
	ID           string
	TargetID     string
	Title        string
	Status       Status
	ArtifactPath string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time of a finished run, zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Repository describes the persistence contract for the acquisition ledger.
type Repository interface {
	// Bootstrap prepares the backing store (schema creation).
	Bootstrap(ctx context.Context) error
	Start(ctx context.Context, target model.Target) (Run, error)
	Finish(ctx context.Context, id string, status Status, artifactPath, errText string) error
	// LastCompleted returns the most recent completed run of targetID, if any.
	LastCompleted(ctx context.Context, targetID string) (Run, bool, error)
	Recent(ctx context.Context, limit int) ([]Run, error)
}
