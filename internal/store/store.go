// Package store persists render job records. The single correctness
// requirement (see RedisStore) is that every status change is a conditional
// transition: a job moves out of pending exactly once, no matter how many
// workers race for it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stationquest/render-api/internal/model"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrInvalidState     = errors.New("job is not in a state that allows this operation")
	ErrTemplateNotFound = errors.New("template not found")
)

// JobStore is the record-store contract consumed by the lifecycle API and the
// render worker. Implementations must reject transitions that are illegal
// under model.Status.CanTransition.
type JobStore interface {
	// Insert creates a new pending job and makes it visible to PendingBatch.
	Insert(ctx context.Context, job *model.RenderJob) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*model.RenderJob, error)

	// PendingBatch returns up to limit pending jobs whose ready time has
	// passed, oldest first. Returned jobs are not claimed.
	PendingBatch(ctx context.Context, now time.Time, limit int) ([]*model.RenderJob, error)

	// Claim atomically transitions pending→processing. Exactly one of any
	// number of concurrent claims succeeds; the rest observe false.
	Claim(ctx context.Context, id string) (bool, error)

	// Cancel transitions pending→cancelled. ErrInvalidState if the job was
	// already claimed or terminal.
	Cancel(ctx context.Context, id string) error

	// UpdateProgress records progress for a processing job. Values that do
	// not increase the persisted progress are dropped, keeping the recorded
	// sequence monotonic.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Complete transitions processing→completed with progress 100 and the
	// stored output location.
	Complete(ctx context.Context, id string, outputPath string) error

	// Fail transitions processing→failed with a human-readable summary.
	Fail(ctx context.Context, id string, summary string) error

	// Requeue transitions processing→pending for a retry, incrementing the
	// retry count. The job becomes eligible for PendingBatch at readyAt.
	Requeue(ctx context.Context, id string, readyAt time.Time) error

	// ListForEvent returns all jobs for an event, newest first.
	ListForEvent(ctx context.Context, eventID string) ([]*model.RenderJob, error)
}

// TemplateSource resolves the read-only template records authored by the
// organizer side of the platform.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id string) (*model.VideoTemplate, error)
}
