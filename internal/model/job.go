package model

import "time"

// Status is the closed set of render job states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var ValidStatuses = []Status{
	StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled,
}

// transitions is the job state machine. A transition absent here is illegal
// and must be rejected by every store implementation. processing→pending is
// the retry requeue path.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
	StatusCompleted:  nil,
	StatusFailed:     nil,
	StatusCancelled:  nil,
}

// CanTransition reports whether s → to is a legal state change.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ClipRef is a reference to a team-submitted clip carried on the job record.
// The bytes live in object storage; the worker stages them per render.
type ClipRef struct {
	ID         string    `json:"id"`
	StorageKey string    `json:"storageKey"`
	DurationMS int64     `json:"durationMs"`
	StationID  string    `json:"stationId,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// RenderJob is one unit of rendering work. The lifecycle API creates it in
// pending state; the worker owns every mutation after the claim.
type RenderJob struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	TeamID     string    `json:"teamId"`
	TemplateID string    `json:"templateId"`
	Clips      []ClipRef `json:"clips,omitempty"`

	Status     Status  `json:"status"`
	Progress   int     `json:"progress"`
	OutputPath string  `json:"outputPath,omitempty"` // set only when completed
	Error      *string `json:"error,omitempty"`      // set only when failed

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
