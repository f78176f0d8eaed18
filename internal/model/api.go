package model

import "time"

// RenderStartRequest enqueues one render for a team's run of an event.
// Clips may be empty: a template-only render is valid.
type RenderStartRequest struct {
	EventID    string        `json:"eventId" validate:"required"`
	TeamID     string        `json:"teamId" validate:"required"`
	TemplateID string        `json:"templateId" validate:"required"`
	Clips      []ClipRequest `json:"clips" validate:"dive"`
}

type ClipRequest struct {
	ID         string    `json:"id" validate:"required"`
	StorageKey string    `json:"storageKey" validate:"required"`
	DurationMS int64     `json:"durationMs" validate:"gte=0"`
	StationID  string    `json:"stationId"`
	CapturedAt time.Time `json:"capturedAt"`
}

type RenderStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type RenderStatusResponse struct {
	JobID       string     `json:"jobId"`
	EventID     string     `json:"eventId"`
	TeamID      string     `json:"teamId"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	OutputPath  string     `json:"outputPath,omitempty"`
	Error       *string    `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type RenderCancelResponse struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
}

type RenderOutputResponse struct {
	JobID     string `json:"jobId"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

type RenderListResponse struct {
	EventID string                 `json:"eventId"`
	Jobs    []RenderStatusResponse `json:"jobs"`
}
