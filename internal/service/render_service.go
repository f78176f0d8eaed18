package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stationquest/render-api/internal/client"
	"github.com/stationquest/render-api/internal/model"
	"github.com/stationquest/render-api/internal/store"
)

// RenderService handles render job management: enqueueing, status reads,
// cancellation, and signed access to finished output. The actual rendering
// happens in the worker; this layer only touches the job store.
type RenderService struct {
	jobs         store.JobStore
	templates    store.TemplateSource
	storage      client.StorageClient
	maxRetries   int
	signedExpiry time.Duration
}

func NewRenderService(jobs store.JobStore, templates store.TemplateSource, storage client.StorageClient, maxRetries int, signedExpiry time.Duration) *RenderService {
	return &RenderService{
		jobs:         jobs,
		templates:    templates,
		storage:      storage,
		maxRetries:   maxRetries,
		signedExpiry: signedExpiry,
	}
}

// StartRender validates the template reference and persists a pending job.
// The worker picks it up on its next poll.
func (s *RenderService) StartRender(ctx context.Context, req *model.RenderStartRequest) (*model.RenderStartResponse, error) {
	if _, err := s.templates.GetTemplate(ctx, req.TemplateID); err != nil {
		return nil, fmt.Errorf("template %s: %w", req.TemplateID, err)
	}

	now := time.Now().UTC()
	job := &model.RenderJob{
		ID:         uuid.New().String(),
		EventID:    req.EventID,
		TeamID:     req.TeamID,
		TemplateID: req.TemplateID,
		Status:     model.StatusPending,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, clip := range req.Clips {
		job.Clips = append(job.Clips, model.ClipRef{
			ID:         clip.ID,
			StorageKey: clip.StorageKey,
			DurationMS: clip.DurationMS,
			StationID:  clip.StationID,
			CapturedAt: clip.CapturedAt,
		})
	}

	if err := s.jobs.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	return &model.RenderStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// GetStatus returns the current state of a render job.
func (s *RenderService) GetStatus(ctx context.Context, jobID string) (*model.RenderStatusResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := statusOf(job)
	return &resp, nil
}

// GetOutputURL returns a time-limited signed URL for a completed job's
// rendered video. Jobs in any other state have no output to sign.
func (s *RenderService) GetOutputURL(ctx context.Context, jobID string) (*model.RenderOutputResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, store.ErrInvalidState)
	}

	url, err := s.storage.GetSignedURL(ctx, job.OutputPath, s.signedExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign output url: %w", err)
	}

	return &model.RenderOutputResponse{
		JobID:     jobID,
		URL:       url,
		ExpiresIn: int(s.signedExpiry.Seconds()),
	}, nil
}

// CancelRender cancels a job that has not started processing. Cancelling a
// job in any other state is a conflict, not a no-op: the caller learns the
// render already ran (or is running) instead of silently winning.
func (s *RenderService) CancelRender(ctx context.Context, jobID string) (*model.RenderCancelResponse, error) {
	if err := s.jobs.Cancel(ctx, jobID); err != nil {
		return nil, err
	}
	return &model.RenderCancelResponse{
		JobID:  jobID,
		Status: model.StatusCancelled,
	}, nil
}

// ListForEvent returns every render job for an event, newest first.
func (s *RenderService) ListForEvent(ctx context.Context, eventID string) (*model.RenderListResponse, error) {
	jobs, err := s.jobs.ListForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	resp := &model.RenderListResponse{EventID: eventID, Jobs: []model.RenderStatusResponse{}}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, statusOf(job))
	}
	return resp, nil
}

func statusOf(job *model.RenderJob) model.RenderStatusResponse {
	return model.RenderStatusResponse{
		JobID:       job.ID,
		EventID:     job.EventID,
		TeamID:      job.TeamID,
		Status:      job.Status,
		Progress:    job.Progress,
		OutputPath:  job.OutputPath,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
