// Package worker runs the render control loop: it polls the job store for
// pending work, claims jobs, stages media, compiles the filter graph, and
// supervises ffmpeg until the job reaches a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stationquest/render-api/internal/compiler"
	"github.com/stationquest/render-api/internal/engine"
	"github.com/stationquest/render-api/internal/model"
	"github.com/stationquest/render-api/internal/staging"
	"github.com/stationquest/render-api/internal/store"
)

// Stager is the media staging contract (implemented by staging.Stager).
type Stager interface {
	Stage(ctx context.Context, job *model.RenderJob, tpl *model.VideoTemplate) (*staging.Staged, error)
	Publish(ctx context.Context, job *model.RenderJob, localOutputPath string) (string, error)
	Cleanup(job *model.RenderJob)
}

// Runner executes one compiled render (implemented by engine.Engine).
type Runner interface {
	Render(ctx context.Context, req engine.Request) error
}

// Notifier pushes live job events to subscribers (implemented by the ws hub).
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.Status)
	BroadcastComplete(jobID string, outputPath string)
	BroadcastError(jobID string, message string)
}

// Config holds the loop parameters. The polling JobStore contract ("claim
// next pending batch") is the seam: a push-based queue can replace the poll
// without touching the per-job pipeline.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxConcurrent  int
	MaxRetries     int // default when the job record carries none
	RetryBackoff   time.Duration
	CompileOptions compiler.Options
}

type Worker struct {
	store     store.JobStore
	templates store.TemplateSource
	stager    Stager
	runner    Runner
	hub       Notifier
	cfg       Config
	log       zerolog.Logger
}

func New(jobs store.JobStore, templates store.TemplateSource, stager Stager, runner Runner, hub Notifier, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		store:     jobs,
		templates: templates,
		stager:    stager,
		runner:    runner,
		hub:       hub,
		cfg:       cfg,
		log:       log,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight renders to
// settle. Renders within one batch run concurrently, bounded by
// MaxConcurrent since each spawns a resource-heavy external process.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().
		Dur("pollInterval", w.cfg.PollInterval).
		Int("maxConcurrent", w.cfg.MaxConcurrent).
		Msg("render worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.log.Info().Msg("render worker stopped")
			return
		case <-ticker.C:
			w.pollOnce(ctx, sem, &wg)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	jobs, err := w.store.PendingBatch(ctx, time.Now(), w.cfg.BatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("pending poll failed")
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		select {
		case sem <- struct{}{}:
		default:
			return // pool full; the rest stays pending for the next tick
		}

		claimed, err := w.store.Claim(ctx, job.ID)
		if err != nil || !claimed {
			// Lost the claim race to another worker, or the job was
			// cancelled between poll and claim.
			<-sem
			continue
		}
		job.Status = model.StatusProcessing

		wg.Add(1)
		go func(job *model.RenderJob) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

// process drives one claimed job to a terminal state (or back to pending for
// a retry). Errors never escape: whatever happens, the job record ends up
// explaining it and the loop keeps serving other jobs.
func (w *Worker) process(ctx context.Context, job *model.RenderJob) {
	log := w.log.With().Str("job", job.ID).Logger()
	log.Info().Str("template", job.TemplateID).Int("clips", len(job.Clips)).Msg("render started")

	defer w.stager.Cleanup(job)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("render panicked")
			w.finish(ctx, job, fmt.Errorf("internal error: %v", r), true)
		}
	}()

	tpl, err := w.templates.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		// A dangling template reference will dangle on retry too.
		w.finish(ctx, job, fmt.Errorf("template %s: %w", job.TemplateID, err), false)
		return
	}

	staged, err := w.stager.Stage(ctx, job, tpl)
	if err != nil {
		w.finish(ctx, job, err, true)
		return
	}

	opts := w.cfg.CompileOptions
	if tpl.Width > 0 && tpl.Height > 0 {
		opts.Width, opts.Height = tpl.Width, tpl.Height
	}
	res, err := compiler.Compile(tpl.Scenes, compiler.Binding{
		TemplatePath: staged.TemplatePath,
		Clips:        staged.Clips,
	}, opts)
	if err != nil {
		w.finish(ctx, job, err, false)
		return
	}

	outputPath := filepath.Join(staged.Dir, "final.mp4")
	err = w.runner.Render(ctx, engine.Request{
		Inputs:            res.Inputs,
		FilterScript:      res.Script,
		VideoLabel:        res.VideoLabel,
		AudioLabel:        res.AudioLabel,
		OutputPath:        outputPath,
		EstimatedDuration: res.EstimatedDuration,
		OnProgress: func(p int) {
			if err := w.store.UpdateProgress(ctx, job.ID, p); err != nil {
				log.Warn().Err(err).Int("progress", p).Msg("progress write failed")
			}
			w.hub.BroadcastProgress(job.ID, p, model.StatusProcessing)
		},
	})
	if err != nil {
		w.finish(ctx, job, err, true)
		return
	}

	key, err := w.stager.Publish(ctx, job, outputPath)
	if err != nil {
		w.finish(ctx, job, err, true)
		return
	}

	if err := w.store.Complete(context.WithoutCancel(ctx), job.ID, key); err != nil {
		log.Error().Err(err).Msg("complete write failed")
		return
	}
	w.hub.BroadcastComplete(job.ID, key)
	log.Info().Str("output", key).Msg("render completed")
}

// finish applies the retry policy. Structurally invalid input is certain to
// fail again, so only retryable causes go back to pending; either way the
// caller-visible outcome is a failed status with a readable summary.
func (w *Worker) finish(ctx context.Context, job *model.RenderJob, cause error, retryable bool) {
	// The loop context is cancelled on shutdown, which is itself a common
	// cause (the engine dies with ctx.Err()). The requeue/fail write must
	// still land or the job stays processing forever.
	ctx = context.WithoutCancel(ctx)
	summary := summarize(cause)
	log := w.log.With().Str("job", job.ID).Logger()

	maxRetries := job.MaxRetries
	if maxRetries == 0 {
		maxRetries = w.cfg.MaxRetries
	}

	if retryable && job.RetryCount < maxRetries {
		readyAt := time.Now().Add(w.cfg.RetryBackoff)
		if err := w.store.Requeue(ctx, job.ID, readyAt); err != nil {
			log.Error().Err(err).Msg("requeue failed")
		} else {
			log.Warn().Err(cause).Int("retry", job.RetryCount+1).Time("readyAt", readyAt).
				Msg("render requeued")
			return
		}
	}

	if err := w.store.Fail(ctx, job.ID, summary); err != nil {
		log.Error().Err(err).Msg("fail write failed")
		return
	}
	w.hub.BroadcastError(job.ID, summary)
	log.Error().Err(cause).Msg("render failed")
}

// summarize renders an internal error as the job record's error summary.
// Consumers never see raw process output or stack traces.
func summarize(err error) string {
	var verr *compiler.ValidationError
	if errors.As(err, &verr) {
		return "invalid timeline: " + verr.Error()
	}
	var serr *staging.StagingError
	if errors.As(err, &serr) {
		return serr.Error()
	}
	var perr *engine.ProcessError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return err.Error()
}
