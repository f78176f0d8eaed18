// Package staging moves media between object storage and a job's local
// working directory: everything a render needs is fetched before ffmpeg
// starts, and the finished file is pushed back when it exits.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/stationquest/render-api/internal/client"
	"github.com/stationquest/render-api/internal/compiler"
	"github.com/stationquest/render-api/internal/model"
)

// StagingError wraps a transport failure while fetching or pushing an asset.
// It is retryable: the asset may appear or the transport recover.
type StagingError struct {
	Asset string
	Err   error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s: %v", e.Asset, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// Staged is the local view of a job's media after a successful Stage call.
// MissingClips lists clip ids that could not be fetched; those scenes degrade
// to placeholders instead of failing the job.
type Staged struct {
	Dir          string
	TemplatePath string
	Clips        []compiler.BoundClip
	MissingClips []string
}

type Stager struct {
	storage client.StorageClient
	root    string
	log     zerolog.Logger
}

func New(storage client.StorageClient, root string, log zerolog.Logger) *Stager {
	return &Stager{storage: storage, root: root, log: log}
}

func (s *Stager) workDir(job *model.RenderJob) string {
	return filepath.Join(s.root, "render-"+job.ID)
}

// Stage downloads the template and every referenced clip into a per-job
// working directory. A template that cannot be fetched is fatal; a clip that
// cannot be fetched is skipped and reported in MissingClips.
func (s *Stager) Stage(ctx context.Context, job *model.RenderJob, tpl *model.VideoTemplate) (*Staged, error) {
	dir := s.workDir(job)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StagingError{Asset: "workdir", Err: err}
	}

	templatePath := filepath.Join(dir, "template"+mediaExt(tpl.StorageKey))
	if err := s.storage.Download(ctx, tpl.StorageKey, templatePath); err != nil {
		return nil, &StagingError{Asset: "template " + tpl.StorageKey, Err: err}
	}

	staged := &Staged{Dir: dir, TemplatePath: templatePath}
	for i, clip := range job.Clips {
		localPath := filepath.Join(dir, fmt.Sprintf("clip-%d%s", i, mediaExt(clip.StorageKey)))
		if err := s.storage.Download(ctx, clip.StorageKey, localPath); err != nil {
			s.log.Warn().Str("job", job.ID).Str("clip", clip.ID).Err(err).
				Msg("clip fetch failed, scene will use placeholder")
			staged.MissingClips = append(staged.MissingClips, clip.ID)
			continue
		}
		staged.Clips = append(staged.Clips, compiler.BoundClip{
			Path:       localPath,
			DurationMS: clip.DurationMS,
			StationID:  clip.StationID,
		})
	}

	return staged, nil
}

// Publish uploads the rendered file under a job-namespaced key and returns
// the stored key for persistence on the job record.
func (s *Stager) Publish(ctx context.Context, job *model.RenderJob, localOutputPath string) (string, error) {
	key := fmt.Sprintf("renders/%s/final.mp4", job.ID)
	if _, err := s.storage.UploadFile(ctx, key, localOutputPath, "video/mp4"); err != nil {
		return "", &StagingError{Asset: "output " + key, Err: err}
	}
	return key, nil
}

// Cleanup removes the job's working directory. Called on every exit path so
// local disk usage stays bounded; errors are logged, not returned, because
// there is nothing a caller could do with them.
func (s *Stager) Cleanup(job *model.RenderJob) {
	dir := s.workDir(job)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Error().Str("job", job.ID).Str("dir", dir).Err(err).Msg("workdir cleanup failed")
	}
}

func mediaExt(key string) string {
	if ext := filepath.Ext(key); ext != "" {
		return ext
	}
	return ".mp4"
}
