// Package engine supervises the external ffmpeg process for one render: it
// assembles the invocation, watches the diagnostic stream for elapsed-time
// markers, and turns a non-zero exit into a typed error carrying the last
// diagnostic lines.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stationquest/render-api/internal/config"
)

// tailLines is how many trailing stderr lines are kept for error reporting.
const tailLines = 12

// ProcessError reports an ffmpeg run that exited non-zero or could not start.
// Retryable: transient encoder crashes do happen.
type ProcessError struct {
	ExitCode int
	Tail     []string
	Err      error
}

func (e *ProcessError) Error() string {
	if len(e.Tail) > 0 {
		return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Tail[len(e.Tail)-1])
	}
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Request describes one ffmpeg invocation compiled from a job's timeline.
type Request struct {
	Inputs            []string
	FilterScript      string
	VideoLabel        string
	AudioLabel        string
	OutputPath        string
	EstimatedDuration time.Duration
	// OnProgress receives strictly increasing percentages in [0,99]; the
	// caller decides when 100 is written.
	OnProgress func(percent int)
}

type Engine struct {
	ffmpegPath string
	encode     config.RenderConfig
	log        zerolog.Logger
}

func New(ffmpegPath string, encode config.RenderConfig, log zerolog.Logger) *Engine {
	return &Engine{ffmpegPath: ffmpegPath, encode: encode, log: log}
}

// Render runs ffmpeg to completion. The exit code is the sole success signal.
func (e *Engine) Render(ctx context.Context, req Request) error {
	args := e.buildArgs(req)

	e.log.Debug().Strs("args", args).Msg("spawning ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ProcessError{ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &ProcessError{ExitCode: -1, Err: err}
	}

	var tail []string
	lastPct := -1

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()

		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}

		elapsed, ok := ParseTimeOffset(line)
		if !ok || req.EstimatedDuration <= 0 || req.OnProgress == nil {
			continue
		}
		pct := progressPercent(elapsed, req.EstimatedDuration)
		if pct > lastPct {
			lastPct = pct
			req.OnProgress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return &ProcessError{ExitCode: code, Tail: tail, Err: err}
	}

	return nil
}

func (e *Engine) buildArgs(req Request) []string {
	args := []string{"-y", "-hide_banner"}
	for _, in := range req.Inputs {
		args = append(args, "-i", in)
	}

	args = append(args,
		"-filter_complex", req.FilterScript,
		"-map", req.VideoLabel,
		"-map", req.AudioLabel,
		"-c:v", e.encode.VideoCodec,
		"-preset", e.encode.Preset,
		"-b:v", e.encode.VideoBitrate,
		"-r", strconv.Itoa(e.encode.FPS),
		"-c:a", e.encode.AudioCodec,
		"-b:a", e.encode.AudioBitrate,
		"-movflags", "+faststart",
		req.OutputPath,
	)
	return args
}

// timeRe matches the elapsed-time marker in ffmpeg's periodic stats lines,
// e.g. "frame= 120 fps= 30 ... time=00:00:04.02 bitrate=...".
var timeRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ParseTimeOffset extracts the HH:MM:SS.ff elapsed marker from a diagnostic
// line.
func ParseTimeOffset(line string) (time.Duration, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)

	// Round to the millisecond; a raw float multiply truncates and turns
	// 4.02 into 4.019999999s.
	d := time.Duration(h)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(math.Round(sec*1000))*time.Millisecond
	return d, true
}

// progressPercent converts elapsed output time into a percentage of the
// estimated total, capped at 99 so only the finalize step reports 100.
func progressPercent(elapsed, total time.Duration) int {
	pct := int(elapsed * 100 / total)
	if pct < 0 {
		pct = 0
	}
	if pct > 99 {
		pct = 99
	}
	return pct
}

