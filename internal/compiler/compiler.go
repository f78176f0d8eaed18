// Package compiler turns a template's scene timeline, bound to staged local
// files, into an ffmpeg filter_complex script. Compilation is pure: no
// process is spawned and no file is touched.
package compiler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stationquest/render-api/internal/model"
)

// Options are the canonical frame parameters the compiled graph targets.
type Options struct {
	Width  int
	Height int
	FPS    int
	// PlaceholderDuration is used for a user_clip scene with no bound clip.
	PlaceholderDuration time.Duration
}

// BoundClip is a staged user clip available for binding to a user_clip scene.
type BoundClip struct {
	Path       string
	DurationMS int64
	StationID  string
}

// Binding maps the timeline's remote assets to local staged files.
type Binding struct {
	TemplatePath string
	Clips        []BoundClip
}

// Result is the compiled processing graph. Inputs is the ordered file list
// the script's stream references assume; the labels are what the output
// streams must be mapped from.
type Result struct {
	Inputs            []string
	Script            string
	VideoLabel        string
	AudioLabel        string
	StreamPairs       int
	EstimatedDuration time.Duration
}

// ValidationError reports structurally invalid timeline data. It is never
// retryable: the same timeline compiles to the same failure.
type ValidationError struct {
	SceneIndex int
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid scene %d: %s", e.SceneIndex, e.Reason)
}

// Compile builds the filter graph for one render. Well-formed input never
// fails; malformed scene data returns a *ValidationError before any external
// process could be invoked. A user_clip scene with no available clip compiles
// to a silent black placeholder so incomplete submissions still render.
func Compile(scenes []model.Scene, b Binding, opts Options) (*Result, error) {
	if len(scenes) == 0 {
		return nil, &ValidationError{SceneIndex: -1, Reason: "timeline has no scenes"}
	}

	ordered := make([]model.Scene, len(scenes))
	copy(ordered, scenes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, sc := range ordered {
		if err := validateScene(sc); err != nil {
			return nil, err
		}
	}

	bindings := matchClips(ordered, b.Clips)

	// Template is always input 0; clips are appended in binding order.
	inputs := []string{b.TemplatePath}
	inputIdx := make(map[int]int) // clip index → ffmpeg input index
	for _, ci := range bindings {
		if ci < 0 {
			continue
		}
		if _, ok := inputIdx[ci]; !ok {
			inputIdx[ci] = len(inputs)
			inputs = append(inputs, b.Clips[ci].Path)
		}
	}

	var (
		chains  []string
		estMS   int64
		userPos int
	)

	for n, sc := range ordered {
		switch sc.Kind {
		case model.SceneIntro, model.SceneOutro, model.SceneOverlay:
			start, end := float64(*sc.StartMS)/1000, float64(*sc.EndMS)/1000
			video := fmt.Sprintf("[0:v]trim=start=%.3f:end=%.3f,setpts=PTS-STARTPTS", start, end)
			if sc.Kind == model.SceneOverlay && sc.Overlay != nil && sc.Overlay.Text != "" {
				video += "," + drawtext(sc.Overlay, opts)
			}
			chains = append(chains,
				fmt.Sprintf("%s[v%d]", video, n),
				fmt.Sprintf("[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[a%d]", start, end, n),
			)
			estMS += *sc.EndMS - *sc.StartMS

		case model.SceneUserClip:
			ci := bindings[userPos]
			userPos++
			if ci < 0 {
				d := opts.PlaceholderDuration.Seconds()
				chains = append(chains,
					fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%.3f[v%d]", opts.Width, opts.Height, opts.FPS, d, n),
					fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=44100:d=%.3f[a%d]", d, n),
				)
				estMS += opts.PlaceholderDuration.Milliseconds()
				continue
			}
			in := inputIdx[ci]
			chains = append(chains,
				fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,setpts=PTS-STARTPTS[v%d]",
					in, opts.Width, opts.Height, opts.Width, opts.Height, n),
				fmt.Sprintf("[%d:a]asetpts=PTS-STARTPTS[a%d]", in, n),
			)
			estMS += b.Clips[ci].DurationMS
		}
	}

	videoLabel := "[v0]"
	audioLabel := "[a0]"
	if len(ordered) > 1 {
		// concat with n=1 is undefined in ffmpeg; a single scene passes
		// its sub-streams through directly.
		var concat strings.Builder
		for n := range ordered {
			fmt.Fprintf(&concat, "[v%d][a%d]", n, n)
		}
		fmt.Fprintf(&concat, "concat=n=%d:v=1:a=1[vout][aout]", len(ordered))
		chains = append(chains, concat.String())
		videoLabel, audioLabel = "[vout]", "[aout]"
	}

	return &Result{
		Inputs:            inputs,
		Script:            strings.Join(chains, ";"),
		VideoLabel:        videoLabel,
		AudioLabel:        audioLabel,
		StreamPairs:       len(ordered),
		EstimatedDuration: time.Duration(estMS) * time.Millisecond,
	}, nil
}

func validateScene(sc model.Scene) error {
	switch sc.Kind {
	case model.SceneIntro, model.SceneOutro, model.SceneOverlay:
		if sc.StartMS == nil || sc.EndMS == nil {
			return &ValidationError{SceneIndex: sc.Index, Reason: "base-video offsets are required"}
		}
		if *sc.StartMS < 0 {
			return &ValidationError{SceneIndex: sc.Index, Reason: "negative start offset"}
		}
		if *sc.EndMS < *sc.StartMS {
			return &ValidationError{SceneIndex: sc.Index, Reason: "end offset before start offset"}
		}
		if sc.Kind == model.SceneOverlay && sc.Overlay != nil {
			ov := sc.Overlay
			if ov.X < 0 || ov.X > 100 || ov.Y < 0 || ov.Y > 100 {
				return &ValidationError{SceneIndex: sc.Index, Reason: "overlay position outside 0-100"}
			}
		}
	case model.SceneUserClip:
		if sc.StartMS != nil || sc.EndMS != nil {
			return &ValidationError{SceneIndex: sc.Index, Reason: "user_clip scenes carry no base-video offsets"}
		}
	default:
		return &ValidationError{SceneIndex: sc.Index, Reason: fmt.Sprintf("unknown scene kind %q", sc.Kind)}
	}
	return nil
}

// matchClips binds clips to user_clip scenes. Station-correlated matches win
// first; scenes left over take the remaining clips in submission order, which
// is the legacy positional behavior for templates without station ids.
// Returns one entry per user_clip scene (in timeline order); -1 means no clip
// and a placeholder is substituted.
func matchClips(ordered []model.Scene, clips []BoundClip) []int {
	var userScenes []model.Scene
	for _, sc := range ordered {
		if sc.Kind == model.SceneUserClip {
			userScenes = append(userScenes, sc)
		}
	}

	bindings := make([]int, len(userScenes))
	used := make([]bool, len(clips))
	for i := range bindings {
		bindings[i] = -1
	}

	for i, sc := range userScenes {
		if sc.StationID == "" {
			continue
		}
		for ci, clip := range clips {
			if !used[ci] && clip.StationID != "" && clip.StationID == sc.StationID {
				bindings[i] = ci
				used[ci] = true
				break
			}
		}
	}

	for i := range userScenes {
		if bindings[i] >= 0 {
			continue
		}
		for ci := range clips {
			if !used[ci] {
				bindings[i] = ci
				used[ci] = true
				break
			}
		}
	}

	return bindings
}

func drawtext(ov *model.OverlaySpec, opts Options) string {
	size := ov.Font.Size
	if size <= 0 {
		size = 36
	}
	color := ov.Font.Color
	if color == "" {
		color = "white"
	}
	family := ov.Font.Family
	if family == "" {
		family = "Sans"
	}
	if ov.Font.Bold {
		family += " Bold"
	}

	x := ov.X * opts.Width / 100
	y := ov.Y * opts.Height / 100

	return fmt.Sprintf("drawtext=text='%s':font='%s':fontsize=%d:fontcolor=%s:x=%d-text_w/2:y=%d-text_h/2",
		escapeText(ov.Text), escapeText(family), size, color, x, y)
}

// escapeText escapes a string for use inside a single-quoted drawtext value.
// Backslash first, then the characters the filter parser treats specially.
var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\\\'`,
	`"`, `\"`,
	`:`, `\:`,
	`,`, `\,`,
	`;`, `\;`,
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
