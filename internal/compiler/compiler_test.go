package compiler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stationquest/render-api/internal/model"
)

var testOpts = Options{
	Width:               1280,
	Height:              720,
	FPS:                 30,
	PlaceholderDuration: 5 * time.Second,
}

func ms(v int64) *int64 { return &v }

func baseScene(index int, kind model.SceneKind, start, end int64) model.Scene {
	return model.Scene{Index: index, Kind: kind, StartMS: ms(start), EndMS: ms(end)}
}

func TestCompile_FullTimeline(t *testing.T) {
	scenes := []model.Scene{
		baseScene(0, model.SceneIntro, 0, 3000),
		{Index: 1, Kind: model.SceneUserClip},
		{
			Index: 2, Kind: model.SceneOverlay, StartMS: ms(0), EndMS: ms(2000),
			Overlay: &model.OverlaySpec{Text: "Well done!", X: 50, Y: 80},
		},
		baseScene(3, model.SceneOutro, 0, 3000),
	}
	binding := Binding{
		TemplatePath: "/work/template.mp4",
		Clips:        []BoundClip{{Path: "/work/clip-0.mp4", DurationMS: 8000}},
	}

	res, err := Compile(scenes, binding, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if len(res.Inputs) != 2 {
		t.Errorf("expected 2 inputs (template, clip), got %d: %v", len(res.Inputs), res.Inputs)
	}
	if res.StreamPairs != 4 {
		t.Errorf("expected 4 stream pairs, got %d", res.StreamPairs)
	}
	if !strings.Contains(res.Script, "concat=n=4:v=1:a=1[vout][aout]") {
		t.Errorf("expected 4-way concat, script: %s", res.Script)
	}
	if res.VideoLabel != "[vout]" || res.AudioLabel != "[aout]" {
		t.Errorf("unexpected output labels %s/%s", res.VideoLabel, res.AudioLabel)
	}
	if want := 16 * time.Second; res.EstimatedDuration != want {
		t.Errorf("expected estimated duration %v, got %v", want, res.EstimatedDuration)
	}
	if !strings.Contains(res.Script, "drawtext=text='Well done!'") {
		t.Errorf("expected overlay text in script: %s", res.Script)
	}
	// (50,80) normalized against 1280x720
	if !strings.Contains(res.Script, "x=640-text_w/2:y=576-text_h/2") {
		t.Errorf("expected overlay position pixels in script: %s", res.Script)
	}
}

func TestCompile_SingleSceneSkipsConcat(t *testing.T) {
	scenes := []model.Scene{baseScene(0, model.SceneIntro, 500, 2500)}

	res, err := Compile(scenes, Binding{TemplatePath: "/work/template.mp4"}, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if strings.Contains(res.Script, "concat") {
		t.Errorf("single scene must not concat: %s", res.Script)
	}
	if res.VideoLabel != "[v0]" || res.AudioLabel != "[a0]" {
		t.Errorf("expected passthrough labels, got %s/%s", res.VideoLabel, res.AudioLabel)
	}
	if !strings.Contains(res.Script, "trim=start=0.500:end=2.500") {
		t.Errorf("expected trim offsets in script: %s", res.Script)
	}
}

func TestCompile_PlaceholderForMissingClip(t *testing.T) {
	scenes := []model.Scene{
		baseScene(0, model.SceneIntro, 0, 3000),
		{Index: 1, Kind: model.SceneUserClip},
		baseScene(2, model.SceneOutro, 0, 3000),
	}

	res, err := Compile(scenes, Binding{TemplatePath: "/work/template.mp4"}, testOpts)
	if err != nil {
		t.Fatalf("expected placeholder, not failure: %v", err)
	}

	if len(res.Inputs) != 1 {
		t.Errorf("expected template-only inputs, got %v", res.Inputs)
	}
	if !strings.Contains(res.Script, "color=c=black:s=1280x720:r=30:d=5.000") {
		t.Errorf("expected black placeholder source: %s", res.Script)
	}
	if !strings.Contains(res.Script, "anullsrc=channel_layout=stereo") {
		t.Errorf("expected silent placeholder audio: %s", res.Script)
	}
	if want := 11 * time.Second; res.EstimatedDuration != want {
		t.Errorf("expected estimated duration %v, got %v", want, res.EstimatedDuration)
	}
}

func TestCompile_StationCorrelatedMatching(t *testing.T) {
	scenes := []model.Scene{
		{Index: 0, Kind: model.SceneUserClip, StationID: "station-a"},
		{Index: 1, Kind: model.SceneUserClip, StationID: "station-b"},
	}
	// Submitted in reverse station order; station ids must win over position.
	binding := Binding{
		TemplatePath: "/work/template.mp4",
		Clips: []BoundClip{
			{Path: "/work/clip-b.mp4", DurationMS: 4000, StationID: "station-b"},
			{Path: "/work/clip-a.mp4", DurationMS: 4000, StationID: "station-a"},
		},
	}

	res, err := Compile(scenes, binding, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if len(res.Inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %v", res.Inputs)
	}
	// Input order follows scene order, so the station-a clip binds first.
	if res.Inputs[1] != "/work/clip-a.mp4" || res.Inputs[2] != "/work/clip-b.mp4" {
		t.Errorf("station correlation not honored, inputs: %v", res.Inputs)
	}
}

func TestCompile_PositionalFallback(t *testing.T) {
	scenes := []model.Scene{
		{Index: 0, Kind: model.SceneUserClip},
		{Index: 1, Kind: model.SceneUserClip},
	}
	binding := Binding{
		TemplatePath: "/work/template.mp4",
		Clips: []BoundClip{
			{Path: "/work/first.mp4", DurationMS: 1000},
			{Path: "/work/second.mp4", DurationMS: 1000},
		},
	}

	res, err := Compile(scenes, binding, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if res.Inputs[1] != "/work/first.mp4" || res.Inputs[2] != "/work/second.mp4" {
		t.Errorf("expected submission order binding, inputs: %v", res.Inputs)
	}
}

func TestCompile_EscapesQuotes(t *testing.T) {
	scenes := []model.Scene{
		{
			Index: 0, Kind: model.SceneOverlay, StartMS: ms(0), EndMS: ms(1000),
			Overlay: &model.OverlaySpec{Text: "it's a 'test': done, right?", X: 10, Y: 10},
		},
	}

	res, err := Compile(scenes, Binding{TemplatePath: "/work/template.mp4"}, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if !strings.Contains(res.Script, `it\\\'s`) {
		t.Errorf("single quotes must be escaped: %s", res.Script)
	}
	if !strings.Contains(res.Script, `done\,`) || !strings.Contains(res.Script, `\:`) {
		t.Errorf("filter metacharacters must be escaped: %s", res.Script)
	}
}

func TestCompile_ValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		scenes []model.Scene
	}{
		{"empty timeline", nil},
		{"end before start", []model.Scene{baseScene(0, model.SceneIntro, 3000, 1000)}},
		{"missing offsets", []model.Scene{{Index: 0, Kind: model.SceneOutro}}},
		{"negative start", []model.Scene{baseScene(0, model.SceneIntro, -100, 1000)}},
		{"user_clip with offsets", []model.Scene{baseScene(0, model.SceneUserClip, 0, 1000)}},
		{"unknown kind", []model.Scene{{Index: 0, Kind: model.SceneKind("quiz")}}},
		{"overlay position out of range", []model.Scene{{
			Index: 0, Kind: model.SceneOverlay, StartMS: ms(0), EndMS: ms(1000),
			Overlay: &model.OverlaySpec{Text: "x", X: 140, Y: 10},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.scenes, Binding{TemplatePath: "/work/template.mp4"}, testOpts)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCompile_SceneOrderFollowsIndex(t *testing.T) {
	scenes := []model.Scene{
		baseScene(2, model.SceneOutro, 0, 1000),
		baseScene(0, model.SceneIntro, 0, 2000),
		{Index: 1, Kind: model.SceneUserClip},
	}
	binding := Binding{
		TemplatePath: "/work/template.mp4",
		Clips:        []BoundClip{{Path: "/work/clip.mp4", DurationMS: 3000}},
	}

	res, err := Compile(scenes, binding, testOpts)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	// The intro (index 0) must produce the first labeled pair.
	if !strings.Contains(res.Script, "trim=start=0.000:end=2.000,setpts=PTS-STARTPTS[v0]") {
		t.Errorf("timeline not sorted by scene index: %s", res.Script)
	}
	if !strings.Contains(res.Script, fmt.Sprintf("concat=n=%d", 3)) {
		t.Errorf("expected 3-way concat: %s", res.Script)
	}
}
