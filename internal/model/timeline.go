package model

// Scene kinds
type SceneKind string

const (
	SceneIntro    SceneKind = "intro"
	SceneUserClip SceneKind = "user_clip"
	SceneOverlay  SceneKind = "overlay"
	SceneOutro    SceneKind = "outro"
)

var ValidSceneKinds = []SceneKind{
	SceneIntro, SceneUserClip, SceneOverlay, SceneOutro,
}

// FontSpec describes the overlay text style.
type FontSpec struct {
	Family string `json:"family"`
	Size   int    `json:"size"`
	Color  string `json:"color"`
	Bold   bool   `json:"bold"`
}

// OverlaySpec is text burned into an overlay scene. X and Y are normalized
// 0–100 positions against the canonical frame.
type OverlaySpec struct {
	Text string   `json:"text"`
	X    int      `json:"x"`
	Y    int      `json:"y"`
	Font FontSpec `json:"font"`
}

// Scene is one timed, typed segment of a template's playback timeline.
// StartMS/EndMS are offsets into the template's base video; they are required
// for intro/outro/overlay scenes and absent on user_clip scenes, which are
// filled from the team's submission instead.
type Scene struct {
	Index     int          `json:"index"`
	Kind      SceneKind    `json:"kind"`
	StartMS   *int64       `json:"startMs,omitempty"`
	EndMS     *int64       `json:"endMs,omitempty"`
	StationID string       `json:"stationId,omitempty"` // user_clip correlation
	Overlay   *OverlaySpec `json:"overlay,omitempty"`
}

// VideoTemplate is the reusable base video plus its scene timeline. Authored
// elsewhere; read-only to the render pipeline.
type VideoTemplate struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	StorageKey string  `json:"storageKey"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	DurationMS int64   `json:"durationMs"`
	Scenes     []Scene `json:"scenes"`
}
