package pipeline

import "context"

// Branch names the executor path a file took.
type Branch string

const (
	BranchCopy  Branch = "copy"
	BranchWrite Branch = "write"
	BranchStage Branch = "stage"
)

// GenerationInfo describes a generation when it starts.
type GenerationInfo struct {
	ID     string
	Seq    int64
	OutDir string
	Tasks  int
}

// Step is one executor run over one file.
type Step struct {
	GenerationID string `json:"generation_id"`
	Seq          int64  `json:"seq"`
	Task         int    `json:"task"`
	Path         string `json:"path"`
	Branch       Branch `json:"branch"`

	// Destination is the output file for copy/write, or the staged path.
	Destination string `json:"destination"`

	// Incremental is true for steps replayed by Rebuild.
	Incremental bool `json:"incremental"`
}

// Recorder receives a journal of build activity.
//
// Recorder failures are logged and never fail a build.
type Recorder interface {
	BeginGeneration(ctx context.Context, info GenerationInfo) error
	RecordStep(ctx context.Context, step Step) error
	EndGeneration(ctx context.Context, id string, buildErr error) error
}

type nopRecorder struct{}

func (nopRecorder) BeginGeneration(context.Context, GenerationInfo) error { return nil }
func (nopRecorder) RecordStep(context.Context, Step) error                { return nil }
func (nopRecorder) EndGeneration(context.Context, string, error) error    { return nil }
