package workflow

import (
	"context"
	"time"

	"solasola/internal/tasks"
)

// StageID names a progress stage. The value doubles as the layout label.
type StageID string

const (
	StagePrepareFiles StageID = "Preparing Files"
	StagePrepareModel StageID = "Preparing Model"
	StageSeparate     StageID = "Separating Stems"
	StageScore        StageID = "Converting to Score"
	StageAnalyze      StageID = "Analyzing Music"
	StageFinalize     StageID = "Finalizing"
)

const estimateInterval = time.Second

// Plan is the progress layout of one task.
type Plan struct {
	Layout tasks.Layout
}

// Index returns the 1-based position of id in the layout, or 0 when the
// stage is not part of this task.
func (p Plan) Index(id StageID) int {
	for i, stage := range p.Layout {
		if stage.Label == string(id) {
			return i + 1
		}
	}
	return 0
}

// SubStages returns the sub-stage count of id, or 0 when absent.
func (p Plan) SubStages(id StageID) int {
	if idx := p.Index(id); idx > 0 {
		return p.Layout[idx-1].SubStages
	}
	return 0
}

// BuildPlan lays out the stages a job will report.
func BuildPlan(files ClassifiedFiles, mode Mode, model string) Plan {
	if mode == ModeLyricsOnly {
		return Plan{Layout: tasks.Layout{
			{Label: string(StagePrepareFiles), Weight: 2, SubStages: 3},
			{Label: string(StageFinalize), Weight: 3, SubStages: 3},
		}}
	}
	separation := 1
	switch {
	case len(files.Audio) == 0 && len(files.MIDI) > 0:
		separation = 0
	case model == "htdemucs_ft":
		separation = 4
	}
	return Plan{Layout: tasks.Layout{
		{Label: string(StagePrepareFiles), Weight: 2, SubStages: 3},
		{Label: string(StagePrepareModel), Weight: 3, SubStages: 1},
		{Label: string(StageSeparate), Weight: 83, SubStages: separation},
		{Label: string(StageScore), Weight: 6, SubStages: scoreStems(files, model) + 1},
		{Label: string(StageAnalyze), Weight: 3, SubStages: 2},
		{Label: string(StageFinalize), Weight: 3, SubStages: 3},
	}}
}

// scoreStems is the number of parts the transcription step is expected to
// handle before the notation sub-stage.
func scoreStems(files ClassifiedFiles, model string) int {
	switch {
	case len(files.MIDI) > 0:
		return len(files.MIDI)
	case len(files.Audio) > 1:
		return len(files.Audio)
	case model == "htdemucs_6s":
		return 6
	default:
		return 4
	}
}

// reporter translates stage-relative progress into registry updates.
type reporter struct {
	tasks  *tasks.Registry
	taskID string
	plan   Plan
}

func (r reporter) update(stage StageID, subStage int, percent float64, step string) {
	idx := r.plan.Index(stage)
	if idx == 0 {
		return
	}
	if total := r.plan.SubStages(stage); total > 0 {
		subStage = min(max(subStage, 1), total)
	}
	r.tasks.UpdateDetailed(r.taskID, idx, subStage, percent, step)
}

// estimate reports interpolated progress for a sub-stage whose tool gives
// no progress of its own. Callers must Stop the returned estimator.
func (r reporter) estimate(ctx context.Context, stage StageID, subStage int, expected time.Duration, step string) *tasks.ProgressEstimator {
	return tasks.StartEstimator(ctx, expected, estimateInterval, func(percent float64) {
		r.update(stage, subStage, percent, step)
	})
}
