package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/tasks"
)

// run drives one task to a terminal state. It never returns an error; the
// outcome is recorded in the task registry.
func (m *Manager) run(taskID string, job Job) {
	defer m.done(taskID)
	ctx := m.opts.Tasks.Context(taskID)
	logger := m.taskLogger(ctx)
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "workflow panicked", "workflow_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "this is a bug; report it with the log file"),
			)
			m.ui(taskID, "A critical error occurred.", fmt.Sprintf("A critical error occurred: %v", r), "error", tasks.SeverityError)
			m.opts.Tasks.Fail(taskID, fmt.Sprintf("A critical error occurred: %v", r))
		}
	}()

	started := m.opts.Now()
	plan := BuildPlan(job.Files, job.Mode, job.Model)
	rep := reporter{tasks: m.opts.Tasks, taskID: taskID, plan: plan}
	logger.Info("workflow started",
		logging.String("mode", string(job.Mode)),
		logging.String(logging.FieldEventType, "workflow_start"),
	)

	rep.update(StagePrepareFiles, 1, 0, "Validating input files...")
	duration, err := m.resolveDuration(ctx, taskID, job)
	if err != nil {
		m.failTask(taskID, logger, err)
		return
	}
	rep.update(StagePrepareFiles, 1, 100, "File validation passed")

	songs := GroupSongs(job.Files, job.TitleOverride)
	results := make(map[string]any, len(songs))
	var lastErr error
	for _, song := range songs {
		if err := m.opts.Tasks.CheckCancelled(ctx, taskID); err != nil {
			m.failTask(taskID, logger, err)
			return
		}
		songCtx := services.WithSong(ctx, song.Title)
		result, err := m.processSong(songCtx, &songRun{
			taskID:   taskID,
			job:      job,
			song:     song,
			plan:     plan,
			rep:      rep,
			duration: duration,
			started:  started,
			logger:   logging.WithContext(songCtx, logger),
		})
		if err != nil {
			if services.IsCancelled(err) {
				m.failTask(taskID, logger, err)
				return
			}
			lastErr = err
			m.songFailed(taskID, logger, song, err)
			continue
		}
		results[song.Title] = result
	}

	if len(results) == 0 {
		message := "All files failed to process. Please check the logs for details."
		if lastErr != nil {
			message = fmt.Sprintf("All files failed to process: %s", services.Details(lastErr).Message)
		}
		m.fail(taskID, logger, message, lastErr)
		return
	}

	if err := m.opts.Tasks.CheckCancelled(ctx, taskID); err != nil {
		m.failTask(taskID, logger, err)
		return
	}
	rep.update(StageFinalize, plan.SubStages(StageFinalize), 100, "Processing complete!")
	if !m.opts.Tasks.Complete(taskID, results) {
		logger.Info("workflow cancelled after its last stage",
			logging.String(logging.FieldEventType, "workflow_cancelled"),
		)
		return
	}
	logger.Info("workflow completed",
		logging.Int("songs", len(results)),
		logging.Duration("elapsed", m.opts.Now().Sub(started)),
		logging.String(logging.FieldEventType, "workflow_complete"),
	)
}

func (m *Manager) resolveDuration(ctx context.Context, taskID string, job Job) (time.Duration, error) {
	switch {
	case len(job.Files.Audio) > 0:
		m.ui(taskID, "Validating audio files...", "Validating audio file durations and integrity...", "rule", tasks.SeverityInfo)
	case len(job.Files.MIDI) > 0:
		m.ui(taskID, "Calculating duration...", "No audio files found. Calculating duration from MIDI files...", "timer", tasks.SeverityInfo)
	default:
		m.ui(taskID, "Using default duration for lyrics.",
			fmt.Sprintf("No music file provided. Using default duration (%s) for lyrics split.", m.opts.Durations.LyricsDefault), "timer", tasks.SeverityInfo)
	}
	duration, err := ResolveDuration(ctx, m.opts.Tools.Prober, job.Files, job.Mode, m.opts.Durations)
	if errors.Is(err, ErrDurationMismatch) {
		m.opts.Tasks.LogToUI(taskID, "Error: Files have significantly different durations. They appear to be unrelated songs.",
			"error", tasks.SeverityError, tasks.AudienceBoth)
	}
	return duration, err
}
