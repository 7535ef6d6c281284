package workflow

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"solasola/internal/config"
	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/stageexec"
	"solasola/internal/tasks"
)

// ToolSet runs the external collaborators as subprocesses. Every run is
// attached to the task found in its context so that cancellation can
// terminate it.
type ToolSet struct {
	Separator       []string
	Transcriber     []string
	Notation        []string
	GenreClassifier []string
	Analyzer        []string
	FFprobe         []string
	// ModelsDir is exported to the tools as HF_HOME and TORCH_HOME.
	ModelsDir string
	// GenreModelDir is where the installed genre classifier lives.
	GenreModelDir string
	// ScratchDir holds intermediate JSON output. Defaults to os.TempDir().
	ScratchDir string

	Runner stageexec.Runner
	Tasks  *tasks.Registry
	Grace  time.Duration
	Logger *slog.Logger
}

// NewToolSet builds a ToolSet from the [tools] configuration section.
func NewToolSet(cfg *config.Config, registry *tasks.Registry, logger *slog.Logger) *ToolSet {
	return &ToolSet{
		Separator:       strings.Fields(cfg.Tools.Separator),
		Transcriber:     strings.Fields(cfg.Tools.Transcriber),
		Notation:        strings.Fields(cfg.Tools.Notation),
		GenreClassifier: strings.Fields(cfg.Tools.GenreClassifier),
		Analyzer:        strings.Fields(cfg.Tools.Analyzer),
		FFprobe:         strings.Fields(cfg.Tools.FFprobe),
		ModelsDir:       cfg.Paths.ModelsDir,
		Tasks:           registry,
		Grace:           cfg.CancelGrace(),
		Logger:          logger,
	}
}

// run executes one collaborator. onStdout and onStderr are optional and are
// called from different goroutines.
func (t *ToolSet) run(ctx context.Context, stage string, command []string, args []string, artifact string, onStdout, onStderr func(string)) error {
	if len(command) == 0 {
		return services.Wrap(services.ErrConfiguration, stage, "run", stage+" command is not configured", nil)
	}
	runner := t.Runner
	if runner == nil {
		runner = stageexec.Run
	}
	logger := logging.NewComponentLogger(t.Logger, stage)
	cmd := stageexec.Command{
		Name:          command[0],
		Args:          append(append([]string(nil), command[1:]...), args...),
		ErrorArtifact: artifact,
	}
	if t.ModelsDir != "" {
		cmd.Env = []string{"HF_HOME=" + t.ModelsDir, "TORCH_HOME=" + t.ModelsDir}
	}
	opts := stageexec.Options{
		Logger: logger,
		Grace:  t.Grace,
		OnLine: func(line string) {
			logger.Debug("stage output", logging.String("line", line))
			if onStdout != nil {
				onStdout(line)
			}
		},
		OnStderrLine: onStderr,
	}
	if taskID, ok := services.TaskIDFromContext(ctx); ok && t.Tasks != nil {
		opts.Attach = func(p *stageexec.Process) { t.Tasks.AttachProcess(taskID, p) }
		opts.Detach = func() { t.Tasks.DetachProcess(taskID) }
	}
	return runner(ctx, cmd, opts)
}

func (t *ToolSet) scratchRoot() string {
	if t.ScratchDir != "" {
		return t.ScratchDir
	}
	return os.TempDir()
}

func (t *ToolSet) scratchFile(pattern string) (string, func(), error) {
	f, err := os.CreateTemp(t.scratchRoot(), pattern)
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	_ = f.Close()
	return path, func() { _ = os.Remove(path) }, nil
}
