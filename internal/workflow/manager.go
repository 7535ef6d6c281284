package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"solasola/internal/cache"
	"solasola/internal/cacheindex"
	"solasola/internal/logging"
	"solasola/internal/models"
	"solasola/internal/services"
	"solasola/internal/tasks"
)

// Notator renders MIDI parts as ABC scores keyed by part name.
type Notator interface {
	Generate(ctx context.Context, midiPaths []string, title string) (map[string]string, error)
}

// ModelChecker reports whether a model is installed.
type ModelChecker interface {
	Installed(ref models.Ref) bool
}

// ResultIndex records result directories and answers recency queries.
type ResultIndex interface {
	cache.RecencyIndex
	Record(ctx context.Context, entry cacheindex.Entry) error
}

// Collaborators bundles the external stages. A nil Genre or Analyzer
// leaves the corresponding profile fields "Not Analyzed".
type Collaborators struct {
	Prober      Prober
	Separator   Separator
	Transcriber Transcriber
	Notation    Notator
	Genre       GenreClassifier
	Analyzer    Analyzer
}

// Options configures a Manager.
type Options struct {
	Tasks      *tasks.Registry
	Index      ResultIndex
	Models     ModelChecker
	OutputRoot string
	Durations  DurationPolicy
	// DefaultModel and DefaultDevice fill in jobs that leave them empty.
	DefaultModel  string
	DefaultDevice string
	Version       string
	Tools         Collaborators
	Logger        *slog.Logger
	Now           func() time.Time
}

var supportedDevices = []string{"cpu", "cuda", "mps"}

// Manager runs submitted jobs, one goroutine per task.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]Job
	wg     sync.WaitGroup
}

// NewManager constructs a workflow manager.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "htdemucs"
	}
	if opts.DefaultDevice == "" {
		opts.DefaultDevice = "cpu"
	}
	return &Manager{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "workflow-manager"),
		active: make(map[string]Job),
	}
}

// Validate normalizes job and rejects submissions the pipeline cannot run.
func (m *Manager) Validate(job Job) (Job, error) {
	if job.Files.Empty() {
		return job, validationError("No supported files were submitted")
	}
	if job.Mode == "" {
		job.Mode = ModeFullAnalysis
	}
	if _, err := ParseMode(string(job.Mode)); err != nil {
		return job, err
	}
	job.Device = strings.ToLower(strings.TrimSpace(job.Device))
	if job.Device == "" {
		job.Device = m.opts.DefaultDevice
	}
	if !slices.Contains(supportedDevices, job.Device) {
		return job, validationError(fmt.Sprintf("unsupported device %q", job.Device))
	}

	switch job.Mode {
	case ModeLyricsOnly:
		if len(job.Files.Lyrics) == 0 {
			return job, validationError("Lyrics-only mode needs a lyrics file")
		}
		job.Model = ""
	default:
		if len(job.Files.Audio) == 0 && len(job.Files.MIDI) == 0 {
			return job, validationError("Full analysis needs at least one audio or MIDI file")
		}
		if job.Model == "" {
			job.Model = m.opts.DefaultModel
		}
		if _, err := models.LookupRef(string(models.TypeDemucs), job.Model); err != nil {
			return job, err
		}
	}
	return job, nil
}

// Submit validates job, registers a processing task, and starts it. The
// returned id identifies the task in the registry.
func (m *Manager) Submit(job Job) (string, error) {
	job, err := m.Validate(job)
	if err != nil {
		return "", err
	}
	task := m.opts.Tasks.Create(tasks.KindProcessing, tasks.WithStep("Queued..."))
	m.opts.Tasks.SetLayout(task.ID, BuildPlan(job.Files, job.Mode, job.Model).Layout)

	m.mu.Lock()
	m.active[task.ID] = job
	m.mu.Unlock()
	m.wg.Add(1)

	m.logger.Info("job submitted",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("mode", string(job.Mode)),
		logging.String("model", job.Model),
		logging.Int("audio_files", len(job.Files.Audio)),
		logging.Int("midi_files", len(job.Files.MIDI)),
		logging.Int("lyrics_files", len(job.Files.Lyrics)),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	go m.run(task.ID, job)
	return task.ID, nil
}

// Active returns the ids of tasks whose pipeline goroutine is still running.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every submitted task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) done(taskID string) {
	m.mu.Lock()
	delete(m.active, taskID)
	m.mu.Unlock()
	m.wg.Done()
}

func validationError(message string) error {
	return services.Wrap(services.ErrValidation, "workflow", "validate job", message, nil)
}
