package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"solasola/internal/config"
	"solasola/internal/deps"
	"solasola/internal/events"
	"solasola/internal/logging"
	"solasola/internal/models"
	"solasola/internal/tasks"
	"solasola/internal/workflow"
)

// Submitter starts processing jobs.
type Submitter interface {
	Submit(job workflow.Job) (string, error)
	Active() []string
}

// ModelService is the subset of the model registry the API exposes.
type ModelService interface {
	Install(ctx context.Context, ref models.Ref) (string, error)
	Status(ctx context.Context, forceRefresh bool) ([]models.Status, error)
	Delete(id string) error
	Sweep() models.SweepReport
}

// Options wires a Daemon to its services.
type Options struct {
	Config   *config.Config
	Tasks    *tasks.Registry
	Events   *events.Broadcaster
	Workflow Submitter
	Models   ModelService
	// Xet is optional; when set its Run loop is owned by the daemon.
	Xet     *models.XetActor
	Version string
	Logger  *slog.Logger
	// Dependencies overrides the external tool probe reported by /api/health.
	Dependencies func() []deps.Status
}

// Daemon coordinates the background services and the HTTP API, and enforces
// single-instance execution.
type Daemon struct {
	opts   Options
	cfg    *config.Config
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	ActiveTasks  int
	Subscribers  int
	LockFilePath string
	APIAddress   string
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Tasks == nil || opts.Events == nil || opts.Workflow == nil || opts.Models == nil {
		return nil, errors.New("daemon requires config, tasks, events, workflow, and models")
	}
	if opts.Dependencies == nil {
		cfg := opts.Config
		opts.Dependencies = func() []deps.Status {
			statuses := deps.CheckBinaries(deps.ToolRequirements(cfg))
			return append(statuses, deps.CheckFFmpeg(cfg.Tools.FFprobe))
		}
	}
	lockPath := opts.Config.LockPath()
	d := &Daemon{
		opts:     opts,
		cfg:      opts.Config,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(d)
	return d, nil
}

// Start acquires the daemon lock, starts the background services, and
// begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("ensure log dir: %w", err)
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another solasola daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}
	d.startServices(d.ctx)

	d.running.Store(true)
	d.logger.Info("solasola daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) startServices(ctx context.Context) {
	d.goService(func() {
		d.opts.Tasks.RunReaper(ctx, d.cfg.ReaperInterval(), d.cfg.TaskRetention())
	})
	if d.opts.Xet != nil {
		d.goService(func() { d.opts.Xet.Run(ctx) })
	}
	if d.cfg.Models.SweepOnStartup {
		d.goService(func() {
			report := d.opts.Models.Sweep()
			d.logger.Info("startup model sweep finished",
				logging.Int("orphans", len(report.Orphans)),
				logging.Int("corrupted", len(report.Corrupted)),
				logging.Int("manifests", len(report.Manifests)),
				logging.Bool("skipped", report.Skipped),
				logging.String(logging.FieldEventType, "startup_sweep"),
			)
		})
	}
}

func (d *Daemon) goService(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Stop shuts down the API, waits for background services, and releases
// the daemon lock. Running tasks are not interrupted.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("solasola daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Handler returns the API router without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.router
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		ActiveTasks:  len(d.opts.Workflow.Active()),
		Subscribers:  d.opts.Events.Subscribers(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
}
