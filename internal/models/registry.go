package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"solasola/internal/events"
	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/stageexec"
	"solasola/internal/tasks"
)

// InstallLockName is the cross-process install lock inside the models root.
const InstallLockName = ".solasola_install.lock"

// Runner executes an external stage. stageexec.Run satisfies it.
type Runner = stageexec.Runner

// Options configures a Registry.
type Options struct {
	Root        string
	ManifestDir string
	// Excluded lists extra directories sweeps must never touch.
	Excluded  []string
	Tasks     *tasks.Registry
	Publisher events.Publisher
	Xet       *XetActor
	Stats     *DownloadStats
	Runner    Runner
	// Installer is the installer command line; arguments are appended.
	Installer   []string
	Device      string
	LockPath    string
	CancelGrace time.Duration
	Logger      *slog.Logger
}

// Status is the user-facing state of one model.
type Status struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	ModelType  Type   `json:"model_type"`
	Installed  bool   `json:"installed"`
	SizeBytes  int64  `json:"size_bytes"`
	Size       string `json:"size"`
	FileCount  int    `json:"file_count"`
	Installing bool   `json:"installing"`
	TaskID     string `json:"task_id,omitempty"`
}

// Registry manages installed model artifacts.
type Registry struct {
	root          string
	manifestDir   string
	extraExcluded []string
	tasks         *tasks.Registry
	publisher     events.Publisher
	xet           *XetActor
	stats         *DownloadStats
	runner        Runner
	installer     []string
	device        string
	lockPath      string
	grace         time.Duration
	logger        *slog.Logger

	installMu sync.Mutex
	statusMu  sync.Mutex
	// watches counts unreleased snapshots.
	watches atomic.Int32
}

// NewRegistry constructs a registry rooted at opts.Root.
func NewRegistry(opts Options) (*Registry, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "models", "init", "models root is required", nil)
	}
	root = filepath.Clean(root)
	manifestDir := opts.ManifestDir
	if manifestDir == "" {
		manifestDir = filepath.Join(root, ManifestDirName)
	}
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure manifest dir: %w", err)
	}
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(root, InstallLockName)
	}
	stats := opts.Stats
	if stats == nil {
		stats = NewDownloadStats(filepath.Join(root, StatsFileName), DefaultStatsHistory, DefaultDownloadRate)
	}
	runner := opts.Runner
	if runner == nil {
		runner = stageexec.Run
	}
	taskRegistry := opts.Tasks
	if taskRegistry == nil {
		taskRegistry = tasks.NewRegistry(tasks.Options{Publisher: opts.Publisher, Logger: opts.Logger})
	}
	excluded := make([]string, 0, len(opts.Excluded))
	for _, dir := range opts.Excluded {
		if dir = strings.TrimSpace(dir); dir != "" {
			excluded = append(excluded, filepath.Clean(dir))
		}
	}
	return &Registry{
		root:          root,
		manifestDir:   filepath.Clean(manifestDir),
		extraExcluded: excluded,
		tasks:         taskRegistry,
		publisher:     opts.Publisher,
		xet:           opts.Xet,
		stats:         stats,
		runner:        runner,
		installer:     append([]string(nil), opts.Installer...),
		device:        opts.Device,
		lockPath:      lockPath,
		grace:         opts.CancelGrace,
		logger:        logging.NewComponentLogger(opts.Logger, "models"),
	}, nil
}

// Root returns the models root directory.
func (r *Registry) Root() string { return r.root }

// ManifestPath returns where the manifest with id is stored.
func (r *Registry) ManifestPath(id string) string {
	return filepath.Join(r.manifestDir, id+".json")
}

// ModelDir returns the directory an installed model occupies.
func (r *Registry) ModelDir(ref Ref) string {
	if ref.Type == TypeDemucs {
		return filepath.Join(r.root, "demucs", ref.Key)
	}
	return filepath.Join(r.root, "hub", "models--"+strings.ReplaceAll(ref.Key, "/", "--"))
}

// Installed reports whether the manifest for ref is present.
func (r *Registry) Installed(ref Ref) bool {
	_, err := os.Stat(r.ManifestPath(ref.ID()))
	return err == nil
}

// Status reports every installed model plus catalog models that are absent.
// Each call sweeps the models root and rebuilds the listing from the
// manifests on disk. forceRefresh is accepted for API compatibility; every
// call is already a full rebuild.
func (r *Registry) Status(ctx context.Context, forceRefresh bool) ([]Status, error) {
	_ = forceRefresh
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.Sweep()
	base := r.buildStatus()

	running := r.tasks.RunningInstalls()
	out := make([]Status, len(base))
	for i, st := range base {
		if taskID, ok := running[st.Key]; ok {
			st.Installing = true
			st.TaskID = taskID
		}
		out[i] = st
	}
	return out, nil
}

func (r *Registry) buildStatus() []Status {
	seen := make(map[string]struct{})
	var out []Status
	for _, lm := range r.loadManifests() {
		key := lm.manifest.Key()
		if key == "" {
			continue
		}
		id := manifestID(lm.path)
		seen[id] = struct{}{}
		out = append(out, Status{
			ID:        id,
			Key:       key,
			Name:      lm.manifest.Name,
			ModelType: lm.manifest.ModelType,
			Installed: true,
			SizeBytes: lm.manifest.TotalSizeBytes,
			Size:      humanize.IBytes(uint64(max(lm.manifest.TotalSizeBytes, 0))),
			FileCount: lm.manifest.FileCount,
		})
	}
	for _, ref := range Catalog {
		if _, ok := seen[ref.ID()]; ok {
			continue
		}
		out = append(out, Status{
			ID:        ref.ID(),
			Key:       ref.Key,
			Name:      ref.Name,
			ModelType: ref.Type,
			SizeBytes: ref.ExpectedBytes,
			Size:      humanize.IBytes(uint64(max(ref.ExpectedBytes, 0))),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModelType != out[j].ModelType {
			return out[i].ModelType > out[j].ModelType
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes every file listed by the manifest, then the manifest.
// Files that are already gone count as removed.
func (r *Registry) Delete(id string) error {
	id, err := SanitizeID(id)
	if err != nil {
		return err
	}
	path := r.ManifestPath(id)
	if filepath.Dir(path) != r.manifestDir {
		return services.Wrap(services.ErrValidation, "models", "delete", "manifest outside manifest dir", nil)
	}
	manifest, err := readManifest(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "models", "delete", "no manifest "+id, nil)
		}
		return services.Wrap(services.ErrValidation, "models", "delete", "unreadable manifest "+id, err)
	}
	if _, installing := r.tasks.RunningInstalls()[manifest.Key()]; installing {
		return services.Wrap(services.ErrBusy, "models", "delete", "model is being installed", nil)
	}

	logger := r.logger.With(logging.String(logging.FieldModelID, id))
	failures := 0
	for _, f := range manifest.Files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures++
			logger.Warn("delete model file failed", logging.String("path", f.Path), logging.Error(err))
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove manifest %s: %w", id, err)
	}
	logger.Info("model deleted",
		logging.Int("files", len(manifest.Files)),
		logging.Int("failures", failures),
		logging.String(logging.FieldEventType, "model_deleted"),
	)
	r.broadcast(events.TypeRefreshAll, "", manifest.Key(), "deleted", 100, "Model deleted.")
	return nil
}

func (r *Registry) broadcast(kind events.Type, taskID, key, status string, progress float64, message string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Broadcast(events.Event{
		Type:   kind,
		TaskID: taskID,
		Payload: map[string]any{
			"model_key": key,
			"status":    status,
			"progress":  int(progress),
			"message":   message,
		},
	})
}
