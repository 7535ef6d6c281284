package daemon

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"solasola/internal/api"
	"solasola/internal/models"
	"solasola/internal/services"
	"solasola/internal/workflow"
)

func (s *apiServer) handleHealth(*http.Request) (response, error) {
	status := s.daemon.Status()
	return ok(api.HealthResponse{
		Status:       "ok",
		Version:      s.daemon.opts.Version,
		PID:          status.PID,
		ActiveTasks:  status.ActiveTasks,
		Subscribers:  status.Subscribers,
		LockFilePath: status.LockFilePath,
		Dependencies: s.daemon.opts.Dependencies(),
	}), nil
}

func (s *apiServer) handleSubmit(r *http.Request) (response, error) {
	req, err := parseRequest[api.SubmitRequest](r, s.validate)
	if err != nil {
		return response{}, err
	}
	job, unsupported, err := s.jobFromRequest(req)
	if err != nil {
		return response{}, err
	}
	id, err := s.daemon.opts.Workflow.Submit(job)
	if err != nil {
		return response{}, err
	}
	return accepted(api.SubmitResponse{TaskID: id, Unsupported: unsupported}), nil
}

// jobFromRequest resolves submitted paths against the upload directory and
// classifies them. Relative paths must stay inside the upload directory.
// Absolute paths are taken as local files named by a client on this host.
// A file whose declared kind disagrees with its extension is treated as
// unsupported.
func (s *apiServer) jobFromRequest(req api.SubmitRequest) (workflow.Job, []string, error) {
	mode, err := workflow.ParseMode(req.Mode)
	if err != nil {
		return workflow.Job{}, nil, err
	}
	paths := make([]string, 0, len(req.Files))
	declared := make(map[string]workflow.InputKind, len(req.Files))
	for i, file := range req.Files {
		field := fmt.Sprintf("SubmitRequest.Files[%d].Path", i)
		path := strings.TrimSpace(file.Path)
		if !filepath.IsAbs(path) {
			uploadDir := filepath.Clean(s.daemon.cfg.Paths.UploadDir)
			path = filepath.Join(uploadDir, path)
			if !withinDir(uploadDir, path) {
				return workflow.Job{}, nil, badRequest("submit", "path escapes the upload directory: "+file.Path, map[string]string{field: "within_upload_dir"})
			}
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return workflow.Job{}, nil, badRequest("submit", "file not found: "+file.Path, map[string]string{field: "exists"})
		}
		paths = append(paths, path)
		if file.Kind != "" {
			declared[path] = workflow.InputKind(file.Kind)
		}
	}

	files, unsupported := workflow.Classify(paths)
	var kept workflow.ClassifiedFiles
	for _, f := range files.All() {
		if kind, ok := declared[f.Path]; ok && kind != f.Kind {
			unsupported = append(unsupported, f.Path)
			continue
		}
		kept.Add(f)
	}
	return workflow.Job{
		Files:            kept,
		Mode:             mode,
		Model:            strings.TrimSpace(req.Model),
		Device:           req.Device,
		TitleOverride:    req.Title,
		KeepModelsCached: req.KeepModelsCached,
	}, unsupported, nil
}

func (s *apiServer) handleListTasks(*http.Request) (response, error) {
	return ok(api.TaskListResponse{Tasks: api.FromTasks(s.daemon.opts.Tasks.List())}), nil
}

func (s *apiServer) handleGetTask(r *http.Request) (response, error) {
	id := chi.URLParam(r, "id")
	task, found := s.daemon.opts.Tasks.Get(id)
	if !found {
		return response{}, services.Wrap(services.ErrNotFound, "api", "get task", "task "+id+" not found", nil)
	}
	return ok(api.ViewFromTask(task)), nil
}

func (s *apiServer) handleCancelTask(r *http.Request) (response, error) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.opts.Tasks.RequestCancel(id); err != nil {
		return response{}, err
	}
	return accepted(api.CancelResponse{TaskID: id, Status: "cancelling"}), nil
}

func (s *apiServer) handleListModels(r *http.Request) (response, error) {
	refresh := r.URL.Query().Get("refresh")
	force := refresh == "1" || strings.EqualFold(refresh, "true")
	list, err := s.daemon.opts.Models.Status(r.Context(), force)
	if err != nil {
		return response{}, err
	}
	return ok(api.ModelListResponse{Models: list}), nil
}

func (s *apiServer) handleInstallModel(r *http.Request) (response, error) {
	req, err := parseRequest[api.InstallRequest](r, s.validate)
	if err != nil {
		return response{}, err
	}
	ref, err := models.LookupRef(req.ModelType, req.Ref)
	if err != nil {
		return response{}, err
	}
	id, err := s.daemon.opts.Models.Install(r.Context(), ref)
	if err != nil {
		return response{}, err
	}
	return accepted(api.InstallResponse{TaskID: id}), nil
}

func (s *apiServer) handleDeleteModel(r *http.Request) (response, error) {
	if err := s.daemon.opts.Models.Delete(chi.URLParam(r, "id")); err != nil {
		return response{}, err
	}
	return noContent(), nil
}

func (s *apiServer) handleSweep(*http.Request) (response, error) {
	return ok(s.daemon.opts.Models.Sweep()), nil
}

// withinDir reports whether path is dir or lies below it.
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
