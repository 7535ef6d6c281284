package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"solasola/internal/api"
	"solasola/internal/models"
	"solasola/internal/services"
	"solasola/internal/testsupport"
)

func TestModelsListShowsCatalog(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "models", "list")
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	requireContains(t, out, "htdemucs_ft")
	requireContains(t, out, "HT Demucs (6 stems)")

	out, _, err = runCLI(t, env.configPath, "--json", "models", "list", "--refresh")
	if err != nil {
		t.Fatalf("models list --json: %v", err)
	}
	var resp api.ModelListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode models output: %v", err)
	}
	if len(resp.Models) != len(models.Catalog) {
		t.Fatalf("expected %d models, got %d", len(models.Catalog), len(resp.Models))
	}
	for _, m := range resp.Models {
		if m.Installed {
			t.Fatalf("model %s unexpectedly installed", m.Key)
		}
	}
}

func TestModelsInstallRejectsUnknownRef(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "models", "install", "demucs", "bogus")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, _, err = runCLI(t, env.configPath, "models", "install", "vocoder")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for model type, got %v", err)
	}
}

func TestModelsSweepRemovesOrphans(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "models", "sweep")
	if err != nil {
		t.Fatalf("models sweep: %v", err)
	}
	requireContains(t, out, "Nothing to clean up")

	stray := testsupport.WriteText(t, filepath.Join(env.cfg.Paths.ModelsDir, "partial", "weights.bin"), "half")
	out, _, err = runCLI(t, env.configPath, "models", "sweep")
	if err != nil {
		t.Fatalf("models sweep: %v", err)
	}
	requireContains(t, out, "Orphaned downloads (1):")
	requireContains(t, out, stray)
}
