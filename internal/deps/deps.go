package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"solasola/internal/config"
)

// Requirement defines an external command solasola relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// ToolRequirements lists the configured stage commands. Genre
// classification is optional because the pipeline reports "Not Analyzed"
// without it.
func ToolRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{Name: "Separator", Command: cfg.Tools.Separator, Description: "Splits recordings into stems"},
		{Name: "Transcriber", Command: cfg.Tools.Transcriber, Description: "Converts stems to MIDI"},
		{Name: "Notation", Command: cfg.Tools.Notation, Description: "Renders MIDI as ABC notation"},
		{Name: "Analyzer", Command: cfg.Tools.Analyzer, Description: "Estimates tempo, key and chords"},
		{Name: "Genre Classifier", Command: cfg.Tools.GenreClassifier, Description: "Estimates the genre", Optional: true},
		{Name: "Model Installer", Command: cfg.Tools.Installer, Description: "Downloads models", Optional: true},
		{Name: "FFprobe", Command: cfg.Tools.FFprobe, Description: "Measures audio durations"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
// Only the first word of a command is resolved, so interpreter prefixes such
// as "python3 -m demucs" check the interpreter.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		binary, _ := config.CommandLine(cmd)
		if binary == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(binary); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", binary)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable required dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}
