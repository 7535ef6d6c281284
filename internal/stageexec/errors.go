package stageexec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"solasola/internal/services"
)

// StageError describes a stage that exited unsuccessfully.
type StageError struct {
	Tool     string
	ExitCode int
	Message  string
	Details  string
	Output   string
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap classifies every stage failure as an external tool error.
func (e *StageError) Unwrap() error { return services.ErrExternalTool }

// UserMessage returns the concise message meant for the job submitter.
func (e *StageError) UserMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s failed", e.Tool)
}

// ErrorArtifact is the JSON document a stage writes before exiting non-zero.
type ErrorArtifact struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	Traceback string `json:"traceback"`
}

// ReadErrorArtifact loads and decodes an error artifact.
func ReadErrorArtifact(path string) (ErrorArtifact, error) {
	var artifact ErrorArtifact
	data, err := os.ReadFile(path)
	if err != nil {
		return artifact, err
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		return artifact, fmt.Errorf("decode error artifact: %w", err)
	}
	artifact.Error = strings.TrimSpace(artifact.Error)
	artifact.Details = strings.TrimSpace(artifact.Details)
	return artifact, nil
}
