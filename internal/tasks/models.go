package tasks

import (
	"maps"
	"slices"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Kind distinguishes processing jobs from model installs.
type Kind string

const (
	KindProcessing Kind = "processing"
	KindInstall    Kind = "install"
)

// Severity classifies a user-facing log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Audience selects where a user-facing log entry is shown: as a short toast,
// in the detailed log panel, or both.
type Audience string

const (
	AudienceToast Audience = "toast"
	AudienceLog   Audience = "log"
	AudienceBoth  Audience = "both"
)

// LogEntry is a single user-facing message attached to a task.
type LogEntry struct {
	Message  string    `json:"message"`
	Icon     string    `json:"icon"`
	Severity Severity  `json:"type"`
	Audience Audience  `json:"target"`
	Time     time.Time `json:"timestamp"`
}

// Details pinpoints progress inside the layout. Stage and SubStage are
// 1-based; SubStagePercent is 0-100 within the current sub-stage.
type Details struct {
	Stage           int     `json:"stage_index"`
	SubStage        int     `json:"sub_stage_index"`
	SubStagePercent float64 `json:"sub_stage_progress"`
}

// Stage is one weighted segment of a progress layout.
type Stage struct {
	Label     string  `json:"label"`
	Weight    float64 `json:"weight"`
	SubStages int     `json:"sub_stages"`
}

// Layout is the ordered list of stages a task reports progress against.
type Layout []Stage

// TotalWeight sums the stage weights.
func (l Layout) TotalWeight() float64 {
	var total float64
	for _, stage := range l {
		total += stage.Weight
	}
	return total
}

// Progress converts detailed progress into an overall 0-100 value. Every
// stage before d.Stage counts as complete; the current stage contributes its
// weight scaled by its fractional sub-progress.
func (l Layout) Progress(d Details) float64 {
	total := l.TotalWeight()
	if total <= 0 || d.Stage <= 0 {
		return 0
	}
	var done float64
	for i, stage := range l {
		index := i + 1
		if index < d.Stage {
			done += stage.Weight
			continue
		}
		if index == d.Stage && stage.SubStages > 0 {
			sub := max(d.SubStage, 1)
			pct := min(max(d.SubStagePercent, 0), 100)
			fraction := (float64(sub-1) + pct/100) / float64(stage.SubStages)
			done += stage.Weight * min(fraction, 1)
		}
		break
	}
	return min(100, done/total*100)
}

// Task is the in-memory record for a background job.
type Task struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	Status          Status         `json:"status"`
	Progress        float64        `json:"progress"`
	Details         Details        `json:"progress_details"`
	CurrentStep     string         `json:"current_step"`
	Layout          Layout         `json:"layout,omitempty"`
	UILogs          []LogEntry     `json:"ui_logs,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
	Results         map[string]any `json:"results,omitempty"`
	Error           string         `json:"error,omitempty"`
	ModelKey        string         `json:"model_key,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the task. Result values are copied one level
// deep, which covers the flat maps the pipeline stores there.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Layout = slices.Clone(t.Layout)
	out.UILogs = slices.Clone(t.UILogs)
	if t.Results != nil {
		out.Results = maps.Clone(t.Results)
	}
	return &out
}
