package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"solasola/internal/api"
)

const (
	followInterval = 500 * time.Millisecond
	recentLogLines = 8
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.SubmitRequest
	var kind string
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Submit audio, MIDI, or lyrics files for processing",
		Long: "Submit files for processing. Paths that exist locally are sent as absolute paths; " +
			"anything else is resolved by the daemon relative to its upload directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Files = submitFiles(args, kind)
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() && !follow {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !ctx.jsonOutput() {
					fmt.Fprintf(out, "Submitted task %s\n", resp.TaskID)
					for _, path := range resp.Unsupported {
						fmt.Fprintf(out, "Skipped unsupported file: %s\n", path)
					}
				}
				if !follow {
					return nil
				}
				view, err := followTask(cmd, client, resp.TaskID, followInterval)
				if err != nil {
					return err
				}
				return reportTask(cmd, ctx, view)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Mode, "mode", "", "Processing mode: full_analysis or lyrics_only")
	flags.StringVar(&req.Model, "model", "", "Separation model (defaults to the configured model)")
	flags.StringVar(&req.Device, "device", "", "Compute device: cpu, cuda, or mps")
	flags.StringVar(&req.Title, "title", "", "Override the song title")
	flags.BoolVar(&req.KeepModelsCached, "keep-models", false, "Ask the daemon to keep models loaded after the job")
	flags.StringVar(&kind, "kind", "", "Declare the kind of every file: audio, midi, or lyrics")
	flags.BoolVarP(&follow, "follow", "f", false, "Wait for the task and show progress")
	return cmd
}

func submitFiles(args []string, kind string) []api.SubmitFile {
	files := make([]api.SubmitFile, 0, len(args))
	for _, arg := range args {
		path := strings.TrimSpace(arg)
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		files = append(files, api.SubmitFile{Path: path, Kind: strings.TrimSpace(kind)})
	}
	return files
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				list, err := client.ListTasks(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.TaskListResponse{Tasks: list})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, task := range list {
					rows = append(rows, []string{
						task.ID,
						task.Kind,
						task.Status,
						formatPercent(task.Progress),
						orDash(task.CurrentStep),
						formatTimestamp(task.UpdatedAt),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Kind", "Status", "Progress", "Step", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the progress of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				var view api.TaskView
				var err error
				if follow {
					view, err = followTask(cmd, client, id, followInterval)
				} else {
					view, err = client.GetTask(cmd.Context(), id)
				}
				if err != nil {
					return err
				}
				return reportTask(cmd, ctx, view)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll until the task finishes")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Request cancellation of a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				if err := client.Cancel(cmd.Context(), id); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CancelResponse{TaskID: id, Status: "cancelling"})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", id)
				return nil
			})
		},
	}
}

func reportTask(cmd *cobra.Command, ctx *commandContext, view api.TaskView) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, view)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Task "+view.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", taskStatusKind(view.Status), view.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Kind", statusInfo, view.Kind, colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, formatPercent(view.Progress), colorize))
	fmt.Fprintln(out, renderStatusLine("Step", statusInfo, orDash(view.CurrentStep), colorize))
	if view.ModelKey != "" {
		fmt.Fprintln(out, renderStatusLine("Model", statusInfo, view.ModelKey, colorize))
	}
	if view.CancelRequested {
		fmt.Fprintln(out, renderStatusLine("Cancel requested", statusWarn, yesNo(true), colorize))
	}
	if view.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, view.Error, colorize))
	}

	logs := view.Logs
	if len(logs) > recentLogLines {
		logs = logs[len(logs)-recentLogLines:]
	}
	if len(logs) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Recent activity", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, entry := range logs {
			fmt.Fprintf(out, "  %s %s\n", entry.Time.Local().Format("15:04:05"), entry.Message)
		}
	}

	if len(view.Results) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Results", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, name := range slices.Sorted(maps.Keys(view.Results)) {
			fmt.Fprintf(out, "  %s\n", name)
		}
	}
	return nil
}
