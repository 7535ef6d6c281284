package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"solasola/internal/api"
	"solasola/internal/models"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Manage separation and genre model artifacts",
	}
	modelsCmd.AddCommand(newModelsListCommand(ctx))
	modelsCmd.AddCommand(newModelsInstallCommand(ctx))
	modelsCmd.AddCommand(newModelsDeleteCommand(ctx))
	modelsCmd.AddCommand(newModelsSweepCommand(ctx))
	return modelsCmd
}

func newModelsListCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show catalog models and their install state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				list, err := client.Models(cmd.Context(), refresh)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.ModelListResponse{Models: list})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderModelTable(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Rescan the model directory instead of using cached sizes")
	return cmd
}

func renderModelTable(list []models.Status) string {
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		state := yesNo(m.Installed)
		if m.Installing {
			state = "installing"
		}
		size := "-"
		if m.Installed {
			size = m.Size
		}
		rows = append(rows, []string{
			m.Key,
			string(m.ModelType),
			m.Name,
			state,
			size,
			strconv.Itoa(m.FileCount),
		})
	}
	return renderTable(
		[]string{"Key", "Type", "Name", "Installed", "Size", "Files"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func newModelsInstallCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "install TYPE [REF]",
		Short: "Download a model (TYPE is genre or demucs)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.InstallRequest{ModelType: strings.ToLower(strings.TrimSpace(args[0]))}
			if len(args) > 1 {
				req.Ref = strings.TrimSpace(args[1])
			}
			return ctx.withClient(func(client *api.Client) error {
				taskID, err := client.InstallModel(cmd.Context(), req)
				if err != nil {
					return err
				}
				if !wait {
					if ctx.jsonOutput() {
						return writeJSON(cmd, api.InstallResponse{TaskID: taskID})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Install started as task %s\n", taskID)
					return nil
				}
				view, err := followTask(cmd, client, taskID, followInterval)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, view)
				}
				if view.Error != "" {
					return fmt.Errorf("install %s: %s", taskID, view.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Install %s %s\n", taskID, view.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the download to finish")
	return cmd
}

func newModelsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete MODEL_ID",
		Short: "Remove an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteModel(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				return nil
			})
		},
	}
}

func newModelsSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned and corrupted model files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				report, err := client.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				switch {
				case report.Skipped:
					fmt.Fprintln(out, "Sweep skipped: an install is in progress")
				case report.Empty():
					fmt.Fprintln(out, "Nothing to clean up")
				default:
					printSweepGroup(cmd, "Orphaned downloads", report.Orphans)
					printSweepGroup(cmd, "Corrupted models", report.Corrupted)
					printSweepGroup(cmd, "Stale manifests", report.Manifests)
				}
				return nil
			})
		},
	}
}

func printSweepGroup(cmd *cobra.Command, title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d):\n", title, len(paths))
	for _, path := range paths {
		fmt.Fprintf(out, "  %s\n", path)
	}
}
