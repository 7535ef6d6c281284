package main

import (
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"solasola/internal/api"
	"solasola/internal/tasks"
)

// followTask polls a task until it reaches a terminal status, drawing a
// progress bar on stderr. The bar is described by the current step.
func followTask(cmd *cobra.Command, client *api.Client, id string, interval time.Duration) (api.TaskView, error) {
	ctx := cmd.Context()
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("waiting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	for {
		view, err := client.GetTask(ctx, id)
		if err != nil {
			return api.TaskView{}, err
		}
		if view.CurrentStep != "" {
			bar.Describe(view.CurrentStep)
		}
		_ = bar.Set(int(view.Progress))
		if tasks.Status(view.Status).Terminal() {
			_ = bar.Finish()
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-time.After(interval):
		}
	}
}
