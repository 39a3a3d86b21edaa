package main

import (
	"github.com/spf13/cobra"

	"github.com/mycelian/mycelian-companion/companionservice"
	"github.com/mycelian/mycelian-companion/internal/core/contextagg"
	"github.com/mycelian/mycelian-companion/internal/model"
)

func newCycleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one autonomous cycle now and print the chosen sleep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				hours := c.Scheduler.RunOnce(cmd.Context())
				return a.printJSON(map[string]any{"sleepHours": hours})
			})
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Archive expired memories, delete long-archived ones and purge expired context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				res, err := c.Sweep.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				return a.printJSON(res)
			})
		},
	}
}

func newFeedbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback USER_ID",
		Short: "Print a user's dismissal summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				return a.printJSON(c.Learner.Summarize(cmd.Context(), args[0]))
			})
		},
	}
}

func newContextCmd(a *app) *cobra.Command {
	var window string
	var maxItems int
	cmd := &cobra.Command{
		Use:   "context USER_ID",
		Short: "Aggregate and print a user's current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := contextagg.DefaultOptions()
			opts.TimeWindow = model.TimeWindow(window)
			opts.MaxItems = maxItems
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				uc, err := c.Aggregator.Aggregate(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return a.printJSON(uc)
			})
		},
	}
	cmd.Flags().StringVarP(&window, "window", "w", string(model.WindowToday), "Time window (now, recent, today, this_week, this_month, longer_term)")
	cmd.Flags().IntVarP(&maxItems, "max", "n", contextagg.DefaultMaxItems, "Maximum items")
	return cmd
}
