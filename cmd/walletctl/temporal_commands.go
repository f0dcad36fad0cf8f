package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solwallet/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the reconciliation schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, temporal.ReconcileScheduleID)
			desc, err := handle.Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Schedule ID:    %s\n", temporal.ReconcileScheduleID)
			fmt.Fprintf(w, "State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Fprintf(w, "\nWorkflow:\n")
					fmt.Fprintf(w, "  Workflow:     %v\n", wa.Workflow)
					fmt.Fprintf(w, "  Task Queue:   %s\n", wa.TaskQueue)
				}
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Fprintf(w, "\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(w, "  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Fprintf(w, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Fprintf(w, "Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the reconciliation schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via walletctl",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, temporal.ReconcileScheduleID)
			if err := handle.Pause(c.Context, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule paused: %s\n", temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume the paused reconciliation schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via walletctl",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, temporal.ReconcileScheduleID)
			if err := handle.Unpause(c.Context, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule resumed: %s\n", temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the reconciliation schedule",
		Description: `Delete the reconciliation schedule.

The worker recreates it on its next start.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				return fmt.Errorf("refusing to delete schedule %s without --force", temporal.ReconcileScheduleID)
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteReconcileSchedule(c.Context); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule deleted: %s\n", temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func ensureScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "ensure-schedule",
		Usage: "Create or update the reconciliation schedule",
		Flags: reconcileFlags(&cli.DurationFlag{
			Name:  "interval",
			Usage: "How often reconciliation runs",
			Value: time.Minute,
		}),
		Action: func(c *cli.Context) error {
			interval := c.Duration("interval")
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.EnsureReconcileSchedule(c.Context, interval, reconcileInput(c)); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule ready: %s (every %s)\n", temporal.ReconcileScheduleID, interval)
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Run transfer reconciliation now and wait for the result",
		Description: `Start a one-off reconciliation workflow.

Transfers that were sent but never confirmed are checked against the
ledger and marked confirmed or failed. Nothing is ever resent.`,
		Flags: reconcileFlags(),
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.RunReconcile(c.Context, reconcileInput(c))
			if err != nil {
				return err
			}

			if wantJSON(c) {
				return render(c, result)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "✓ Reconciliation complete\n")
			fmt.Fprintf(w, "  Checked:   %d\n", result.Checked)
			fmt.Fprintf(w, "  Confirmed: %d\n", result.Confirmed)
			fmt.Fprintf(w, "  Failed:    %d\n", result.Failed)
			fmt.Fprintf(w, "  Pending:   %d\n", result.Pending)
			fmt.Fprintf(w, "  Skipped:   %d\n", result.Skipped)
			return nil
		},
	}
}

// reconcileFlags returns the flags shared by commands that build a ReconcileInput.
func reconcileFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.DurationFlag{
			Name:  "grace-period",
			Usage: "Only reconcile transfers last updated at least this long ago (worker default when zero)",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Maximum transfers per run (worker default when zero)",
		},
	}, extra...)
}

func reconcileInput(c *cli.Context) temporal.ReconcileInput {
	return temporal.ReconcileInput{
		GracePeriod: c.Duration("grace-period"),
		BatchSize:   c.Int("batch-size"),
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		nil,
		logger,
	)
}
