package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"integration-report-bot/internal/telegram"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run scheduled jobs",
	}

	cmd.AddCommand(newJobsListCmd(opts))
	cmd.AddCommand(newJobsRunCmd(opts))
	cmd.AddCommand(newJobsToggleCmd(opts, "enable", true))
	cmd.AddCommand(newJobsToggleCmd(opts, "disable", false))

	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs with schedule and enablement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			// Listing never broadcasts, so no Telegram connection is made
			if err := a.registerJobs(nil); err != nil {
				return err
			}

			statuses, err := a.scheduler.Status(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENABLED\tTOGGLED\tSCHEDULE\tNEXT RUN\tDESCRIPTION")
			for _, st := range statuses {
				toggled := "-"
				if !st.FlagChanged.IsZero() {
					toggled = st.FlagChanged.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\n",
					st.Name, st.Enabled, toggled, st.Schedule, st.Next.Format(time.DateTime), st.Description)
			}
			return w.Flush()
		},
	}
}

func newJobsRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a job once, respecting its enable flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			api, err := telegram.NewAPI(a.cfg.Telegram)
			if err != nil {
				return err
			}
			if err := a.registerJobs(telegram.NewSender(api, a.logger)); err != nil {
				return err
			}

			start := time.Now()
			if err := a.scheduler.RunNow(ctx, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newJobsToggleCmd(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: fmt.Sprintf("%s a job's scheduled runs", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registerJobs(nil); err != nil {
				return err
			}
			if err := a.scheduler.SetEnabled(ctx, args[0], enabled); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], verb)
			return nil
		},
	}
}

