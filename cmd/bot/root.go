package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "integration-report-bot",
		Short:        "Telegram bot reporting document integration errors",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default searches ./config.yaml, ./configs, /etc/integration-report-bot)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newJobsCmd(opts))

	return cmd
}
