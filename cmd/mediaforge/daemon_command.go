package main

import (
	"github.com/spf13/cobra"

	"mediaforge/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development, diagnostic bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the mediaforge daemon in the foreground (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Diagnostic:  diagnostic,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Human-readable development logging")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Also write DEBUG records to a JSON diagnostic log")
	return cmd
}
