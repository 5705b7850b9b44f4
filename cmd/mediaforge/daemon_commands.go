package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
	"mediaforge/internal/daemonctl"
)

const daemonStartTimeout = 10 * time.Second

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mediaforge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.socketPath(), exe, daemonLaunchOptions(ctx, startDiagnostic), daemonStartTimeout)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			printStartState(cmd, result)
			return nil
		},
	}

	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with a separate DEBUG log")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the mediaforge daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cmd.Context(), cfg, cfg.ShutdownGrace())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			printStopResult(cmd, result)
			return nil
		},
	}

	var restartDiagnostic bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the mediaforge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cmd.Context(), cfg, cfg.ShutdownGrace())
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
			case err != nil:
				return err
			default:
				printStopResult(cmd, result)
			}
			started, err := daemonctl.EnsureStarted(cmd.Context(), ctx.socketPath(), exe, daemonLaunchOptions(ctx, restartDiagnostic), daemonStartTimeout)
			if err != nil {
				return err
			}
			printStartState(cmd, started)
			return nil
		},
	}

	restartCmd.Flags().BoolVar(&restartDiagnostic, "diagnostic", false, "Enable diagnostic mode with a separate DEBUG log")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd, status)
			return nil
		},
	}
	jsonFlag(statusCmd, &statusJSON)

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStartState(cmd *cobra.Command, result daemonctl.StartResult) {
	stdout := cmd.OutOrStdout()
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(stdout, "Daemon started")
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(stdout, "Daemon already running")
	case daemonctl.StartStateRequested:
		if msg := strings.TrimSpace(result.Message); msg != "" {
			fmt.Fprintln(stdout, msg)
			return
		}
		fmt.Fprintln(stdout, "Start request sent")
	}
}

func printStopResult(cmd *cobra.Command, result daemonctl.StopResult) {
	stdout := cmd.OutOrStdout()
	if result.StopAcknowledged {
		fmt.Fprintln(stdout, "Stopping daemon workflow...")
	} else {
		fmt.Fprintln(stdout, "Stop request sent")
	}
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
	}
	fmt.Fprintln(stdout, "Daemon stopped")
}

func renderDaemonStatus(cmd *cobra.Command, status *api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	printSection(stdout, "System Status", colorize, systemLines(status, colorize))
	printSection(stdout, "Dependencies", colorize, dependencyLines(status.Dependencies, colorize))
	if len(status.Preflight) > 0 {
		lines := make([]string, 0, len(status.Preflight))
		for _, check := range status.Preflight {
			lines = append(lines, renderStatusLine(check.Name, passFail(check.Passed), check.Detail, colorize))
		}
		printSection(stdout, "Preflight", colorize, lines)
	}

	for _, line := range renderSectionHeader("Queue Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := buildQueueStatusRows(status.Workflow.QueueStats)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return
	}
	fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func systemLines(status *api.DaemonStatus, colorize bool) []string {
	wf := status.Workflow
	lines := make([]string, 0, 8)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		lines = append(lines, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d busy of %d", wf.BusyWorkers, wf.Workers), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}
	if status.APIAddress != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusInfo, status.APIAddress, colorize))
	}
	lines = append(lines, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	for _, stage := range wf.StageHealth {
		detail := stage.Detail
		if detail == "" {
			detail = "ready"
		}
		lines = append(lines, renderStatusLine("Generator "+stage.Name, passFail(stage.Ready), detail, colorize))
	}
	if wf.LastJob != nil {
		lines = append(lines, renderStatusLine("Last job", statusInfo, fmt.Sprintf("%s %s (%s)", shortID(wf.LastJob.ID), wf.LastJob.Type, wf.LastJob.Status), colorize))
	}
	if wf.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, wf.LastError, colorize))
	}
	return lines
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, diagnostic bool) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   ctx.logLevel(),
		Diagnostic: diagnostic,
	}
}
