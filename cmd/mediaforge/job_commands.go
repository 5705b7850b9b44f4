package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
	"mediaforge/internal/ipc"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		mediaID  int64
		path     string
		priority int
		payload  string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Queue a job for a media item or path",
		Long: "Queue a job. Types: thumbnail, preview, sprite, face-crop, rescan.\n" +
			"A job matching an active job for the same target and type is merged into it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.EnqueueRequest{
				Type:       strings.TrimSpace(args[0]),
				MediaID:    mediaID,
				TargetPath: strings.TrimSpace(path),
				Priority:   priority,
			}
			if p := strings.TrimSpace(payload); p != "" {
				if !json.Valid([]byte(p)) {
					return fmt.Errorf("--payload must be valid JSON")
				}
				req.Payload = json.RawMessage(p)
			}
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, offline bool) error {
				resp, err := ctl.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Coalesced {
					fmt.Fprintf(out, "Merged into existing %s job %s (priority %d)\n", resp.Job.Type, resp.Job.ID, resp.Job.Priority)
				} else {
					fmt.Fprintf(out, "Queued %s job %s\n", resp.Job.Type, resp.Job.ID)
				}
				if offline {
					fmt.Fprintln(out, "Daemon not running; the job runs once it starts")
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&mediaID, "media", 0, "Catalog media id to target")
	cmd.Flags().StringVar(&path, "path", "", "Path to target, relative to the media root or absolute")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Dispatch priority (higher runs first)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON parameters for the job type")
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel pending or running jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				out := cmd.OutOrStdout()
				var failed int
				for _, id := range args {
					job, err := ctl.Cancel(cmd.Context(), id)
					if err != nil {
						fmt.Fprintf(out, "Job %s: %v\n", id, err)
						failed++
						continue
					}
					if job.Status == "running" {
						fmt.Fprintf(out, "Job %s: cancellation requested; it stops at its next checkpoint\n", job.ID)
					} else {
						fmt.Fprintf(out, "Job %s: cancelled\n", job.ID)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d jobs could not be cancelled", failed, len(args))
				}
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				job, err := ctl.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				for _, line := range jobDetailLines(job) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"queue"},
		Short:   "Inspect and maintain the job store",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsPendingCommand(ctx))
	jobsCmd.AddCommand(newJobsRunningCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsPurgeCommand(ctx))
	jobsCmd.AddCommand(newJobsHealthCommand(ctx))
	return jobsCmd
}

func printJobs(cmd *cobra.Command, jobs []api.Job, asJSON bool, empty string) error {
	if asJSON {
		return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), empty)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderJobTable(jobs))
	return nil
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		jobType  string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status and type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				jobs, err := ctl.ListJobs(cmd.Context(), ipc.ListRequest{Statuses: statuses, Type: jobType, Limit: limit})
				if err != nil {
					return err
				}
				return printJobs(cmd, jobs, asJSON, "No jobs")
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, done, failed, cancelled)")
	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Filter by job type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs to show")
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newJobsPendingCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List jobs waiting for a worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				jobs, err := ctl.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				return printJobs(cmd, jobs, asJSON, "No pending jobs")
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newJobsRunningCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "running",
		Short: "List jobs currently held by a worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				jobs, err := ctl.ListRunning(cmd.Context())
				if err != nil {
					return err
				}
				return printJobs(cmd, jobs, asJSON, "No running jobs")
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Move failed jobs back to pending (all failed jobs when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				n, err := ctl.RetryFailed(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d job(s)\n", n)
				return nil
			})
		},
	}
}

func newJobsPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs (done, failed, cancelled)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			before := time.Now().Add(-olderThan)
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				n, err := ctl.PurgeFinished(cmd.Context(), before)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only purge jobs finished longer ago than this")
	return cmd
}

func newJobsHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report queue liveness and database integrity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				queueHealth, err := ctl.QueueHealth(cmd.Context())
				if err != nil {
					return err
				}
				dbHealth, err := ctl.DatabaseHealth(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Queue    api.QueueHealth    `json:"queue"`
						Database api.DatabaseHealth `json:"database"`
					}{queueHealth, dbHealth})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printSection(out, "Queue", colorize, queueHealthLines(queueHealth, colorize))
				printSection(out, "Database", colorize, databaseHealthLines(dbHealth, colorize))
				return nil
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func queueHealthLines(h api.QueueHealth, colorize bool) []string {
	lines := []string{
		renderStatusLine("Total", statusInfo, fmt.Sprint(h.Total), colorize),
		renderStatusLine("Pending", statusInfo, fmt.Sprint(h.Pending), colorize),
		renderStatusLine("Running", statusInfo, fmt.Sprint(h.Running), colorize),
		renderStatusLine("Failed", statusInfo, fmt.Sprint(h.Failed), colorize),
		renderStatusLine("Stale heartbeats", warnWhen(h.StaleRunning > 0), fmt.Sprint(h.StaleRunning), colorize),
		renderStatusLine("Cancel requested", statusInfo, fmt.Sprint(h.CancelRequested), colorize),
	}
	if h.OldestPending != "" {
		lines = append(lines, renderStatusLine("Oldest pending", statusInfo, h.OldestPending, colorize))
	}
	return lines
}

func databaseHealthLines(h api.DatabaseHealth, colorize bool) []string {
	lines := []string{
		renderStatusLine("Path", statusInfo, h.DBPath, colorize),
		renderStatusLine("Schema version", statusInfo, h.SchemaVersion, colorize),
		renderStatusLine("Jobs table", passFail(h.TableExists), "", colorize),
		renderStatusLine("Integrity check", passFail(h.IntegrityCheck), "", colorize),
	}
	if len(h.MissingColumns) > 0 {
		lines = append(lines, renderStatusLine("Missing columns", statusError, strings.Join(h.MissingColumns, ", "), colorize))
	}
	if h.Error != "" {
		lines = append(lines, renderStatusLine("Error", statusError, h.Error, colorize))
	}
	return lines
}
