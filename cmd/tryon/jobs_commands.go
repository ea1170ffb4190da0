package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tryon/internal/api"
	"tryon/internal/jobs"
	"tryon/internal/tryon"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queued try-on jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	jobsCmd.AddCommand(newJobsResetCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var clientID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List try-on jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(listStatuses)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				var list []*jobs.Job
				if clientID = strings.TrimSpace(clientID); clientID != "" {
					list, err = store.ListByClient(cmd.Context(), clientID)
					list = filterByStatus(list, statuses)
				} else {
					list, err = store.List(cmd.Context(), statuses...)
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(list)})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderTable(jobListColumns(), buildJobListRows(list, shouldColorize(out))))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&clientID, "client", "", "Only list jobs of this client id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <jobID>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				job, err := store.GetByID(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", ids[0])
				}
				if asJSON {
					return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
				}
				printJobDetail(cmd.OutOrStdout(), job, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "retry [jobID...]",
		Short: "Requeue failed or canceled jobs (all of them when no ids are given)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return ctx.withStore(func(store *jobs.Store) error {
					updated, err := store.RetryFailed(cmd.Context())
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, api.RetryJobsResult{UpdatedCount: updated, Jobs: []api.RetryJobResult{}})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Retried %d jobs\n", updated)
					return nil
				})
			}
			return ctx.withService(func(svc *tryon.Service) error {
				result, err := api.RetryJobsByID(cmd.Context(), svc, ids)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				printRetryResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "cancel <jobID...>",
		Short: "Cancel active jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *tryon.Service) error {
				result, err := api.CancelJobsByID(cmd.Context(), svc, ids)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				printCancelResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <jobID...>",
		Short: "Delete jobs from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					job, err := store.GetByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					if job != nil && job.IsActive() {
						fmt.Fprintf(out, "Job %d is %s; cancel it first\n", id, job.Status)
						continue
					}
					removed, err := store.Remove(cmd.Context(), id)
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(out, "Job %d removed\n", id)
					} else {
						fmt.Fprintf(out, "Job %d not found\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			return ctx.withStore(func(store *jobs.Store) error {
				var removed int64
				var err error
				switch {
				case clearCompleted:
					removed, err = store.ClearCompleted(cmd.Context())
				case clearFailed:
					removed, err = store.ClearFailed(cmd.Context())
				default:
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s\n", removed, bulkClearLabel(clearCompleted, clearFailed))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed and canceled jobs")
	return cmd
}

func newJobsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return interrupted in-flight jobs to a resumable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemonRunning(cfg)
			if err != nil {
				return err
			}
			if running {
				return errors.New("the daemon is running; it reclaims stuck jobs itself")
			}
			return ctx.withStore(func(store *jobs.Store) error {
				updated, err := store.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", updated)
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]jobs.Status, error) {
	statuses := make([]jobs.Status, 0, len(values))
	for _, value := range values {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown job status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func filterByStatus(list []*jobs.Job, statuses []jobs.Status) []*jobs.Job {
	if len(statuses) == 0 {
		return list
	}
	filtered := list[:0]
	for _, job := range list {
		for _, status := range statuses {
			if job.Status == status {
				filtered = append(filtered, job)
				break
			}
		}
	}
	return filtered
}
