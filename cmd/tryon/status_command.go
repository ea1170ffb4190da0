package main

import (
	"fmt"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tryon/internal/api"
	"tryon/internal/config"
	"tryon/internal/jobs"
)

type statusReport struct {
	DaemonRunning  bool           `json:"daemonRunning"`
	ConfigPath     string         `json:"configPath"`
	Bind           string         `json:"bind"`
	HistoryBackend string         `json:"historyBackend"`
	Model          string         `json:"model"`
	UploadStorage  string         `json:"uploadStorage"`
	AuthEnabled    bool           `json:"authEnabled"`
	JobStats       map[string]int `json:"jobStats"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, configuration and job queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemonRunning(cfg)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				report := statusReport{
					DaemonRunning:  running,
					ConfigPath:     ctx.configPath,
					Bind:           cfg.Server.Bind,
					HistoryBackend: cfg.History.Backend,
					Model:          cfg.Fal.Model,
					UploadStorage:  uploadStorageLabel(cfg),
					AuthEnabled:    cfg.Server.APIToken != "",
					JobStats:       api.MergeJobStats(stats),
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				printStatusReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// daemonRunning probes the daemon lock without holding it.
func daemonRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func uploadStorageLabel(cfg *config.Config) string {
	if cfg.Upload.StorageBucket == "" {
		return "inline data URLs"
	}
	return "supabase bucket " + cfg.Upload.StorageBucket
}

func printStatusReport(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.DaemonRunning {
		fmt.Fprintln(out, renderStatusLine("tryon", statusOK, "Running on "+report.Bind, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("tryon", statusWarn, "Not running (start with `tryon serve`)", colorize))
	}
	authKind, authText := statusWarn, "disabled"
	if report.AuthEnabled {
		authKind, authText = statusOK, "bearer token"
	}
	fmt.Fprintln(out, renderStatusLine("API auth", authKind, authText, colorize))
	fmt.Fprintln(out, renderStatusLine("Model", statusInfo, report.Model, colorize))
	fmt.Fprintln(out, renderStatusLine("History", statusInfo, report.HistoryBackend, colorize))
	fmt.Fprintln(out, renderStatusLine("Uploads", statusInfo, report.UploadStorage, colorize))
	fmt.Fprintln(out, renderStatusLine("Config", statusInfo, orDash(report.ConfigPath), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := make([][]string, 0, len(report.JobStats))
	for _, key := range api.SortedStatusKeys(report.JobStats) {
		rows = append(rows, []string{renderJobStatus(jobs.Status(key), colorize), strconv.Itoa(report.JobStats[key])})
	}
	fmt.Fprint(out, renderTable([]column{left("Status"), right("Count")}, rows))
	fmt.Fprintln(out)
}
