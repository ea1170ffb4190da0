package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tryon/internal/api"
	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/tryon"
)

// cliClientID identifies jobs queued from the command line.
const cliClientID = "cli"

type submitOptions struct {
	person       string
	garment      string
	garmentType  string
	category     string
	clientID     string
	queue        bool
	wait         bool
	pollInterval time.Duration
	timeout      time.Duration
	asJSON       bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	opts := submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run a try-on for a person and garment image",
		Long: `Run a try-on against fal.ai and save the result to history.

By default the request runs synchronously in this process. With --queue the
request is stored as a job for a running daemon to pick up; add --wait to
block until the job finishes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.wait && !opts.queue {
				return errors.New("--wait requires --queue")
			}
			req := tryon.Request{
				PersonImageURL:  strings.TrimSpace(opts.person),
				GarmentImageURL: strings.TrimSpace(opts.garment),
				GarmentType:     strings.ToLower(strings.TrimSpace(opts.garmentType)),
				Category:        strings.TrimSpace(opts.category),
			}
			return ctx.withService(func(svc *tryon.Service) error {
				if opts.queue {
					return submitQueued(cmd, svc, req, opts)
				}
				return submitSync(cmd, svc, req, opts)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.person, "person", "", "Person image URL")
	flags.StringVar(&opts.garment, "garment", "", "Garment image URL")
	flags.StringVar(&opts.garmentType, "type", history.GarmentTops, "Garment type ("+strings.Join(history.GarmentTypes(), ", ")+")")
	flags.StringVar(&opts.category, "category", "", "Optional garment category passed to the model")
	flags.StringVar(&opts.clientID, "client", cliClientID, "Client id recorded on queued jobs")
	flags.BoolVar(&opts.queue, "queue", false, "Queue the request for the daemon instead of running it here")
	flags.BoolVar(&opts.wait, "wait", false, "With --queue, wait until the job finishes")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "How often --wait checks the job")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "How long --wait blocks before giving up")
	flags.BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("garment")
	return cmd
}

func submitSync(cmd *cobra.Command, svc *tryon.Service, req tryon.Request, opts submitOptions) error {
	resp, err := svc.Process(cmd.Context(), opts.clientID, req)
	if opts.asJSON {
		if jsonErr := writeJSON(cmd, api.FromResponse(resp)); jsonErr != nil {
			return jsonErr
		}
		return err
	}
	if err != nil {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Message)
	fmt.Fprintf(out, "Result: %s\n", resp.ResultImageURL)
	if resp.HistoryID != "" {
		fmt.Fprintf(out, "History id: %s\n", resp.HistoryID)
	}
	return nil
}

func submitQueued(cmd *cobra.Command, svc *tryon.Service, req tryon.Request, opts submitOptions) error {
	clientID := strings.TrimSpace(opts.clientID)
	if clientID == "" {
		clientID = cliClientID
	}
	job, err := svc.Enqueue(cmd.Context(), clientID, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !opts.asJSON {
		fmt.Fprintf(out, "Queued job %d\n", job.ID)
	}
	if opts.wait {
		job, err = waitForJob(cmd.Context(), svc, job.ID, opts.pollInterval, opts.timeout, out, opts.asJSON)
		if err != nil {
			return err
		}
	}
	if opts.asJSON {
		return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
	}
	if opts.wait {
		return reportFinishedJob(out, job)
	}
	return nil
}

// waitForJob polls the job until it reaches a terminal state. Progress
// messages are echoed as they change unless quiet is set.
func waitForJob(ctx context.Context, svc *tryon.Service, id int64, interval, timeout time.Duration, out io.Writer, quiet bool) (*jobs.Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastMessage string
	for {
		job, err := svc.Job(waitCtx, id)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}
		if message := jobProgressText(job); message != "" && message != lastMessage && !quiet {
			fmt.Fprintf(out, "  %s\n", message)
			lastMessage = message
		}
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("job %d still %s after %s; is the daemon running?", id, job.Status, timeout)
			}
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func reportFinishedJob(out io.Writer, job *jobs.Job) error {
	switch job.Status {
	case jobs.StatusCompleted:
		fmt.Fprintf(out, "Job %d completed\n", job.ID)
		fmt.Fprintf(out, "Result: %s\n", job.ResultImageURL)
		if job.HistoryID != "" {
			fmt.Fprintf(out, "History id: %s\n", job.HistoryID)
		}
		return nil
	default:
		return fmt.Errorf("job %d %s: %s", job.ID, job.Status, orDash(job.ErrorMessage))
	}
}
