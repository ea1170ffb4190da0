package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tryon/internal/api"
	"tryon/internal/jobs"
)

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func jobListColumns() []column {
	return []column{
		right("ID"),
		left("Client"),
		left("Status"),
		left("Garment"),
		left("Progress"),
		left("Created"),
		urlColumn("Result"),
	}
}

func buildJobListRows(list []*jobs.Job, colorize bool) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			orDash(job.ClientID),
			renderJobStatus(job.Status, colorize),
			garmentLabel(job.GarmentType),
			orDash(jobProgressText(job)),
			formatLocalTime(job.CreatedAt),
			orDash(job.ResultImageURL),
		})
	}
	return rows
}

func jobProgressText(job *jobs.Job) string {
	switch {
	case job.Status == jobs.StatusFailed || job.Status == jobs.StatusCanceled:
		return job.ErrorMessage
	case job.QueuePosition > 0:
		return fmt.Sprintf("%s (queue #%d)", job.ProgressMessage, job.QueuePosition)
	default:
		return job.ProgressMessage
	}
}

func formatLocalTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printJobDetail(out io.Writer, job *jobs.Job, colorize bool) {
	for _, line := range renderSectionHeader(fmt.Sprintf("Job %d", job.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fields := [][2]string{
		{"Status", renderJobStatus(job.Status, colorize)},
		{"Client", orDash(job.ClientID)},
		{"Garment", garmentLabel(job.GarmentType)},
		{"Category", orDash(job.Category)},
		{"Person image", truncateURL(job.PersonImageURL)},
		{"Garment image", truncateURL(job.GarmentImageURL)},
		{"Progress", orDash(job.ProgressMessage)},
		{"fal request", orDash(job.FalRequestID)},
		{"Attempts", strconv.Itoa(job.Attempts)},
		{"Result", orDash(job.ResultImageURL)},
		{"History id", orDash(job.HistoryID)},
		{"Error", orDash(job.ErrorMessage)},
		{"Created", formatLocalTime(job.CreatedAt)},
		{"Updated", formatLocalTime(job.UpdatedAt)},
	}
	for _, field := range fields {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, field[0]+":", field[1])
	}
}

// truncateURL keeps inline data URLs readable in terminal output.
func truncateURL(value string) string {
	if value == "" {
		return "-"
	}
	if strings.HasPrefix(value, "data:") && len(value) > urlColumnWidth {
		return value[:urlColumnWidth] + fmt.Sprintf("... (%d bytes)", len(value))
	}
	return value
}

func bulkClearLabel(completed, failed bool) string {
	switch {
	case completed:
		return "completed jobs"
	case failed:
		return "failed jobs"
	default:
		return "jobs"
	}
}

func printRetryResult(out io.Writer, result api.RetryJobsResult) {
	for _, job := range result.Jobs {
		switch job.Outcome {
		case api.RetryJobUpdated:
			fmt.Fprintf(out, "Job %d requeued (%s)\n", job.ID, job.NewStatus)
		case api.RetryJobNotFound:
			fmt.Fprintf(out, "Job %d not found\n", job.ID)
		case api.RetryJobNotFailed:
			fmt.Fprintf(out, "Job %d is not in a retryable state (only failed or canceled jobs can be retried)\n", job.ID)
		case api.RetryJobInFlight:
			fmt.Fprintf(out, "Job %d skipped: its client already has a job in flight\n", job.ID)
		}
	}
	fmt.Fprintf(out, "Retried %d jobs\n", result.UpdatedCount)
}

func printCancelResult(out io.Writer, result api.CancelJobsResult) {
	for _, job := range result.Jobs {
		switch job.Outcome {
		case api.CancelJobUpdated:
			fmt.Fprintf(out, "Job %d canceled (was %s)\n", job.ID, job.PriorStatus)
		case api.CancelJobNotFound:
			fmt.Fprintf(out, "Job %d not found\n", job.ID)
		case api.CancelJobAlreadyCompleted:
			fmt.Fprintf(out, "Job %d already completed\n", job.ID)
		case api.CancelJobAlreadyFailed:
			fmt.Fprintf(out, "Job %d already failed\n", job.ID)
		case api.CancelJobAlreadyCanceled:
			fmt.Fprintf(out, "Job %d already canceled\n", job.ID)
		}
	}
	fmt.Fprintf(out, "Canceled %d jobs\n", result.UpdatedCount)
}
