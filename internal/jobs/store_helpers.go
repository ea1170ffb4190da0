package jobs

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, client_id, person_image_url, garment_image_url, garment_type, category, status, fal_request_id, status_url, response_url, queue_position, result_image_url, history_id, error_message, progress_message, attempts, created_at, updated_at, last_heartbeat"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               int64
		clientID         sql.NullString
		personURL        string
		garmentURL       string
		garmentType      sql.NullString
		category         sql.NullString
		statusStr        string
		falRequestID     sql.NullString
		statusURL        sql.NullString
		responseURL      sql.NullString
		queuePosition    sql.NullInt64
		resultURL        sql.NullString
		historyID        sql.NullString
		errorMessage     sql.NullString
		progressMessage  sql.NullString
		attempts         sql.NullInt64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&clientID,
		&personURL,
		&garmentURL,
		&garmentType,
		&category,
		&statusStr,
		&falRequestID,
		&statusURL,
		&responseURL,
		&queuePosition,
		&resultURL,
		&historyID,
		&errorMessage,
		&progressMessage,
		&attempts,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		ClientID:        clientID.String,
		PersonImageURL:  personURL,
		GarmentImageURL: garmentURL,
		GarmentType:     garmentType.String,
		Category:        category.String,
		Status:          Status(statusStr),
		FalRequestID:    falRequestID.String,
		StatusURL:       statusURL.String,
		ResponseURL:     responseURL.String,
		QueuePosition:   int(queuePosition.Int64),
		ResultImageURL:  resultURL.String,
		HistoryID:       historyID.String,
		ErrorMessage:    errorMessage.String,
		ProgressMessage: progressMessage.String,
		Attempts:        int(attempts.Int64),
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}
