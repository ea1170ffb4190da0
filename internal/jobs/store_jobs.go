package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewJob inserts a pending job. A non-empty client id may hold only one
// active job; a second request returns ErrInFlight.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	ctx = ensureContext(ctx)
	params.ClientID = strings.TrimSpace(params.ClientID)
	if strings.TrimSpace(params.PersonImageURL) == "" || strings.TrimSpace(params.GarmentImageURL) == "" {
		return nil, errors.New("insert job: person and garment image urls are required")
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if params.ClientID != "" {
			active := ActiveStatuses()
			args := append([]any{params.ClientID}, statusArgs(active)...)
			var count int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM jobs WHERE client_id = ? AND status IN (`+makePlaceholders(len(active))+`)`,
				args...,
			).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				return ErrInFlight
			}
		}

		timestamp := nowString()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                client_id, person_image_url, garment_image_url, garment_type, category,
                status, progress_message, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableString(params.ClientID),
			params.PersonImageURL,
			params.GarmentImageURL,
			nullableString(params.GarmentType),
			nullableString(params.Category),
			StatusPending,
			"Waiting to submit",
			timestamp,
			timestamp,
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if errors.Is(err, ErrInFlight) || isUniqueViolation(err) {
			return nil, fmt.Errorf("insert job for client %q: %w", params.ClientID, ErrInFlight)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// HasActive reports whether clientID holds a job that is not yet terminal.
func (s *Store) HasActive(ctx context.Context, clientID string) (bool, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return false, nil
	}
	active := ActiveStatuses()
	args := append([]any{clientID}, statusArgs(active)...)
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM jobs WHERE client_id = ? AND status IN (`+makePlaceholders(len(active))+`)`,
		args...,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("count active jobs for client %q: %w", clientID, err)
	}
	return count > 0, nil
}

// GetByID fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveForClient returns the client's in-flight job, if any.
func (s *Store) ActiveForClient(ctx context.Context, clientID string) (*Job, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, nil
	}
	active := ActiveStatuses()
	args := append([]any{clientID}, statusArgs(active)...)
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE client_id = ? AND status IN (`+makePlaceholders(len(active))+`) ORDER BY created_at DESC, id DESC LIMIT 1`,
		args...,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for client: %w", err)
	}
	return job, nil
}

// Update persists every mutable field of job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	_, err := s.update(ctx, job, "")
	return err
}

// UpdateIfStatus persists job only while the stored row is still in
// expected. It reports false when the row moved on, for example because the
// job was canceled while a worker held it.
func (s *Store) UpdateIfStatus(ctx context.Context, job *Job, expected Status) (bool, error) {
	return s.update(ctx, job, expected)
}

func (s *Store) update(ctx context.Context, job *Job, expected Status) (bool, error) {
	if job == nil {
		return false, errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	query := `UPDATE jobs
         SET status = ?, fal_request_id = ?, status_url = ?, response_url = ?,
             queue_position = ?, result_image_url = ?, history_id = ?, error_message = ?,
             progress_message = ?, attempts = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`
	args := []any{
		job.Status,
		nullableString(job.FalRequestID),
		nullableString(job.StatusURL),
		nullableString(job.ResponseURL),
		job.QueuePosition,
		nullableString(job.ResultImageURL),
		nullableString(job.HistoryID),
		nullableString(job.ErrorMessage),
		nullableString(job.ProgressMessage),
		job.Attempts,
		formatTime(job.UpdatedAt),
		nullableTime(job.LastHeartbeat),
		job.ID,
	}
	if expected != "" {
		query += ` AND status = ?`
		args = append(args, expected)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("update job %d: %w", job.ID, ErrInFlight)
		}
		return false, fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordHistoryID stores the history entry of a finished result while the
// job is still in expected. It reports false when the job moved on.
func (s *Store) RecordHistoryID(ctx context.Context, id int64, historyID string, expected Status) (bool, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs SET history_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		nullableString(historyID), nowString(), id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("record history id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateProgress records queue position and progress for a job a worker
// currently owns. Rows in any other status are left alone.
func (s *Store) UpdateProgress(ctx context.Context, id int64, queuePosition int, message string) error {
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET queue_position = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		queuePosition, nullableString(message), nowString(), id, StatusSubmitting, StatusProcessing,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListByClient returns a client's jobs, newest first.
func (s *Store) ListByClient(ctx context.Context, clientID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE client_id = ? ORDER BY created_at DESC, id DESC`,
		strings.TrimSpace(clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("list client jobs: %w", err)
	}
	return scanJobs(rows)
}

// NextForStatuses returns the oldest job matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + makePlaceholders(len(statuses)) + `) ORDER BY created_at, id LIMIT 1`
	row := s.db.QueryRowContext(ensureContext(ctx), query, statusArgs(statuses)...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext atomically moves the oldest job in from to the processing status
// to, stamping a heartbeat. It returns (nil, nil) when nothing is waiting, so
// concurrent workers never pick up the same job.
func (s *Store) ClaimNext(ctx context.Context, from, to Status) (*Job, error) {
	ctx = ensureContext(ctx)
	for {
		job, err := s.NextForStatuses(ctx, from)
		if err != nil || job == nil {
			return nil, err
		}
		now := nowString()
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, now, now, job.ID, from,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker won the race; look again.
			continue
		}
		return s.GetByID(ctx, job.ID)
	}
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed and canceled jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status IN (?, ?)`, StatusFailed, StatusCanceled)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}
