package jobs

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckProcessing rolls every worker-owned job back to the start of its
// current stage. Call it on startup before workers run.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = CASE status
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE status
         END,
             progress_message = 'Reset from stuck processing', last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusSubmitting, StatusPending,
		StatusProcessing, StatusSubmitted,
		nowString(),
		StatusSubmitting,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat refreshes the heartbeat of a job a worker currently owns.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := nowString()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		now,
		now,
		id,
		StatusSubmitting,
		StatusProcessing,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns jobs whose heartbeat expired before cutoff to
// the start of their current stage.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
        SET status = CASE status
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE status
        END,
            progress_message = 'Reclaimed from stale processing', last_heartbeat = NULL, updated_at = ?
        WHERE status IN (?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusSubmitting, StatusPending,
		StatusProcessing, StatusSubmitted,
		nowString(),
		StatusSubmitting,
		StatusProcessing,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

const retryAssignments = `status = ?, fal_request_id = NULL, status_url = NULL, response_url = NULL,
            queue_position = 0, result_image_url = NULL, history_id = NULL, error_message = NULL,
            progress_message = 'Retry requested', last_heartbeat = NULL, updated_at = ?`

// RetryFailed moves failed or canceled jobs back to pending so they are
// submitted again from scratch. With explicit ids a job whose client already
// has another active job is rejected with ErrInFlight. With no ids every
// retryable job is retried and conflicting ones are skipped.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	explicit := len(ids) > 0
	if !explicit {
		candidates, err := s.List(ctx, StatusFailed, StatusCanceled)
		if err != nil {
			return 0, err
		}
		for i := len(candidates) - 1; i >= 0; i-- {
			ids = append(ids, candidates[i].ID)
		}
	}

	var total int64
	for _, id := range ids {
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET `+retryAssignments+` WHERE id = ? AND status IN (?, ?)`,
			StatusPending, nowString(), id, StatusFailed, StatusCanceled,
		)
		if err != nil {
			if isUniqueViolation(err) {
				if !explicit {
					continue
				}
				return total, fmt.Errorf("retry job %d: %w", id, ErrInFlight)
			}
			return total, fmt.Errorf("retry job %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// Cancel marks an active job canceled. It reports false when the job is
// missing or already terminal.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	active := ActiveStatuses()
	args := append([]any{StatusCanceled, UserCancelReason, UserCancelReason, nowString(), id}, statusArgs(active)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, progress_message = ?, queue_position = 0,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(active))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
