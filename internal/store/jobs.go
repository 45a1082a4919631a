package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertJob enqueues a job if no job of the same (content key, kind) is
// already queued or running. Returns true when a row was inserted.
// Completed or failed jobs for the same pair do not block a new attempt.
func (s *ContentStore) InsertJob(ctx context.Context, job *IndexJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE content_key = ? AND kind = ? AND state IN ('queued', 'running')`,
		job.ContentKey, string(job.Kind)).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active jobs: %w", err)
	}
	if active > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, content_key, payload_ref, attempts, state, run_after, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 'queued', ?, '', ?, ?)`,
		job.ID, string(job.Kind), job.ContentKey, job.PayloadRef, runAfter, now, now)
	if err != nil {
		return false, fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return true, nil
}

// ClaimDueJobs transitions up to limit due queued jobs to running and
// returns them, ordered oldest first.
func (s *ContentStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*IndexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, content_key, payload_ref, attempts, state, run_after, last_error, created_at, updated_at
		FROM jobs
		WHERE state = 'queued' AND run_after <= ?
		ORDER BY created_at, id
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET state = 'running', updated_at = ? WHERE id = ? AND state = 'queued'`,
			now.UTC(), job.ID)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		job.State = JobRunning
	}
	return jobs, nil
}

// CompleteJob marks a job succeeded.
func (s *ContentStore) CompleteJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, id, JobSucceeded, 0, time.Time{}, "")
}

// RetryJob records a failed attempt and reschedules the job after delay.
func (s *ContentStore) RetryJob(ctx context.Context, id string, attempts int, delay time.Duration, cause string) error {
	return s.updateJob(ctx, id, JobFailedRetryable, attempts, time.Now().UTC().Add(delay), cause)
}

// FailJob marks a job permanently failed.
func (s *ContentStore) FailJob(ctx context.Context, id string, attempts int, cause string) error {
	return s.updateJob(ctx, id, JobFailedPermanent, attempts, time.Time{}, cause)
}

// DeferJob returns a running job to the queue without counting an
// attempt. Used when a job's prerequisite stage has not completed yet.
func (s *ContentStore) DeferJob(ctx context.Context, id string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'queued', run_after = ?, updated_at = ? WHERE id = ? AND state = 'running'`,
		now.Add(delay), now, id)
	return err
}

// RequeueJob returns a retryable failure to the queue once its backoff
// window has elapsed.
func (s *ContentStore) RequeueJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'queued', updated_at = ? WHERE id = ? AND state = 'failed-retryable'`,
		time.Now().UTC(), id)
	return err
}

func (s *ContentStore) updateJob(ctx context.Context, id string, state JobState, attempts int, runAfter time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	if runAfter.IsZero() {
		runAfter = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts = ?, run_after = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(state), attempts, runAfter.UTC(), lastErr, now, id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

// DueRetryableJobs returns retryable failures whose backoff has elapsed.
func (s *ContentStore) DueRetryableJobs(ctx context.Context, now time.Time) ([]*IndexJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, content_key, payload_ref, attempts, state, run_after, last_error, created_at, updated_at
		FROM jobs
		WHERE state = 'failed-retryable' AND run_after <= ?
		ORDER BY run_after, id`, now.UTC())
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// JobsByKey returns every job for a content key, newest last.
func (s *ContentStore) JobsByKey(ctx context.Context, key string) ([]*IndexJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, content_key, payload_ref, attempts, state, run_after, last_error, created_at, updated_at
		FROM jobs WHERE content_key = ? ORDER BY created_at, id`, key)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ItemStatus combines a content item with its job history for status
// introspection. Failed items are invisible to search; this is where
// they surface.
type ItemStatus struct {
	Item *ContentItem
	Jobs []*IndexJob
}

// GetStatus returns the item and its jobs, or nil when the key is
// unknown.
func (s *ContentStore) GetStatus(ctx context.Context, key string) (*ItemStatus, error) {
	item, err := s.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	jobs, err := s.JobsByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ItemStatus{Item: item, Jobs: jobs}, nil
}

// HasActiveJob reports whether a queued or running job exists for the
// (content key, kind) pair.
func (s *ContentStore) HasActiveJob(ctx context.Context, key string, kind JobKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE content_key = ? AND kind = ? AND state IN ('queued', 'running')`,
		key, string(kind)).Scan(&n)
	return n > 0, err
}

// KindSucceeded reports whether any job of the given kind has succeeded
// for the content key. Dispatchers use this to hold dependent stages
// until their prerequisite completed.
func (s *ContentStore) KindSucceeded(ctx context.Context, key string, kind JobKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE content_key = ? AND kind = ? AND state = 'succeeded'`,
		key, string(kind)).Scan(&n)
	return n > 0, err
}

// RequeueRunningJobs resets jobs stranded in running back to queued.
// Called once at startup: a crash mid-execution must not lose work,
// so handlers are written to tolerate re-delivery.
func (s *ContentStore) RequeueRunningJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'queued', updated_at = ? WHERE state = 'running'`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeTerminalJobs removes succeeded and permanently failed jobs older
// than the retention window. Returns the number of rows removed.
func (s *ContentStore) PurgeTerminalJobs(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE state IN ('succeeded', 'failed-permanent') AND updated_at < ?`,
		olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountJobsByState returns job counts keyed by state.
func (s *ContentStore) CountJobsByState(ctx context.Context) (map[JobState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[JobState]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[JobState(st)] = n
	}
	return out, rows.Err()
}

// ActiveJobCount returns the number of queued plus running jobs. The
// queue uses it to enforce its capacity bound.
func (s *ContentStore) ActiveJobCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state IN ('queued', 'running')`).Scan(&n)
	return n, err
}

func scanJobs(rows *sql.Rows) ([]*IndexJob, error) {
	defer rows.Close()

	var jobs []*IndexJob
	for rows.Next() {
		job := &IndexJob{}
		var kind, state string
		if err := rows.Scan(&job.ID, &kind, &job.ContentKey, &job.PayloadRef,
			&job.Attempts, &state, &job.RunAfter, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.Kind = JobKind(kind)
		job.State = JobState(state)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
