package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateJob inserts a pending job for a scan.
func (s *Store) CreateJob(ctx context.Context, scanID, qualityPreset, videoPath string) (*Job, error) {
	if scanID == "" {
		return nil, errors.New("scan id required")
	}
	id := uuid.NewString()
	now := timestamp()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, scan_id, status, progress, current_stage, quality, message, video_path, created_at, updated_at)
         VALUES (?, ?, ?, 0, 'Pending', ?, 'Video uploaded, processing queued', ?, ?, ?)`,
		id, scanID, StatusPending, qualityPreset, nullableString(videoPath), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
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

// ListJobs returns jobs filtered by status set (or all jobs when none given),
// oldest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
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

// UpdateJob persists changes to an existing job. The store enforces the
// lifecycle invariants: no transitions out of terminal states, no backward
// stage movement, and monotonic progress while the job remains non-terminal.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	current, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("job %s does not exist", job.ID)
	}
	if !CanTransition(current.Status, job.Status) {
		return fmt.Errorf("invalid transition %s -> %s for job %s", current.Status, job.Status, job.ID)
	}
	if !job.Status.IsTerminal() && job.Progress < current.Progress {
		job.Progress = current.Progress
	}
	if job.Status == StatusCompleted && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}

	job.UpdatedAt = time.Now().UTC()
	_, err = s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = ?, current_stage = ?, quality = ?, message = ?,
             error_message = ?, video_path = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		job.Status,
		job.Progress,
		nullableString(job.CurrentStage),
		job.Quality,
		nullableString(job.Message),
		nullableString(job.ErrorMessage),
		nullableString(job.VideoPath),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// FailInFlight marks all non-terminal, non-pending jobs as failed. Called at
// daemon startup: subprocess state does not survive a restart, so orphaned
// in-flight jobs can never finish.
func (s *Store) FailInFlight(ctx context.Context, reason string) (int64, error) {
	if reason == "" {
		reason = DaemonStopReason
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, message = ?, current_stage = 'Failed', updated_at = ?
         WHERE status NOT IN (?, ?, ?, ?)`,
		StatusFailed, reason, reason, timestamp(),
		StatusPending, StatusCompleted, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped into lifecycle buckets.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch status {
		case StatusPending:
			stats.Pending += count
		case StatusCompleted:
			stats.Completed += count
		case StatusFailed:
			stats.Failed += count
		case StatusCancelled:
			stats.Cancelled += count
		default:
			stats.Processing += count
		}
	}
	return stats, rows.Err()
}

const jobColumns = "id, scan_id, status, progress, current_stage, quality, message, error_message, video_path, created_at, updated_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		scanID       string
		statusStr    string
		progress     float64
		currentStage sql.NullString
		qualityStr   string
		message      sql.NullString
		errorMessage sql.NullString
		videoPath    sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id, &scanID, &statusStr, &progress, &currentStage, &qualityStr,
		&message, &errorMessage, &videoPath, &createdRaw, &updatedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	job := &Job{
		ID:           id,
		ScanID:       scanID,
		Status:       Status(statusStr),
		Progress:     progress,
		CurrentStage: currentStage.String,
		Quality:      qualityStr,
		Message:      message.String,
		ErrorMessage: errorMessage.String,
		VideoPath:    videoPath.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
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
