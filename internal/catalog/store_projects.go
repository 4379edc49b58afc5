package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateProject inserts a new project and returns its identifier.
func (s *Store) CreateProject(ctx context.Context, name, description, location string) (*Project, error) {
	if name == "" {
		return nil, errors.New("project name required")
	}
	id := uuid.NewString()
	now := timestamp()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO projects (id, name, description, location, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, nullableString(description), nullableString(location), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by identifier, including its scan count.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT p.id, p.name, p.description, p.location, p.created_at, p.updated_at,
                (SELECT COUNT(1) FROM scans s WHERE s.project_id = p.id)
         FROM projects p WHERE p.id = ?`,
		id,
	)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns all projects ordered by most recent update.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT p.id, p.name, p.description, p.location, p.created_at, p.updated_at,
                (SELECT COUNT(1) FROM scans s WHERE s.project_id = p.id)
         FROM projects p ORDER BY p.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// CreateScan inserts a scan under a project and bumps the project timestamp.
func (s *Store) CreateScan(ctx context.Context, projectID, name, videoFilename string, videoSize int64, qualityPreset string) (*Scan, error) {
	if projectID == "" || name == "" {
		return nil, errors.New("project id and scan name required")
	}
	id := uuid.NewString()
	now := timestamp()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO scans (id, project_id, name, status, video_filename, video_size, quality, created_at, updated_at)
         VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
		id, projectID, name, nullableString(videoFilename), videoSize, nullableString(qualityPreset), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}
	if _, err := s.execWithRetry(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID); err != nil {
		return nil, fmt.Errorf("touch project: %w", err)
	}
	return s.GetScan(ctx, id)
}

// GetScan fetches a scan by identifier.
func (s *Store) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id,
	)
	scan, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return scan, nil
}

// ListScansByProject returns the scans in a project, newest first.
func (s *Store) ListScansByProject(ctx context.Context, projectID string) ([]*Scan, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+scanColumns+` FROM scans WHERE project_id = ? ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []*Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// UpdateScanStatus sets a scan's status and optional thumbnail path.
func (s *Store) UpdateScanStatus(ctx context.Context, id, status, thumbnailPath string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE scans SET status = ?, thumbnail_path = COALESCE(?, thumbnail_path), updated_at = ? WHERE id = ?`,
		status, nullableString(thumbnailPath), timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("update scan status: %w", err)
	}
	return nil
}

// DeleteScan removes a scan with its jobs and technical details.
func (s *Store) DeleteScan(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete scan: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM technical_details WHERE scan_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete technical details: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE scan_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete jobs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete scan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete scan: %w", err)
	}
	return affected > 0, nil
}

const scanColumns = "id, project_id, name, status, video_filename, video_size, quality, thumbnail_path, created_at, updated_at"

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		id          string
		name        string
		description sql.NullString
		location    sql.NullString
		createdRaw  string
		updatedRaw  string
		scanCount   int
	)
	if err := scanner.Scan(&id, &name, &description, &location, &createdRaw, &updatedRaw, &scanCount); err != nil {
		return nil, err
	}
	project := &Project{
		ID:          id,
		Name:        name,
		Description: description.String,
		Location:    location.String,
		ScanCount:   scanCount,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		project.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		project.UpdatedAt = updated
	}
	return project, nil
}

func scanScan(scanner interface{ Scan(dest ...any) error }) (*Scan, error) {
	var (
		id            string
		projectID     string
		name          string
		status        string
		videoFilename sql.NullString
		videoSize     sql.NullInt64
		qualityPreset sql.NullString
		thumbnail     sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&id, &projectID, &name, &status, &videoFilename, &videoSize, &qualityPreset, &thumbnail, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	scan := &Scan{
		ID:            id,
		ProjectID:     projectID,
		Name:          name,
		Status:        status,
		VideoFilename: videoFilename.String,
		VideoSize:     videoSize.Int64,
		Quality:       qualityPreset.String,
		ThumbnailPath: thumbnail.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		scan.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		scan.UpdatedAt = updated
	}
	return scan, nil
}
