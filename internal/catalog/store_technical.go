package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveTechnicalDetails records the reconstruction metrics for a scan and marks
// the scan completed in the same transaction. Details are written exactly once
// per scan; a second write for the same scan is rejected.
func (s *Store) SaveTechnicalDetails(ctx context.Context, details *TechnicalDetails) error {
	if details == nil || details.ScanID == "" {
		return errors.New("technical details require a scan id")
	}
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save details: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM technical_details WHERE scan_id = ?`, details.ScanID).Scan(&existing); err != nil {
		return fmt.Errorf("check existing details: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("technical details already recorded for scan %s", details.ScanID)
	}

	now := timestamp()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO technical_details (
            scan_id, point_count, camera_count, feature_count, match_count, verified_count,
            reconstruction_error, coverage_percentage, processing_time_seconds,
            point_cloud_uri, sparse_model_uri, thumbnail_uri, created_at
         ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		details.ScanID,
		details.PointCount,
		details.CameraCount,
		details.FeatureCount,
		details.MatchCount,
		details.VerifiedCount,
		details.ReconstructionError,
		details.CoveragePercentage,
		details.ProcessingTimeSeconds,
		nullableString(details.PointCloudURI),
		nullableString(details.SparseModelURI),
		nullableString(details.ThumbnailURI),
		now,
	); err != nil {
		return fmt.Errorf("insert technical details: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE scans SET status = 'completed', thumbnail_path = COALESCE(?, thumbnail_path), updated_at = ? WHERE id = ?`,
		nullableString(details.ThumbnailURI), now, details.ScanID,
	); err != nil {
		return fmt.Errorf("mark scan completed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit technical details: %w", err)
	}
	return nil
}

// GetTechnicalDetails returns the stored metrics for a scan, or nil when the
// scan has no completed reconstruction.
func (s *Store) GetTechnicalDetails(ctx context.Context, scanID string) (*TechnicalDetails, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT scan_id, point_count, camera_count, feature_count, match_count, verified_count,
                reconstruction_error, coverage_percentage, processing_time_seconds,
                point_cloud_uri, sparse_model_uri, thumbnail_uri, created_at
         FROM technical_details WHERE scan_id = ?`,
		scanID,
	)

	var (
		details      TechnicalDetails
		pointCloud   sql.NullString
		sparseModel  sql.NullString
		thumbnail    sql.NullString
		createdRaw   string
		pointCount   sql.NullInt64
		cameraCount  sql.NullInt64
		featureCount sql.NullInt64
		matchCount   sql.NullInt64
		verified     sql.NullInt64
		reconErr     sql.NullFloat64
		coverage     sql.NullFloat64
		procSeconds  sql.NullFloat64
	)
	err := row.Scan(
		&details.ScanID, &pointCount, &cameraCount, &featureCount, &matchCount, &verified,
		&reconErr, &coverage, &procSeconds,
		&pointCloud, &sparseModel, &thumbnail, &createdRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get technical details: %w", err)
	}

	details.PointCount = pointCount.Int64
	details.CameraCount = cameraCount.Int64
	details.FeatureCount = featureCount.Int64
	details.MatchCount = matchCount.Int64
	details.VerifiedCount = verified.Int64
	details.ReconstructionError = reconErr.Float64
	details.CoveragePercentage = coverage.Float64
	details.ProcessingTimeSeconds = procSeconds.Float64
	details.PointCloudURI = pointCloud.String
	details.SparseModelURI = sparseModel.String
	details.ThumbnailURI = thumbnail.String
	if created, parseErr := parseTimeString(createdRaw); parseErr == nil {
		details.CreatedAt = created
	}
	return &details, nil
}

// ResetDemoData wipes the catalog and seeds a demo project with a completed
// scan. This is an explicit administrative operation; it bypasses the job
// lifecycle rules on purpose.
func (s *Store) ResetDemoData(ctx context.Context) (*Project, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin demo reset: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"technical_details", "jobs", "scans", "projects"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	now := timestamp()
	projectID := "demo-project-001"
	scanID := "demo-scan-001"
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO projects (id, name, description, location, created_at, updated_at)
         VALUES (?, 'Demo Project', 'Sample reconstruction data', 'Demo Site', ?, ?)`,
		projectID, now, now,
	); err != nil {
		return nil, fmt.Errorf("seed demo project: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO scans (id, project_id, name, status, video_filename, video_size, quality, created_at, updated_at)
         VALUES (?, ?, 'Demo Scan', 'completed', 'demo.mp4', 0, 'medium', ?, ?)`,
		scanID, projectID, now, now,
	); err != nil {
		return nil, fmt.Errorf("seed demo scan: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO technical_details (
            scan_id, point_count, camera_count, feature_count, match_count, verified_count,
            reconstruction_error, coverage_percentage, processing_time_seconds, created_at
         ) VALUES (?, 125000, 48, 96000, 45000, 38000, 0.85, 92.5, 340, ?)`,
		scanID, now,
	); err != nil {
		return nil, fmt.Errorf("seed demo details: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit demo reset: %w", err)
	}
	return s.GetProject(ctx, projectID)
}
