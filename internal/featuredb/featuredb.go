package featuredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// Statistics summarizes the contents of a COLMAP feature database.
type Statistics struct {
	Path          string
	SizeBytes     int64
	CameraCount   int64
	ImageCount    int64
	KeypointRows  int64
	FeatureCount  int64
	MatchPairs    int64
	MatchCount    int64
	VerifiedPairs int64
	VerifiedCount int64
}

// InlierRatio reports the fraction of raw matches that survived geometric
// verification, zero when no matches exist.
func (s *Statistics) InlierRatio() float64 {
	if s.MatchCount == 0 {
		return 0
	}
	return float64(s.VerifiedCount) / float64(s.MatchCount)
}

// MeanFeaturesPerImage reports the average keypoint count per image.
func (s *Statistics) MeanFeaturesPerImage() float64 {
	if s.ImageCount == 0 {
		return 0
	}
	return float64(s.FeatureCount) / float64(s.ImageCount)
}

// CleanResult reports the outcome of a cleanup run.
type CleanResult struct {
	BackupPath  string
	RowsRemoved int64
}

// Inspect opens the feature database read-only and gathers table statistics.
func Inspect(ctx context.Context, dbPath string) (*Statistics, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "featuredb", "inspect", "feature database not found", err)
	}

	db, err := openFeatureDB(dbPath, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := verifySchema(ctx, db); err != nil {
		return nil, err
	}

	stats := &Statistics{Path: dbPath, SizeBytes: info.Size()}

	// Two combined queries keep inspection cheap on multi-gigabyte
	// databases: one over the per-image tables, one over the pair tables.
	err = db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(1) FROM cameras),
            (SELECT COUNT(1) FROM images),
            (SELECT COUNT(1) FROM keypoints),
            (SELECT COALESCE(SUM(rows), 0) FROM keypoints)`).
		Scan(&stats.CameraCount, &stats.ImageCount, &stats.KeypointRows, &stats.FeatureCount)
	if err != nil {
		return nil, wrapBusy(err, "inspect", "query image tables")
	}

	err = db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(1) FROM matches),
            (SELECT COALESCE(SUM(rows), 0) FROM matches),
            (SELECT COUNT(1) FROM two_view_geometries),
            (SELECT COALESCE(SUM(rows), 0) FROM two_view_geometries)`).
		Scan(&stats.MatchPairs, &stats.MatchCount, &stats.VerifiedPairs, &stats.VerifiedCount)
	if err != nil {
		return nil, wrapBusy(err, "inspect", "query pair tables")
	}

	return stats, nil
}

// Clean backs up the feature database, then removes keypoint, descriptor,
// and match rows that reference images outside the kept set. When keepImages
// is empty only rows referencing deleted image records are removed. The
// backup is taken with VACUUM INTO so it reflects the same snapshot a
// concurrent Inspect would report, WAL content included; when the cleanup
// transaction cannot acquire the write lock the backup is removed again so
// an aborted clean leaves no trace.
func Clean(ctx context.Context, dbPath string, keepImages []string) (*CleanResult, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "featuredb", "clean", "feature database not found", err)
	}

	db, err := openFeatureDB(dbPath, false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := verifySchema(ctx, db); err != nil {
		return nil, err
	}

	backupPath := backupPathFor(dbPath)
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return nil, wrapBusy(err, "clean", "back up database")
	}

	// The connection is opened with an immediate transaction mode, so the
	// write lock is taken here or the clean aborts up front.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = os.Remove(backupPath)
		return nil, wrapBusy(err, "clean", "begin transaction")
	}
	defer tx.Rollback()

	// The kept set is materialized in a temp table so the per-table deletes
	// stay as plain subqueries regardless of how the set was defined.
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE kept_images AS SELECT image_id FROM images`); err != nil {
		_ = os.Remove(backupPath)
		return nil, wrapBusy(err, "clean", "build kept set")
	}
	if len(keepImages) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepImages)), ",")
		args := make([]any, len(keepImages))
		for i, name := range keepImages {
			args[i] = name
		}
		stmt := `DELETE FROM kept_images WHERE image_id NOT IN
            (SELECT image_id FROM images WHERE name IN (` + placeholders + `))`
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			_ = os.Remove(backupPath)
			return nil, wrapBusy(err, "clean", "restrict kept set")
		}
	}

	var removed int64
	for _, stmt := range []string{
		`DELETE FROM keypoints WHERE image_id NOT IN (SELECT image_id FROM kept_images)`,
		`DELETE FROM descriptors WHERE image_id NOT IN (SELECT image_id FROM kept_images)`,
		// pair_id encodes both image ids: pair_id = id1 * 2147483647 + id2.
		`DELETE FROM matches WHERE pair_id / 2147483647 NOT IN (SELECT image_id FROM kept_images)
            OR pair_id % 2147483647 NOT IN (SELECT image_id FROM kept_images)`,
		`DELETE FROM two_view_geometries WHERE pair_id / 2147483647 NOT IN (SELECT image_id FROM kept_images)
            OR pair_id % 2147483647 NOT IN (SELECT image_id FROM kept_images)`,
	} {
		res, execErr := tx.ExecContext(ctx, stmt)
		if execErr != nil {
			_ = os.Remove(backupPath)
			return nil, wrapBusy(execErr, "clean", "delete unreferenced rows")
		}
		count, _ := res.RowsAffected()
		removed += count
	}

	if err := tx.Commit(); err != nil {
		_ = os.Remove(backupPath)
		return nil, wrapBusy(err, "clean", "commit cleanup")
	}

	return &CleanResult{BackupPath: backupPath, RowsRemoved: removed}, nil
}

func openFeatureDB(dbPath string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + dbPath + "?mode=ro"
	if !readOnly {
		// Immediate transactions fail fast when another writer holds the
		// database instead of discovering the conflict at commit time.
		dsn = "file:" + dbPath + "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open feature db: %w", err)
	}

	// Large feature databases benefit from a bigger page cache and mmap.
	// Writers abort after a short wait rather than stalling the API.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -65536",
		"PRAGMA mmap_size = 268435456",
	}
	if !readOnly {
		pragmas = []string{
			"PRAGMA busy_timeout = 1000",
			"PRAGMA cache_size = -65536",
			"PRAGMA mmap_size = 268435456",
			"PRAGMA journal_mode=WAL",
		}
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return db, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{"cameras", "images", "keypoints", "descriptors", "matches", "two_view_geometries"}
	for _, table := range required {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrMalformedInput, "featuredb", "verify-schema",
				fmt.Sprintf("not a COLMAP feature database: missing table %s", table), nil)
		}
		if err != nil {
			return wrapBusy(err, "verify-schema", "read sqlite_master")
		}
	}
	return nil
}

func backupPathFor(dbPath string) string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(filepath.Dir(dbPath),
		strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))+".backup-"+stamp+filepath.Ext(dbPath))
}

func wrapBusy(err error, operation, message string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return services.Wrap(services.ErrLocked, "featuredb", operation, "database is locked by another process", err)
	}
	return services.Wrap(services.ErrTransient, "featuredb", operation, message, err)
}
