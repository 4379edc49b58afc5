package api

import (
	"time"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/featuredb"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	UptimeS     int64  `json:"uptime_s"`
	ComputeTier string `json:"compute_tier"`
	Engine      string `json:"engine"`
	ActiveJobs  int    `json:"active_jobs"`
	QueuedJobs  int    `json:"queued_jobs"`
}

type UploadResponse struct {
	JobID  string `json:"job_id"`
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
}

type JobResponse struct {
	JobID        string                   `json:"job_id"`
	ScanID       string                   `json:"scan_id"`
	Status       string                   `json:"status"`
	Progress     float64                  `json:"progress"`
	CurrentStage string                   `json:"current_stage,omitempty"`
	Quality      string                   `json:"quality"`
	Message      string                   `json:"message,omitempty"`
	Error        string                   `json:"error,omitempty"`
	CreatedAt    string                   `json:"created_at"`
	CompletedAt  string                   `json:"completed_at,omitempty"`
	Details      *TechnicalDetailsPayload `json:"technical_details,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	ScanCount   int    `json:"scan_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ScanResponse struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	VideoFilename string `json:"video_filename,omitempty"`
	VideoSize     int64  `json:"video_size"`
	Quality       string `json:"quality,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type ScansResponse struct {
	Scans []ScanResponse `json:"scans"`
}

type ScanDetailsResponse struct {
	Scan    ScanResponse             `json:"scan"`
	Details *TechnicalDetailsPayload `json:"technical_details,omitempty"`
}

type TechnicalDetailsPayload struct {
	PointCount            int64   `json:"point_count"`
	CameraCount           int64   `json:"camera_count"`
	FeatureCount          int64   `json:"feature_count"`
	MatchCount            int64   `json:"match_count"`
	VerifiedCount         int64   `json:"verified_count"`
	ReconstructionError   float64 `json:"reconstruction_error"`
	CoveragePercentage    float64 `json:"coverage_percentage"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	PointCloudURI         string  `json:"point_cloud_uri,omitempty"`
	ThumbnailURI          string  `json:"thumbnail_uri,omitempty"`
}

type InspectResponse struct {
	Path          string  `json:"path"`
	SizeBytes     int64   `json:"size_bytes"`
	Cameras       int64   `json:"cameras"`
	Images        int64   `json:"images"`
	Keypoints     int64   `json:"keypoint_rows"`
	Features      int64   `json:"features"`
	MatchPairs    int64   `json:"match_pairs"`
	Matches       int64   `json:"matches"`
	VerifiedPairs int64   `json:"verified_pairs"`
	Verified      int64   `json:"verified_matches"`
	InlierRatio   float64 `json:"inlier_ratio"`
	MeanFeatures  float64 `json:"mean_features_per_image"`
}

type ImportResponse struct {
	Format  string `json:"format"`
	Path    string `json:"path"`
	Cameras int    `json:"cameras"`
	Images  int    `json:"images"`
	Points  int    `json:"points"`
}

type CleanResponse struct {
	BackupPath  string `json:"backup_path"`
	RowsRemoved int64  `json:"rows_removed"`
}

func jobToResponse(job *catalog.Job) JobResponse {
	resp := JobResponse{
		JobID:        job.ID,
		ScanID:       job.ScanID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		CurrentStage: job.CurrentStage,
		Quality:      job.Quality,
		Message:      job.Message,
		Error:        job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func projectToResponse(project *catalog.Project) ProjectResponse {
	return ProjectResponse{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Location:    project.Location,
		ScanCount:   project.ScanCount,
		CreatedAt:   project.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   project.UpdatedAt.Format(time.RFC3339),
	}
}

func scanToResponse(scan *catalog.Scan) ScanResponse {
	return ScanResponse{
		ID:            scan.ID,
		ProjectID:     scan.ProjectID,
		Name:          scan.Name,
		Status:        scan.Status,
		VideoFilename: scan.VideoFilename,
		VideoSize:     scan.VideoSize,
		Quality:       scan.Quality,
		CreatedAt:     scan.CreatedAt.Format(time.RFC3339),
	}
}

func detailsToPayload(details *catalog.TechnicalDetails) *TechnicalDetailsPayload {
	if details == nil {
		return nil
	}
	return &TechnicalDetailsPayload{
		PointCount:            details.PointCount,
		CameraCount:           details.CameraCount,
		FeatureCount:          details.FeatureCount,
		MatchCount:            details.MatchCount,
		VerifiedCount:         details.VerifiedCount,
		ReconstructionError:   details.ReconstructionError,
		CoveragePercentage:    details.CoveragePercentage,
		ProcessingTimeSeconds: details.ProcessingTimeSeconds,
		PointCloudURI:         details.PointCloudURI,
		ThumbnailURI:          details.ThumbnailURI,
	}
}

func inspectToResponse(stats *featuredb.Statistics) InspectResponse {
	return InspectResponse{
		Path:          stats.Path,
		SizeBytes:     stats.SizeBytes,
		Cameras:       stats.CameraCount,
		Images:        stats.ImageCount,
		Keypoints:     stats.KeypointRows,
		Features:      stats.FeatureCount,
		MatchPairs:    stats.MatchPairs,
		Matches:       stats.MatchCount,
		VerifiedPairs: stats.VerifiedPairs,
		Verified:      stats.VerifiedCount,
		InlierRatio:   stats.InlierRatio(),
		MeanFeatures:  stats.MeanFeaturesPerImage(),
	}
}
