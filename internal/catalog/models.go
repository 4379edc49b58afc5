package catalog

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a reconstruction job. Jobs advance
// strictly forward through the stage order or jump to a terminal status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusDetecting  Status = "detecting"
	StatusMatching   Status = "matching"
	StatusSparse     Status = "sparse"
	StatusDense      Status = "dense"
	StatusExporting  Status = "exporting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DaemonStopReason is the error message set on in-flight jobs found at startup.
const DaemonStopReason = "daemon stopped while job was in flight"

// CancelledReason is the message recorded when a job is aborted by request.
const CancelledReason = "cancelled"

var stageOrder = map[Status]int{
	StatusPending:    0,
	StatusExtracting: 1,
	StatusDetecting:  2,
	StatusMatching:   3,
	StatusSparse:     4,
	StatusDense:      5,
	StatusExporting:  6,
	StatusCompleted:  7,
}

var allStatuses = []Status{
	StatusPending,
	StatusExtracting,
	StatusDetecting,
	StatusMatching,
	StatusSparse,
	StatusDense,
	StatusExporting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the known statuses in lifecycle order.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether a status ends the job lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsProcessing reports whether the status reflects an in-flight stage.
func (s Status) IsProcessing() bool {
	if s.IsTerminal() || s == StatusPending {
		return false
	}
	_, ok := stageOrder[s]
	return ok
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses accept no further transitions; non-terminal jobs may only
// advance through the stage order or jump to failed/cancelled.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	fromIdx, okFrom := stageOrder[from]
	toIdx, okTo := stageOrder[to]
	if !okFrom || !okTo {
		return false
	}
	return toIdx > fromIdx
}

// Project is a container for related scans.
type Project struct {
	ID          string
	Name        string
	Description string
	Location    string
	ScanCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scan records one uploaded video within a project.
type Scan struct {
	ID            string
	ProjectID     string
	Name          string
	Status        string
	VideoFilename string
	VideoSize     int64
	Quality       string
	ThumbnailPath string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is one execution of the reconstruction pipeline for a scan.
type Job struct {
	ID           string
	ScanID       string
	Status       Status
	Progress     float64
	CurrentStage string
	Quality      string
	Message      string
	ErrorMessage string
	VideoPath    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// TechnicalDetails holds the reconstruction metrics written once on success.
type TechnicalDetails struct {
	ScanID                string
	PointCount            int64
	CameraCount           int64
	FeatureCount          int64
	MatchCount            int64
	VerifiedCount         int64
	ReconstructionError   float64
	CoveragePercentage    float64
	ProcessingTimeSeconds float64
	PointCloudURI         string
	SparseModelURI        string
	ThumbnailURI          string
	CreatedAt             time.Time
}

// Stats summarizes job counts per status.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// SetFailed marks the job failed with the given message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.Message = message
	j.CurrentStage = "Failed"
}

// SetProgress updates the stage label, message, and weighted progress together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.CurrentStage = stage
	j.Message = message
	if percent > j.Progress {
		j.Progress = percent
	}
}
