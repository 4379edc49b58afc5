package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
)

// maxUploadBytes caps multipart uploads at 2 GiB.
const maxUploadBytes = 2 << 30

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}

		projectID := strings.TrimSpace(r.FormValue("project_id"))
		scanName := strings.TrimSpace(r.FormValue("scan_name"))
		presetName := strings.TrimSpace(r.FormValue("quality"))
		if presetName == "" {
			presetName = "medium"
		}
		if projectID == "" || scanName == "" {
			WriteError(w, http.StatusBadRequest, "project_id and scan_name are required", "BAD_REQUEST")
			return
		}
		preset, err := quality.Parse(presetName)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		project, err := cfg.Store.GetProject(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if project == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "video file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()
		if !isVideoFilename(header.Filename) {
			WriteError(w, http.StatusBadRequest, "unsupported video type", "BAD_REQUEST")
			return
		}

		// Admission is decided before any durable state exists, so a rejected
		// submission leaves no scan, job, or saved video behind.
		reservation, err := cfg.Governor.Reserve()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		admitted := false
		defer func() {
			if !admitted {
				reservation.Release()
			}
		}()

		scan, err := cfg.Store.CreateScan(r.Context(), projectID, scanName, header.Filename, header.Size, string(preset))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		videoPath := filepath.Join(cfg.Config.UploadsDir(), scan.ID+filepath.Ext(header.Filename))
		if err := saveUpload(file, videoPath); err != nil {
			writeServiceError(w, err)
			return
		}

		job, err := cfg.Store.CreateJob(r.Context(), scan.ID, string(preset), videoPath)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		reservation.Commit(job.ID)
		admitted = true

		WriteJSON(w, http.StatusAccepted, UploadResponse{
			JobID:  job.ID,
			ScanID: scan.ID,
			Status: string(catalog.StatusPending),
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []catalog.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, ok := catalog.ParseStatus(raw)
			if !ok {
				WriteError(w, http.StatusBadRequest, "unknown status "+raw, "BAD_REQUEST")
				return
			}
			statuses = append(statuses, status)
		}
		jobs, err := cfg.Store.ListJobs(r.Context(), statuses...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, job := range jobs {
			resp.Jobs[i] = jobToResponse(job)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		resp := jobToResponse(job)
		if job.Status == catalog.StatusCompleted {
			details, err := cfg.Store.GetTechnicalDetails(r.Context(), job.ScanID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			resp.Details = detailsToPayload(details)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		if job.Status.IsTerminal() {
			WriteError(w, http.StatusConflict, "job already finished", "ALREADY_TERMINAL")
			return
		}

		if cfg.Governor.Cancel(job.ID) {
			// The running pipeline observes the cancelled context and writes
			// the terminal state itself.
			WriteJSON(w, http.StatusAccepted, jobToResponse(job))
			return
		}

		// Not in flight: cancel the queued/pending record directly.
		job.Status = catalog.StatusCancelled
		job.Message = catalog.CancelledReason
		job.ErrorMessage = catalog.CancelledReason
		job.CurrentStage = "Cancelled"
		if err := cfg.Store.UpdateJob(r.Context(), job); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, jobToResponse(job))
	}
}

func lookupJob(w http.ResponseWriter, r *http.Request, cfg ServerConfig, id string) (*catalog.Job, bool) {
	if id == "" {
		WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
		return nil, false
	}
	job, err := cfg.Store.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return nil, false
	}
	return job, true
}

func saveUpload(src io.Reader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return dst.Sync()
}

func isVideoFilename(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v":
		return true
	default:
		return false
	}
}
