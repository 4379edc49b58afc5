package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marco-interact/colmap-mvp-sub000/internal/featuredb"
	"github.com/marco-interact/colmap-mvp-sub000/internal/pipeline"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services/colmap"
	"github.com/marco-interact/colmap-mvp-sub000/internal/sparse"
)

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		format, err := sparse.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		path, err := cfg.Driver.ExportModel(r.Context(), job.ID, format)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		info, err := os.Stat(path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if info.IsDir() {
			// Directory formats (bin, txt) stream as a listing of the files
			// they produced; clients fetch individual files via download.
			entries, err := os.ReadDir(path)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				names = append(names, entry.Name())
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"format": string(format),
				"path":   path,
				"files":  names,
			})
			return
		}

		w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
		http.ServeFile(w, r, path)
	}
}

func importModelHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		format, err := sparse.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		// Binary and text models are directories; only the single-file
		// interchange formats can arrive as an upload.
		if format != sparse.FormatPLY && format != sparse.FormatNVM {
			WriteError(w, http.StatusBadRequest, "import accepts single-file formats (ply, nvm)", "BAD_REQUEST")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}
		file, header, err := r.FormFile("model")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "model file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		artifacts := pipeline.NewArtifacts(cfg.Config.JobDir(job.ID))
		dest := filepath.Join(artifacts.ImportDir(), filepath.Base(header.Filename))
		if err := saveUpload(file, dest); err != nil {
			writeServiceError(w, err)
			return
		}

		model, err := sparse.Import(format, dest)
		if err != nil {
			_ = os.Remove(dest)
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ImportResponse{
			Format:  string(format),
			Path:    dest,
			Cameras: len(model.Cameras),
			Images:  len(model.Images),
			Points:  len(model.Points3D),
		})
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			WriteError(w, http.StatusBadRequest, "filename required", "BAD_REQUEST")
			return
		}

		jobDir := cfg.Config.JobDir(job.ID)
		requested := filepath.Join(jobDir, filepath.Clean("/"+filename))
		// The cleaned path must stay inside the job directory.
		if !strings.HasPrefix(requested, jobDir+string(os.PathSeparator)) {
			WriteError(w, http.StatusBadRequest, "invalid filename", "BAD_REQUEST")
			return
		}

		info, err := os.Stat(requested)
		if err != nil || info.IsDir() {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(requested)+"\"")
		http.ServeFile(w, r, requested)
	}
}

func recomputeDetailsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		details, err := cfg.Driver.RecomputeDetails(r.Context(), job.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detailsToPayload(details))
	}
}

func inspectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		artifacts := pipeline.NewArtifacts(cfg.Config.JobDir(job.ID))
		stats, err := featuredb.Inspect(r.Context(), artifacts.DatabasePath())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inspectToResponse(stats))
	}
}

func cleanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := lookupJob(w, r, cfg, chi.URLParam(r, "jobID"))
		if !ok {
			return
		}
		artifacts := pipeline.NewArtifacts(cfg.Config.JobDir(job.ID))

		// Restrict kept rows to the canonical model's registered images when
		// a model exists; otherwise only orphaned rows go.
		var keep []string
		if bestModel, err := colmap.SelectBestModel(artifacts.SparseDir()); err == nil {
			if model, err := sparse.ReadBinaryModel(bestModel); err == nil {
				for _, image := range model.Images {
					keep = append(keep, image.Name)
				}
			}
		}

		result, err := featuredb.Clean(r.Context(), artifacts.DatabasePath(), keep)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, CleanResponse{
			BackupPath:  result.BackupPath,
			RowsRemoved: result.RowsRemoved,
		})
	}
}
