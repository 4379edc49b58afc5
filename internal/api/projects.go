package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Store.ListProjects(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, project := range projects {
			resp.Projects[i] = projectToResponse(project)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}

		project, err := cfg.Store.CreateProject(r.Context(), req.Name, req.Description, req.Location)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, projectToResponse(project))
	}
}

func listScansHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		project, err := cfg.Store.GetProject(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if project == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		scans, err := cfg.Store.ListScansByProject(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := ScansResponse{Scans: make([]ScanResponse, len(scans))}
		for i, scan := range scans {
			resp.Scans[i] = scanToResponse(scan)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func scanDetailsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scanID := chi.URLParam(r, "id")
		scan, err := cfg.Store.GetScan(r.Context(), scanID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if scan == nil {
			WriteError(w, http.StatusNotFound, "scan not found", "NOT_FOUND")
			return
		}

		details, err := cfg.Store.GetTechnicalDetails(r.Context(), scanID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ScanDetailsResponse{
			Scan:    scanToResponse(scan),
			Details: detailsToPayload(details),
		})
	}
}

func deleteScanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scanID := chi.URLParam(r, "id")
		removed, err := cfg.Store.DeleteScan(r.Context(), scanID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !removed {
			WriteError(w, http.StatusNotFound, "scan not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
