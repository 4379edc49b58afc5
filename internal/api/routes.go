package api

import (
	"net/http"
	"os/exec"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the full route table.
func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Post("/upload", uploadHandler(cfg))
	r.Get("/jobs", listJobsHandler(cfg))
	r.Get("/jobs/{id}", getJobHandler(cfg))
	r.Post("/jobs/{id}/cancel", cancelJobHandler(cfg))

	r.Route("/reconstruction/{jobID}", func(r chi.Router) {
		r.Get("/export", exportHandler(cfg))
		r.Post("/import", importModelHandler(cfg))
		r.Get("/download/{filename}", downloadHandler(cfg))
		r.Post("/details/recompute", recomputeDetailsHandler(cfg))
		r.Get("/database/inspect", inspectHandler(cfg))
		r.Post("/database/clean", cleanHandler(cfg))
	})

	r.Get("/projects", listProjectsHandler(cfg))
	r.Post("/projects", createProjectHandler(cfg))
	r.Get("/projects/{id}/scans", listScansHandler(cfg))
	r.Get("/scans/{id}/details", scanDetailsHandler(cfg))
	r.Delete("/scans/{id}", deleteScanHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:      "ok",
			Version:     Version,
			UptimeS:     int64(time.Since(cfg.StartTime).Seconds()),
			ComputeTier: string(cfg.Tier),
			Engine:      engineAvailability(cfg.Config.Engine.ColmapBinary),
		}
		if cfg.Governor != nil {
			resp.ActiveJobs = cfg.Governor.ActiveCount()
			resp.QueuedJobs = cfg.Governor.QueueDepth()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// engineAvailability reports whether the reconstruction binary is resolvable.
func engineAvailability(binary string) string {
	if _, err := exec.LookPath(binary); err != nil {
		return "unavailable"
	}
	return "available"
}
