package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marco-interact/colmap-mvp-sub000/internal/api"
	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/governor"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/pipeline"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/sparse"
	"github.com/marco-interact/colmap-mvp-sub000/internal/testsupport"
)

type env struct {
	cfg    *config.Config
	store  *catalog.Store
	router http.Handler
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	gov := governor.New(cfg.Governor, logging.NewNop())
	driver := pipeline.New(cfg, store, nil, nil, quality.TierCPU, logging.NewNop())

	serverCfg := api.ServerConfig{
		Config:    cfg,
		Store:     store,
		Governor:  gov,
		Driver:    driver,
		Tier:      quality.TierCPU,
		Logger:    logging.NewNop(),
		StartTime: time.Now(),
	}
	return &env{cfg: cfg, store: store, router: api.NewRouter(serverCfg)}
}

func (e *env) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) getJSON(t *testing.T, path string, status int, out any) {
	t.Helper()
	rec := e.do(t, http.MethodGet, path, nil, "")
	if rec.Code != status {
		t.Fatalf("GET %s: expected status %d, got %d (%s)", path, status, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	var resp api.HealthResponse
	e.getJSON(t, "/health", http.StatusOK, &resp)
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %q", resp.Status)
	}
	if resp.Version != api.Version {
		t.Fatalf("expected version %q, got %q", api.Version, resp.Version)
	}
	if resp.ComputeTier != "cpu" {
		t.Fatalf("expected cpu tier, got %q", resp.ComputeTier)
	}
}

func TestCreateAndListProjects(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	body := bytes.NewBufferString(`{"name":"Warehouse Survey","description":"interior","location":"Monterrey"}`)
	rec := e.do(t, http.MethodPost, "/projects", body, "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created api.ProjectResponse
	decodeJSON(t, rec, &created)
	if created.ID == "" || created.Name != "Warehouse Survey" {
		t.Fatalf("unexpected project: %+v", created)
	}

	var list api.ProjectsResponse
	e.getJSON(t, "/projects", http.StatusOK, &list)
	if len(list.Projects) != 1 || list.Projects[0].ID != created.ID {
		t.Fatalf("unexpected project list: %+v", list)
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/projects", bytes.NewBufferString(`{"description":"no name"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func multipartUpload(t *testing.T, projectID, scanName, preset, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range map[string]string{
		"project_id": projectID,
		"scan_name":  scanName,
		"quality":    preset,
	} {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("not a real video, but enough bytes")); err != nil {
		t.Fatalf("write video part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadCreatesJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	project, err := e.store.CreateProject(context.Background(), "Site A", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	body, contentType := multipartUpload(t, project.ID, "north wall", "high", "walkthrough.mp4")
	rec := e.do(t, http.MethodPost, "/upload", body, contentType)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp api.UploadResponse
	decodeJSON(t, rec, &resp)
	if resp.JobID == "" || resp.ScanID == "" || resp.Status != "pending" {
		t.Fatalf("unexpected upload response: %+v", resp)
	}

	job, err := e.store.GetJob(context.Background(), resp.JobID)
	if err != nil || job == nil {
		t.Fatalf("job not recorded: %v", err)
	}
	if job.Quality != "high" {
		t.Fatalf("expected high quality preset, got %q", job.Quality)
	}
	if _, err := os.Stat(job.VideoPath); err != nil {
		t.Fatalf("uploaded video missing: %v", err)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	project, err := e.store.CreateProject(context.Background(), "Site B", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	t.Run("unknown project", func(t *testing.T) {
		body, contentType := multipartUpload(t, "no-such-project", "scan", "medium", "clip.mp4")
		rec := e.do(t, http.MethodPost, "/upload", body, contentType)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("invalid preset", func(t *testing.T) {
		body, contentType := multipartUpload(t, project.ID, "scan", "extreme", "clip.mp4")
		rec := e.do(t, http.MethodPost, "/upload", body, contentType)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		body, contentType := multipartUpload(t, project.ID, "scan", "medium", "notes.txt")
		rec := e.do(t, http.MethodPost, "/upload", body, contentType)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestUploadQueueFullRejectsWith429(t *testing.T) {
	t.Parallel()

	e := newEnv(t, testsupport.WithGovernor(1, 1, 100))
	project, err := e.store.CreateProject(context.Background(), "Site C", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	body, contentType := multipartUpload(t, project.ID, "first", "medium", "a.mp4")
	if rec := e.do(t, http.MethodPost, "/upload", body, contentType); rec.Code != http.StatusAccepted {
		t.Fatalf("first upload: expected 202, got %d", rec.Code)
	}

	body, contentType = multipartUpload(t, project.ID, "second", "medium", "b.mp4")
	rec := e.do(t, http.MethodPost, "/upload", body, contentType)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when queue is full, got %d (%s)", rec.Code, rec.Body.String())
	}

	// The rejected upload leaves no durable state: the only job and scan
	// rows belong to the admitted first upload.
	jobs, err := e.store.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected only the admitted job, got %d", len(jobs))
	}
	if jobs[0].Status != catalog.StatusPending {
		t.Fatalf("admitted job should be pending, got %s", jobs[0].Status)
	}
	scans, err := e.store.ListScansByProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list scans: %v", err)
	}
	if len(scans) != 1 || scans[0].Name != "first" {
		t.Fatalf("expected only the admitted scan, got %+v", scans)
	}
}

func TestJobEndpoints(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")

	var got api.JobResponse
	e.getJSON(t, "/jobs/"+job.ID, http.StatusOK, &got)
	if got.JobID != job.ID || got.Status != "pending" {
		t.Fatalf("unexpected job response: %+v", got)
	}

	var list api.JobsResponse
	e.getJSON(t, "/jobs?status=pending", http.StatusOK, &list)
	if len(list.Jobs) != 1 {
		t.Fatalf("expected 1 pending job, got %d", len(list.Jobs))
	}
	e.getJSON(t, "/jobs?status=completed", http.StatusOK, &list)
	if len(list.Jobs) != 0 {
		t.Fatalf("expected no completed jobs, got %d", len(list.Jobs))
	}

	if rec := e.do(t, http.MethodGet, "/jobs/unknown-id", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/jobs?status=bogus", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status filter, got %d", rec.Code)
	}
}

func TestCompletedJobReportsTechnicalDetails(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := completedJob(t, e)
	details := &catalog.TechnicalDetails{
		ScanID:      job.ScanID,
		PointCount:  48000,
		CameraCount: 27,
	}
	if err := e.store.SaveTechnicalDetails(context.Background(), details); err != nil {
		t.Fatalf("save details: %v", err)
	}

	var got api.JobResponse
	e.getJSON(t, "/jobs/"+job.ID, http.StatusOK, &got)
	if got.Status != "completed" {
		t.Fatalf("expected completed status, got %q", got.Status)
	}
	if got.Details == nil || got.Details.PointCount != 48000 {
		t.Fatalf("expected technical details on completed job, got %+v", got.Details)
	}

	// A job that has not finished carries no details.
	pending := testsupport.NewJob(t, e.store, "medium")
	got = api.JobResponse{}
	e.getJSON(t, "/jobs/"+pending.ID, http.StatusOK, &got)
	if got.Details != nil {
		t.Fatalf("pending job should not report details, got %+v", got.Details)
	}
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")

	rec := e.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp api.JobResponse
	decodeJSON(t, rec, &resp)
	if resp.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %q", resp.Status)
	}

	// A second cancel hits the terminal guard.
	rec = e.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal job, got %d", rec.Code)
	}
}

func TestScanDetailsAndDelete(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	scan := testsupport.NewScan(t, e.store, "Site D", "loading dock")
	details := &catalog.TechnicalDetails{
		ScanID:              scan.ID,
		PointCount:          52000,
		CameraCount:         31,
		ReconstructionError: 0.74,
		CoveragePercentage:  88.0,
	}
	if err := e.store.SaveTechnicalDetails(context.Background(), details); err != nil {
		t.Fatalf("save details: %v", err)
	}

	var resp api.ScanDetailsResponse
	e.getJSON(t, "/scans/"+scan.ID+"/details", http.StatusOK, &resp)
	if resp.Scan.ID != scan.ID {
		t.Fatalf("unexpected scan: %+v", resp.Scan)
	}
	if resp.Details == nil || resp.Details.PointCount != 52000 {
		t.Fatalf("unexpected details: %+v", resp.Details)
	}

	var scans api.ScansResponse
	e.getJSON(t, "/projects/"+scan.ProjectID+"/scans", http.StatusOK, &scans)
	if len(scans.Scans) != 1 {
		t.Fatalf("expected 1 scan, got %d", len(scans.Scans))
	}

	if rec := e.do(t, http.MethodDelete, "/scans/"+scan.ID, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/scans/"+scan.ID+"/details", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

const featureSchema = `
CREATE TABLE cameras (camera_id INTEGER PRIMARY KEY, model INTEGER, width INTEGER, height INTEGER, params BLOB);
CREATE TABLE images (image_id INTEGER PRIMARY KEY, name TEXT, camera_id INTEGER);
CREATE TABLE keypoints (image_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB);
CREATE TABLE descriptors (image_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB);
CREATE TABLE matches (pair_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB);
CREATE TABLE two_view_geometries (pair_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB, config INTEGER);
`

func writeFeatureDatabase(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(featureSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	seed := []string{
		`INSERT INTO cameras VALUES (1, 2, 1920, 1080, x'00')`,
		`INSERT INTO images VALUES (1, 'frame_00001.jpg', 1)`,
		`INSERT INTO images VALUES (2, 'frame_00002.jpg', 1)`,
		`INSERT INTO keypoints VALUES (1, 900, 6, x'00')`,
		`INSERT INTO keypoints VALUES (2, 850, 6, x'00')`,
		`INSERT INTO matches VALUES (2147483649, 300, 2, x'00')`,
	}
	for _, stmt := range seed {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
}

func writeSparseModel(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	model := sparse.NewModel()
	model.Cameras[1] = sparse.Camera{
		ID: 1, Model: sparse.SimpleRadial, Width: 1920, Height: 1080,
		Params: []float64{1200, 960, 540, 0.01},
	}
	model.Images[1] = sparse.Image{
		ID: 1, QVec: [4]float64{1, 0, 0, 0}, TVec: [3]float64{0, 0, 1},
		CameraID: 1, Name: "frame_00001.jpg",
		Points2D: []sparse.Point2D{{X: 12, Y: 34, Point3D: 7, HasPoint: true}},
	}
	model.Points3D[7] = sparse.Point3D{
		ID: 7, XYZ: [3]float64{0.5, 0.5, 2}, RGB: [3]uint8{200, 180, 160}, Error: 0.6,
		Track: []sparse.TrackElement{{ImageID: 1, Point2DIdx: 0}},
	}
	if err := sparse.WriteBinaryModel(dir, model); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func completedJob(t *testing.T, e *env) *catalog.Job {
	t.Helper()
	job := testsupport.NewJob(t, e.store, "medium")
	job.Status = catalog.StatusCompleted
	job.Progress = 100
	job.CurrentStage = "Completed"
	if err := e.store.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	return job
}

func TestExportModelEndpoint(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := completedJob(t, e)
	artifacts := pipeline.NewArtifacts(e.cfg.JobDir(job.ID))
	writeSparseModel(t, filepath.Join(artifacts.SparseDir(), "0"))

	rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/export?format=ply", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "ply\n") {
		t.Fatalf("expected PLY payload, got %q", rec.Body.String()[:20])
	}

	// Directory formats answer with a file listing.
	rec = e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/export?format=txt", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for txt export, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cameras.txt") {
		t.Fatalf("expected file listing, got %s", rec.Body.String())
	}

	if rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/export?format=obj", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestExportRequiresCompletedJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")
	rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/export?format=ply", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete job, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func multipartModel(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("model", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write model part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestImportModelEndpoint(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")

	// Round-trip an exported PLY through the import endpoint.
	modelDir := filepath.Join(t.TempDir(), "model")
	writeSparseModel(t, modelDir)
	model, err := sparse.ReadBinaryModel(modelDir)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	plyPath := filepath.Join(t.TempDir(), "scan.ply")
	if _, err := sparse.Export(model, sparse.FormatPLY, plyPath); err != nil {
		t.Fatalf("export ply: %v", err)
	}
	content, err := os.ReadFile(plyPath)
	if err != nil {
		t.Fatalf("read ply: %v", err)
	}

	body, contentType := multipartModel(t, "scan.ply", content)
	rec := e.do(t, http.MethodPost, "/reconstruction/"+job.ID+"/import?format=ply", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp api.ImportResponse
	decodeJSON(t, rec, &resp)
	if resp.Points != 1 {
		t.Fatalf("expected 1 imported point, got %+v", resp)
	}
	if _, err := os.Stat(resp.Path); err != nil {
		t.Fatalf("imported model missing: %v", err)
	}

	// Directory formats cannot arrive as a single upload.
	body, contentType = multipartModel(t, "model.bin", content)
	rec = e.do(t, http.MethodPost, "/reconstruction/"+job.ID+"/import?format=bin", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for directory format, got %d", rec.Code)
	}

	body, contentType = multipartModel(t, "scan.ply", content)
	rec = e.do(t, http.MethodPost, "/reconstruction/no-such-job/import?format=ply", body, contentType)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestRecomputeDetailsEndpoint(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := completedJob(t, e)
	artifacts := pipeline.NewArtifacts(e.cfg.JobDir(job.ID))
	writeFeatureDatabase(t, artifacts.DatabasePath())
	writeSparseModel(t, filepath.Join(artifacts.SparseDir(), "0"))
	for _, frame := range []string{"frame_00001.jpg", "frame_00002.jpg"} {
		testsupport.WriteFile(t, filepath.Join(artifacts.FrameDir(), frame), 64)
	}

	rec := e.do(t, http.MethodPost, "/reconstruction/"+job.ID+"/details/recompute", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var details api.TechnicalDetailsPayload
	decodeJSON(t, rec, &details)
	if details.PointCount != 1 || details.CameraCount != 1 {
		t.Fatalf("unexpected recomputed details: %+v", details)
	}

	// The recomputed metrics are persisted for the scan.
	var scanDetails api.ScanDetailsResponse
	e.getJSON(t, "/scans/"+job.ScanID+"/details", http.StatusOK, &scanDetails)
	if scanDetails.Details == nil || scanDetails.Details.PointCount != 1 {
		t.Fatalf("details not persisted: %+v", scanDetails.Details)
	}

	pending := testsupport.NewJob(t, e.store, "medium")
	if rec := e.do(t, http.MethodPost, "/reconstruction/"+pending.ID+"/details/recompute", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete job, got %d", rec.Code)
	}
}

func TestDownloadArtifact(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")
	jobDir := e.cfg.JobDir(job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "point_cloud.ply"), []byte("ply\nend_header\n"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/download/point_cloud.ply", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "point_cloud.ply") {
		t.Fatalf("missing attachment header: %q", rec.Header().Get("Content-Disposition"))
	}

	if rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/download/missing.ply", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/download/..%2F..%2Fsecrets.txt", nil, "")
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Fatalf("expected traversal rejection, got %d", rec.Code)
	}
}

func TestInspectAndCleanEndpoints(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := completedJob(t, e)
	artifacts := pipeline.NewArtifacts(e.cfg.JobDir(job.ID))
	writeFeatureDatabase(t, artifacts.DatabasePath())
	writeSparseModel(t, filepath.Join(artifacts.SparseDir(), "0"))

	var stats api.InspectResponse
	e.getJSON(t, "/reconstruction/"+job.ID+"/database/inspect", http.StatusOK, &stats)
	if stats.Images != 2 {
		t.Fatalf("expected 2 images, got %d", stats.Images)
	}
	if stats.Features != 1750 {
		t.Fatalf("expected 1750 features, got %d", stats.Features)
	}

	// Only frame_00001.jpg is registered in the sparse model, so cleaning
	// drops the other image's feature rows.
	rec := e.do(t, http.MethodPost, "/reconstruction/"+job.ID+"/database/clean", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var cleaned api.CleanResponse
	decodeJSON(t, rec, &cleaned)
	if cleaned.RowsRemoved == 0 {
		t.Fatalf("expected rows removed, got %+v", cleaned)
	}
	if _, err := os.Stat(cleaned.BackupPath); err != nil {
		t.Fatalf("backup missing: %v", err)
	}

	e.getJSON(t, "/reconstruction/"+job.ID+"/database/inspect", http.StatusOK, &stats)
	if stats.Features != 900 {
		t.Fatalf("expected 900 features after clean, got %d", stats.Features)
	}
}

func TestInspectMissingDatabase(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	job := testsupport.NewJob(t, e.store, "medium")
	rec := e.do(t, http.MethodGet, "/reconstruction/"+job.ID+"/database/inspect", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
