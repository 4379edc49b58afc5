package catalog

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    location    TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
    id             TEXT PRIMARY KEY,
    project_id     TEXT NOT NULL REFERENCES projects(id),
    name           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    video_filename TEXT,
    video_size     INTEGER NOT NULL DEFAULT 0,
    quality        TEXT,
    thumbnail_path TEXT,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scans_project ON scans(project_id);

CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    scan_id       TEXT NOT NULL REFERENCES scans(id),
    status        TEXT NOT NULL DEFAULT 'pending',
    progress      REAL NOT NULL DEFAULT 0,
    current_stage TEXT,
    quality       TEXT NOT NULL,
    message       TEXT,
    error_message TEXT,
    video_path    TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_scan ON jobs(scan_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS technical_details (
    scan_id                 TEXT PRIMARY KEY REFERENCES scans(id),
    point_count             INTEGER,
    camera_count            INTEGER,
    feature_count           INTEGER,
    match_count             INTEGER,
    verified_count          INTEGER,
    reconstruction_error    REAL,
    coverage_percentage     REAL,
    processing_time_seconds REAL,
    point_cloud_uri         TEXT,
    sparse_model_uri        TEXT,
    thumbnail_uri           TEXT,
    created_at              TEXT NOT NULL
);
`
