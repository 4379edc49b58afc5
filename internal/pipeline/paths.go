package pipeline

import "path/filepath"

// Artifacts resolves the on-disk layout of one job's working directory.
type Artifacts struct {
	Root string
}

// NewArtifacts returns the artifact layout rooted at jobDir.
func NewArtifacts(jobDir string) Artifacts {
	return Artifacts{Root: jobDir}
}

func (a Artifacts) FrameDir() string { return filepath.Join(a.Root, "frames") }

func (a Artifacts) DatabasePath() string { return filepath.Join(a.Root, "database.db") }

func (a Artifacts) SparseDir() string { return filepath.Join(a.Root, "sparse") }

func (a Artifacts) DenseDir() string { return filepath.Join(a.Root, "dense") }

func (a Artifacts) PointCloudPath() string { return filepath.Join(a.Root, "point_cloud.ply") }

func (a Artifacts) DensePointCloudPath() string {
	return filepath.Join(a.Root, "dense", "fused.ply")
}

func (a Artifacts) ThumbnailPath() string { return filepath.Join(a.Root, "thumbnail.jpg") }

func (a Artifacts) ExportDir() string { return filepath.Join(a.Root, "exports") }

func (a Artifacts) ImportDir() string { return filepath.Join(a.Root, "imports") }
