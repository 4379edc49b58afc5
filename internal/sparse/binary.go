package sparse

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// invalidPoint3D marks a 2D observation without a triangulated point.
const invalidPoint3D = ^uint64(0)

// ReadBinaryModel loads cameras.bin, images.bin, and points3D.bin from dir.
func ReadBinaryModel(dir string) (*Model, error) {
	model := NewModel()
	if err := readBinaryCameras(filepath.Join(dir, "cameras.bin"), model); err != nil {
		return nil, err
	}
	if err := readBinaryImages(filepath.Join(dir, "images.bin"), model); err != nil {
		return nil, err
	}
	if err := readBinaryPoints(filepath.Join(dir, "points3D.bin"), model); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// WriteBinaryModel writes the model as COLMAP binary files under dir.
func WriteBinaryModel(dir string, model *Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := writeBinaryCameras(filepath.Join(dir, "cameras.bin"), model); err != nil {
		return err
	}
	if err := writeBinaryImages(filepath.Join(dir, "images.bin"), model); err != nil {
		return err
	}
	return writeBinaryPoints(filepath.Join(dir, "points3D.bin"), model)
}

func readBinaryCameras(path string, model *Model) error {
	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "sparse", "read-cameras", "cameras.bin missing", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return malformed("read-cameras", "camera count", err)
	}
	for i := uint64(0); i < count; i++ {
		var camera Camera
		var modelID int32
		if err := binary.Read(r, binary.LittleEndian, &camera.ID); err != nil {
			return malformed("read-cameras", "camera id", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &modelID); err != nil {
			return malformed("read-cameras", "camera model", err)
		}
		camera.Model = CameraModel(modelID)
		paramCount := camera.Model.ParamCount()
		if paramCount < 0 {
			return malformed("read-cameras", fmt.Sprintf("unknown camera model %d", modelID), nil)
		}
		if err := binary.Read(r, binary.LittleEndian, &camera.Width); err != nil {
			return malformed("read-cameras", "camera width", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &camera.Height); err != nil {
			return malformed("read-cameras", "camera height", err)
		}
		camera.Params = make([]float64, paramCount)
		if err := binary.Read(r, binary.LittleEndian, &camera.Params); err != nil {
			return malformed("read-cameras", "camera params", err)
		}
		model.Cameras[camera.ID] = camera
	}
	return nil
}

func readBinaryImages(path string, model *Model) error {
	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "sparse", "read-images", "images.bin missing", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return malformed("read-images", "image count", err)
	}
	for i := uint64(0); i < count; i++ {
		var image Image
		if err := binary.Read(r, binary.LittleEndian, &image.ID); err != nil {
			return malformed("read-images", "image id", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &image.QVec); err != nil {
			return malformed("read-images", "image rotation", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &image.TVec); err != nil {
			return malformed("read-images", "image translation", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &image.CameraID); err != nil {
			return malformed("read-images", "image camera id", err)
		}
		name, err := readNullTerminated(r)
		if err != nil {
			return malformed("read-images", "image name", err)
		}
		image.Name = name

		var numPoints uint64
		if err := binary.Read(r, binary.LittleEndian, &numPoints); err != nil {
			return malformed("read-images", "point2d count", err)
		}
		image.Points2D = make([]Point2D, numPoints)
		for j := uint64(0); j < numPoints; j++ {
			var point Point2D
			var pointID uint64
			if err := binary.Read(r, binary.LittleEndian, &point.X); err != nil {
				return malformed("read-images", "point2d x", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &point.Y); err != nil {
				return malformed("read-images", "point2d y", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &pointID); err != nil {
				return malformed("read-images", "point2d link", err)
			}
			if pointID != invalidPoint3D {
				point.Point3D = pointID
				point.HasPoint = true
			}
			image.Points2D[j] = point
		}
		model.Images[image.ID] = image
	}
	return nil
}

func readBinaryPoints(path string, model *Model) error {
	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "sparse", "read-points", "points3D.bin missing", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return malformed("read-points", "point count", err)
	}
	for i := uint64(0); i < count; i++ {
		var point Point3D
		if err := binary.Read(r, binary.LittleEndian, &point.ID); err != nil {
			return malformed("read-points", "point id", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &point.XYZ); err != nil {
			return malformed("read-points", "point position", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &point.RGB); err != nil {
			return malformed("read-points", "point color", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &point.Error); err != nil {
			return malformed("read-points", "point error", err)
		}
		var trackLen uint64
		if err := binary.Read(r, binary.LittleEndian, &trackLen); err != nil {
			return malformed("read-points", "track length", err)
		}
		point.Track = make([]TrackElement, trackLen)
		for j := uint64(0); j < trackLen; j++ {
			if err := binary.Read(r, binary.LittleEndian, &point.Track[j].ImageID); err != nil {
				return malformed("read-points", "track image", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &point.Track[j].Point2DIdx); err != nil {
				return malformed("read-points", "track index", err)
			}
		}
		if math.IsNaN(point.Error) || math.IsInf(point.Error, 0) {
			return malformed("read-points", "non-finite reprojection error", nil)
		}
		model.Points3D[point.ID] = point
	}
	return nil
}

func writeBinaryCameras(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cameras.bin: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := binary.Write(w, binary.LittleEndian, uint64(len(model.Cameras))); err != nil {
		return err
	}
	for _, id := range sortedCameraIDs(model) {
		camera := model.Cameras[id]
		if err := binary.Write(w, binary.LittleEndian, camera.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(camera.Model)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, camera.Width); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, camera.Height); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, camera.Params); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeBinaryImages(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create images.bin: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := binary.Write(w, binary.LittleEndian, uint64(len(model.Images))); err != nil {
		return err
	}
	for _, id := range sortedImageIDs(model) {
		image := model.Images[id]
		if err := binary.Write(w, binary.LittleEndian, image.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, image.QVec); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, image.TVec); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, image.CameraID); err != nil {
			return err
		}
		if _, err := w.WriteString(image.Name); err != nil {
			return err
		}
		if err := w.WriteByte(0); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(image.Points2D))); err != nil {
			return err
		}
		for _, point := range image.Points2D {
			if err := binary.Write(w, binary.LittleEndian, point.X); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, point.Y); err != nil {
				return err
			}
			pointID := invalidPoint3D
			if point.HasPoint {
				pointID = point.Point3D
			}
			if err := binary.Write(w, binary.LittleEndian, pointID); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func writeBinaryPoints(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create points3D.bin: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := binary.Write(w, binary.LittleEndian, uint64(len(model.Points3D))); err != nil {
		return err
	}
	for _, id := range sortedPointIDs(model) {
		point := model.Points3D[id]
		if err := binary.Write(w, binary.LittleEndian, point.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, point.XYZ); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, point.RGB); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, point.Error); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(point.Track))); err != nil {
			return err
		}
		for _, elem := range point.Track {
			if err := binary.Write(w, binary.LittleEndian, elem.ImageID); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, elem.Point2DIdx); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func readNullTerminated(r *bufio.Reader) (string, error) {
	name, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return name[:len(name)-1], nil
}

func malformed(operation, message string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		message += ": truncated file"
	}
	return services.Wrap(services.ErrMalformedInput, "sparse", operation, message, err)
}
