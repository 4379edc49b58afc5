package sparse

import (
	"sort"
	"strings"

	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// Format identifies an interchange format for sparse models.
type Format string

const (
	FormatBinary Format = "bin"
	FormatText   Format = "txt"
	FormatPLY    Format = "ply"
	FormatNVM    Format = "nvm"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bin", "binary", "colmap":
		return FormatBinary, nil
	case "txt", "text":
		return FormatText, nil
	case "ply":
		return FormatPLY, nil
	case "nvm", "visualsfm":
		return FormatNVM, nil
	default:
		return "", services.Wrap(services.ErrUnsupportedFormat, "sparse", "parse-format",
			"unknown model format "+value, nil)
	}
}

// Formats lists the supported interchange formats.
func Formats() []Format {
	return []Format{FormatBinary, FormatText, FormatPLY, FormatNVM}
}

// CameraModel enumerates the COLMAP camera models by their numeric IDs.
type CameraModel int32

const (
	SimplePinhole       CameraModel = 0
	Pinhole             CameraModel = 1
	SimpleRadial        CameraModel = 2
	Radial              CameraModel = 3
	OpenCV              CameraModel = 4
	OpenCVFisheye       CameraModel = 5
	FullOpenCV          CameraModel = 6
	FOV                 CameraModel = 7
	SimpleRadialFisheye CameraModel = 8
	RadialFisheye       CameraModel = 9
	ThinPrismFisheye    CameraModel = 10
)

var cameraModelNames = map[CameraModel]string{
	SimplePinhole:       "SIMPLE_PINHOLE",
	Pinhole:             "PINHOLE",
	SimpleRadial:        "SIMPLE_RADIAL",
	Radial:              "RADIAL",
	OpenCV:              "OPENCV",
	OpenCVFisheye:       "OPENCV_FISHEYE",
	FullOpenCV:          "FULL_OPENCV",
	FOV:                 "FOV",
	SimpleRadialFisheye: "SIMPLE_RADIAL_FISHEYE",
	RadialFisheye:       "RADIAL_FISHEYE",
	ThinPrismFisheye:    "THIN_PRISM_FISHEYE",
}

var cameraModelParams = map[CameraModel]int{
	SimplePinhole:       3,
	Pinhole:             4,
	SimpleRadial:        4,
	Radial:              5,
	OpenCV:              8,
	OpenCVFisheye:       8,
	FullOpenCV:          12,
	FOV:                 5,
	SimpleRadialFisheye: 4,
	RadialFisheye:       5,
	ThinPrismFisheye:    12,
}

// Name returns the COLMAP model name, or empty for unknown models.
func (m CameraModel) Name() string {
	return cameraModelNames[m]
}

// ParamCount returns the expected parameter count, or -1 for unknown models.
func (m CameraModel) ParamCount() int {
	if count, ok := cameraModelParams[m]; ok {
		return count
	}
	return -1
}

// CameraModelByName resolves a COLMAP model name to its ID.
func CameraModelByName(name string) (CameraModel, bool) {
	for model, candidate := range cameraModelNames {
		if candidate == name {
			return model, true
		}
	}
	return 0, false
}

// Camera describes one calibrated camera.
type Camera struct {
	ID     uint32
	Model  CameraModel
	Width  uint64
	Height uint64
	Params []float64
}

// Point2D is one observed keypoint in an image, optionally linked to a 3D point.
type Point2D struct {
	X        float64
	Y        float64
	Point3D  uint64
	HasPoint bool
}

// Image holds one registered image's pose and observations. QVec is the
// rotation quaternion (w, x, y, z); TVec the translation.
type Image struct {
	ID       uint32
	QVec     [4]float64
	TVec     [3]float64
	CameraID uint32
	Name     string
	Points2D []Point2D
}

// TrackElement links a 3D point back to one observation.
type TrackElement struct {
	ImageID    uint32
	Point2DIdx uint32
}

// Point3D is one triangulated point with color, reprojection error, and track.
type Point3D struct {
	ID    uint64
	XYZ   [3]float64
	RGB   [3]uint8
	Error float64
	Track []TrackElement
}

// Model is a complete sparse reconstruction.
type Model struct {
	Cameras  map[uint32]Camera
	Images   map[uint32]Image
	Points3D map[uint64]Point3D
}

// NewModel allocates an empty model.
func NewModel() *Model {
	return &Model{
		Cameras:  make(map[uint32]Camera),
		Images:   make(map[uint32]Image),
		Points3D: make(map[uint64]Point3D),
	}
}

// MeanReprojectionError averages the per-point reprojection error.
func (m *Model) MeanReprojectionError() float64 {
	if len(m.Points3D) == 0 {
		return 0
	}
	total := 0.0
	for _, point := range m.Points3D {
		total += point.Error
	}
	return total / float64(len(m.Points3D))
}

// MeanTrackLength averages the number of observations per 3D point.
func (m *Model) MeanTrackLength() float64 {
	if len(m.Points3D) == 0 {
		return 0
	}
	total := 0
	for _, point := range m.Points3D {
		total += len(point.Track)
	}
	return float64(total) / float64(len(m.Points3D))
}

// Validate checks referential integrity: every image references a known
// camera and every track element a known image.
func (m *Model) Validate() error {
	for _, image := range m.Images {
		if _, ok := m.Cameras[image.CameraID]; !ok {
			return services.Wrap(services.ErrMalformedInput, "sparse", "validate",
				"image "+image.Name+" references unknown camera", nil)
		}
	}
	for _, point := range m.Points3D {
		for _, elem := range point.Track {
			if _, ok := m.Images[elem.ImageID]; !ok {
				return services.Wrap(services.ErrMalformedInput, "sparse", "validate",
					"point track references unknown image", nil)
			}
		}
	}
	return nil
}

func sortedCameraIDs(m *Model) []uint32 {
	ids := make([]uint32, 0, len(m.Cameras))
	for id := range m.Cameras {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedImageIDs(m *Model) []uint32 {
	ids := make([]uint32, 0, len(m.Images))
	for id := range m.Images {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedPointIDs(m *Model) []uint64 {
	ids := make([]uint64, 0, len(m.Points3D))
	for id := range m.Points3D {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
