package sparse

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadTextModel loads cameras.txt, images.txt, and points3D.txt from dir.
func ReadTextModel(dir string) (*Model, error) {
	model := NewModel()
	if err := readTextCameras(filepath.Join(dir, "cameras.txt"), model); err != nil {
		return nil, err
	}
	if err := readTextImages(filepath.Join(dir, "images.txt"), model); err != nil {
		return nil, err
	}
	if err := readTextPoints(filepath.Join(dir, "points3D.txt"), model); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// WriteTextModel writes the model as COLMAP text files under dir.
func WriteTextModel(dir string, model *Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := writeTextCameras(filepath.Join(dir, "cameras.txt"), model); err != nil {
		return err
	}
	if err := writeTextImages(filepath.Join(dir, "images.txt"), model); err != nil {
		return err
	}
	return writeTextPoints(filepath.Join(dir, "points3D.txt"), model)
}

func readTextCameras(path string, model *Model) error {
	lines, err := readDataLines(path)
	if err != nil {
		return malformed("read-cameras", "cameras.txt missing", err)
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return malformed("read-cameras", "camera line too short", nil)
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return malformed("read-cameras", "camera id", err)
		}
		cameraModel, ok := CameraModelByName(fields[1])
		if !ok {
			return malformed("read-cameras", "unknown camera model "+fields[1], nil)
		}
		width, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return malformed("read-cameras", "camera width", err)
		}
		height, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return malformed("read-cameras", "camera height", err)
		}
		params := make([]float64, 0, len(fields)-4)
		for _, field := range fields[4:] {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return malformed("read-cameras", "camera param", err)
			}
			params = append(params, value)
		}
		if expected := cameraModel.ParamCount(); expected >= 0 && len(params) != expected {
			return malformed("read-cameras",
				fmt.Sprintf("camera model %s expects %d params, got %d", fields[1], expected, len(params)), nil)
		}
		model.Cameras[uint32(id)] = Camera{
			ID:     uint32(id),
			Model:  cameraModel,
			Width:  width,
			Height: height,
			Params: params,
		}
	}
	return nil
}

func readTextImages(path string, model *Model) error {
	lines, err := readDataLines(path)
	if err != nil {
		return malformed("read-images", "images.txt missing", err)
	}
	if len(lines)%2 != 0 {
		return malformed("read-images", "images.txt has an odd number of data lines", nil)
	}
	for i := 0; i < len(lines); i += 2 {
		fields := strings.Fields(lines[i])
		if len(fields) < 10 {
			return malformed("read-images", "image line too short", nil)
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return malformed("read-images", "image id", err)
		}
		var image Image
		image.ID = uint32(id)
		for j := 0; j < 4; j++ {
			if image.QVec[j], err = strconv.ParseFloat(fields[1+j], 64); err != nil {
				return malformed("read-images", "image rotation", err)
			}
		}
		for j := 0; j < 3; j++ {
			if image.TVec[j], err = strconv.ParseFloat(fields[5+j], 64); err != nil {
				return malformed("read-images", "image translation", err)
			}
		}
		cameraID, err := strconv.ParseUint(fields[8], 10, 32)
		if err != nil {
			return malformed("read-images", "image camera id", err)
		}
		image.CameraID = uint32(cameraID)
		image.Name = strings.Join(fields[9:], " ")

		pointFields := strings.Fields(lines[i+1])
		if len(pointFields)%3 != 0 {
			return malformed("read-images", "observation line not in triples", nil)
		}
		image.Points2D = make([]Point2D, 0, len(pointFields)/3)
		for j := 0; j < len(pointFields); j += 3 {
			var point Point2D
			if point.X, err = strconv.ParseFloat(pointFields[j], 64); err != nil {
				return malformed("read-images", "point2d x", err)
			}
			if point.Y, err = strconv.ParseFloat(pointFields[j+1], 64); err != nil {
				return malformed("read-images", "point2d y", err)
			}
			if pointFields[j+2] != "-1" {
				pointID, err := strconv.ParseUint(pointFields[j+2], 10, 64)
				if err != nil {
					return malformed("read-images", "point2d link", err)
				}
				point.Point3D = pointID
				point.HasPoint = true
			}
			image.Points2D = append(image.Points2D, point)
		}
		model.Images[image.ID] = image
	}
	return nil
}

func readTextPoints(path string, model *Model) error {
	lines, err := readDataLines(path)
	if err != nil {
		return malformed("read-points", "points3D.txt missing", err)
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 8 || (len(fields)-8)%2 != 0 {
			return malformed("read-points", "point line malformed", nil)
		}
		var point Point3D
		if point.ID, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
			return malformed("read-points", "point id", err)
		}
		for j := 0; j < 3; j++ {
			if point.XYZ[j], err = strconv.ParseFloat(fields[1+j], 64); err != nil {
				return malformed("read-points", "point position", err)
			}
		}
		for j := 0; j < 3; j++ {
			channel, err := strconv.ParseUint(fields[4+j], 10, 8)
			if err != nil {
				return malformed("read-points", "point color", err)
			}
			point.RGB[j] = uint8(channel)
		}
		if point.Error, err = strconv.ParseFloat(fields[7], 64); err != nil {
			return malformed("read-points", "point error", err)
		}
		point.Track = make([]TrackElement, 0, (len(fields)-8)/2)
		for j := 8; j < len(fields); j += 2 {
			imageID, err := strconv.ParseUint(fields[j], 10, 32)
			if err != nil {
				return malformed("read-points", "track image", err)
			}
			idx, err := strconv.ParseUint(fields[j+1], 10, 32)
			if err != nil {
				return malformed("read-points", "track index", err)
			}
			point.Track = append(point.Track, TrackElement{ImageID: uint32(imageID), Point2DIdx: uint32(idx)})
		}
		model.Points3D[point.ID] = point
	}
	return nil
}

func writeTextCameras(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cameras.txt: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "# Camera list with one line of data per camera:\n")
	fmt.Fprintf(w, "#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]\n")
	fmt.Fprintf(w, "# Number of cameras: %d\n", len(model.Cameras))
	for _, id := range sortedCameraIDs(model) {
		camera := model.Cameras[id]
		fmt.Fprintf(w, "%d %s %d %d", camera.ID, camera.Model.Name(), camera.Width, camera.Height)
		for _, param := range camera.Params {
			fmt.Fprintf(w, " %s", formatFloat(param))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func writeTextImages(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create images.txt: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "# Image list with two lines of data per image:\n")
	fmt.Fprintf(w, "#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME\n")
	fmt.Fprintf(w, "#   POINTS2D[] as (X, Y, POINT3D_ID)\n")
	fmt.Fprintf(w, "# Number of images: %d\n", len(model.Images))
	for _, id := range sortedImageIDs(model) {
		image := model.Images[id]
		fmt.Fprintf(w, "%d %s %s %s %s %s %s %s %d %s\n",
			image.ID,
			formatFloat(image.QVec[0]), formatFloat(image.QVec[1]),
			formatFloat(image.QVec[2]), formatFloat(image.QVec[3]),
			formatFloat(image.TVec[0]), formatFloat(image.TVec[1]), formatFloat(image.TVec[2]),
			image.CameraID, image.Name)
		for i, point := range image.Points2D {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			link := "-1"
			if point.HasPoint {
				link = strconv.FormatUint(point.Point3D, 10)
			}
			fmt.Fprintf(w, "%s %s %s", formatFloat(point.X), formatFloat(point.Y), link)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func writeTextPoints(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create points3D.txt: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "# 3D point list with one line of data per point:\n")
	fmt.Fprintf(w, "#   POINT3D_ID, X, Y, Z, R, G, B, ERROR, TRACK[] as (IMAGE_ID, POINT2D_IDX)\n")
	fmt.Fprintf(w, "# Number of points: %d\n", len(model.Points3D))
	for _, id := range sortedPointIDs(model) {
		point := model.Points3D[id]
		fmt.Fprintf(w, "%d %s %s %s %d %d %d %s",
			point.ID,
			formatFloat(point.XYZ[0]), formatFloat(point.XYZ[1]), formatFloat(point.XYZ[2]),
			point.RGB[0], point.RGB[1], point.RGB[2],
			formatFloat(point.Error))
		for _, elem := range point.Track {
			fmt.Fprintf(w, " %d %d", elem.ImageID, elem.Point2DIdx)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func readDataLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}
