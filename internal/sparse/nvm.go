package sparse

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// WriteNVM exports the model in VisualSFM's NVM v3 format. Only cameras with
// a focal length in the first parameter slot are exportable; COLMAP's
// SIMPLE_PINHOLE, PINHOLE, and SIMPLE_RADIAL models all satisfy that.
func WriteNVM(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create nvm: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintln(w, "NVM_V3")
	fmt.Fprintln(w)

	imageIDs := sortedImageIDs(model)
	// NVM references images by position in the camera list.
	indexByImage := make(map[uint32]int, len(imageIDs))
	for i, id := range imageIDs {
		indexByImage[id] = i
	}

	fmt.Fprintf(w, "%d\n", len(imageIDs))
	for _, id := range imageIDs {
		image := model.Images[id]
		focal := 1.0
		if camera, ok := model.Cameras[image.CameraID]; ok && len(camera.Params) > 0 {
			focal = camera.Params[0]
		}
		center := cameraCenter(image)
		fmt.Fprintf(w, "%s %s %s %s %s %s %s %s %s 0 0\n",
			sanitizeNVMName(image.Name), formatFloat(focal),
			formatFloat(image.QVec[0]), formatFloat(image.QVec[1]),
			formatFloat(image.QVec[2]), formatFloat(image.QVec[3]),
			formatFloat(center[0]), formatFloat(center[1]), formatFloat(center[2]))
	}

	pointIDs := sortedPointIDs(model)
	fmt.Fprintf(w, "%d\n", len(pointIDs))
	for _, id := range pointIDs {
		point := model.Points3D[id]
		fmt.Fprintf(w, "%s %s %s %d %d %d %d",
			formatFloat(point.XYZ[0]), formatFloat(point.XYZ[1]), formatFloat(point.XYZ[2]),
			point.RGB[0], point.RGB[1], point.RGB[2], len(point.Track))
		for _, elem := range point.Track {
			index, ok := indexByImage[elem.ImageID]
			if !ok {
				continue
			}
			x, y := observation(model, elem)
			fmt.Fprintf(w, " %d %d %s %s", index, elem.Point2DIdx, formatFloat(x), formatFloat(y))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "0")
	return w.Flush()
}

// ReadNVM imports an NVM v3 file. Camera intrinsics beyond focal length are
// not recoverable from NVM; imported cameras use the SIMPLE_PINHOLE model
// with the principal point at the origin.
func ReadNVM(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, malformed("read-nvm", "nvm missing", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	header, err := nextDataLine(scanner)
	if err != nil || !strings.HasPrefix(header, "NVM_V3") {
		return nil, malformed("read-nvm", "missing NVM_V3 header", err)
	}

	countLine, err := nextDataLine(scanner)
	if err != nil {
		return nil, malformed("read-nvm", "camera count", err)
	}
	cameraCount, err := strconv.Atoi(countLine)
	if err != nil || cameraCount < 0 {
		return nil, malformed("read-nvm", "camera count", err)
	}

	model := NewModel()
	for i := 0; i < cameraCount; i++ {
		line, err := nextDataLine(scanner)
		if err != nil {
			return nil, malformed("read-nvm", "truncated camera list", err)
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			return nil, malformed("read-nvm", "camera line too short", nil)
		}
		focal, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, malformed("read-nvm", "camera focal", err)
		}
		var image Image
		image.ID = uint32(i + 1)
		image.CameraID = uint32(i + 1)
		image.Name = fields[0]
		for j := 0; j < 4; j++ {
			if image.QVec[j], err = strconv.ParseFloat(fields[2+j], 64); err != nil {
				return nil, malformed("read-nvm", "camera rotation", err)
			}
		}
		var center [3]float64
		for j := 0; j < 3; j++ {
			if center[j], err = strconv.ParseFloat(fields[6+j], 64); err != nil {
				return nil, malformed("read-nvm", "camera center", err)
			}
		}
		image.TVec = translationFromCenter(image.QVec, center)

		model.Cameras[image.CameraID] = Camera{
			ID:     image.CameraID,
			Model:  SimplePinhole,
			Params: []float64{focal, 0, 0},
		}
		model.Images[image.ID] = image
	}

	countLine, err = nextDataLine(scanner)
	if err != nil {
		return nil, malformed("read-nvm", "point count", err)
	}
	pointCount, err := strconv.Atoi(countLine)
	if err != nil || pointCount < 0 {
		return nil, malformed("read-nvm", "point count", err)
	}
	for i := 0; i < pointCount; i++ {
		line, err := nextDataLine(scanner)
		if err != nil {
			return nil, malformed("read-nvm", "truncated point list", err)
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			return nil, malformed("read-nvm", "point line too short", nil)
		}
		var point Point3D
		point.ID = uint64(i + 1)
		for j := 0; j < 3; j++ {
			if point.XYZ[j], err = strconv.ParseFloat(fields[j], 64); err != nil {
				return nil, malformed("read-nvm", "point position", err)
			}
		}
		for j := 0; j < 3; j++ {
			channel, err := strconv.ParseUint(fields[3+j], 10, 8)
			if err != nil {
				return nil, malformed("read-nvm", "point color", err)
			}
			point.RGB[j] = uint8(channel)
		}
		measurements, err := strconv.Atoi(fields[6])
		if err != nil || measurements < 0 {
			return nil, malformed("read-nvm", "measurement count", err)
		}
		if len(fields) < 7+measurements*4 {
			return nil, malformed("read-nvm", "truncated measurements", nil)
		}
		point.Track = make([]TrackElement, 0, measurements)
		for j := 0; j < measurements; j++ {
			base := 7 + j*4
			index, err := strconv.Atoi(fields[base])
			if err != nil || index < 0 || index >= cameraCount {
				return nil, malformed("read-nvm", "measurement image index", err)
			}
			featureIdx, err := strconv.ParseUint(fields[base+1], 10, 32)
			if err != nil {
				return nil, malformed("read-nvm", "measurement feature index", err)
			}
			point.Track = append(point.Track, TrackElement{
				ImageID:    uint32(index + 1),
				Point2DIdx: uint32(featureIdx),
			})
		}
		model.Points3D[point.ID] = point
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// cameraCenter converts COLMAP's world-to-camera pose to the camera center
// NVM stores: C = -R^T * t.
func cameraCenter(image Image) [3]float64 {
	r := rotationMatrix(image.QVec)
	var center [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			center[i] -= r[j][i] * image.TVec[j]
		}
	}
	return center
}

// translationFromCenter inverts cameraCenter: t = -R * C.
func translationFromCenter(qvec [4]float64, center [3]float64) [3]float64 {
	r := rotationMatrix(qvec)
	var t [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i] -= r[i][j] * center[j]
		}
	}
	return t
}

func rotationMatrix(q [4]float64) [3][3]float64 {
	norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if norm == 0 {
		norm = 1
	}
	w, x, y, z := q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

func observation(model *Model, elem TrackElement) (float64, float64) {
	image, ok := model.Images[elem.ImageID]
	if !ok || int(elem.Point2DIdx) >= len(image.Points2D) {
		return 0, 0
	}
	point := image.Points2D[elem.Point2DIdx]
	return point.X, point.Y
}

func sanitizeNVMName(name string) string {
	if name == "" {
		return "unnamed.jpg"
	}
	return strings.ReplaceAll(name, " ", "_")
}

func nextDataLine(scanner *bufio.Scanner) (string, error) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("unexpected end of file")
}
