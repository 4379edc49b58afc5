package sparse

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePLY exports the model's 3D points as an ASCII PLY point cloud.
func WritePLY(path string, model *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ply: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintln(w, "ply")
	fmt.Fprintln(w, "format ascii 1.0")
	fmt.Fprintf(w, "element vertex %d\n", len(model.Points3D))
	fmt.Fprintln(w, "property float x")
	fmt.Fprintln(w, "property float y")
	fmt.Fprintln(w, "property float z")
	fmt.Fprintln(w, "property uchar red")
	fmt.Fprintln(w, "property uchar green")
	fmt.Fprintln(w, "property uchar blue")
	fmt.Fprintln(w, "end_header")

	for _, id := range sortedPointIDs(model) {
		point := model.Points3D[id]
		fmt.Fprintf(w, "%s %s %s %d %d %d\n",
			formatFloat(point.XYZ[0]), formatFloat(point.XYZ[1]), formatFloat(point.XYZ[2]),
			point.RGB[0], point.RGB[1], point.RGB[2])
	}
	return w.Flush()
}

// ReadPLY imports an ASCII PLY point cloud as a points-only model. Vertex
// colors default to white when the file carries no color properties.
func ReadPLY(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, malformed("read-ply", "ply missing", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "ply" {
		return nil, malformed("read-ply", "missing ply magic", nil)
	}

	vertexCount := -1
	hasColor := false
	inHeader := true
	for inHeader && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		switch {
		case line == "end_header":
			inHeader = false
		case len(fields) == 3 && fields[0] == "format":
			if fields[1] != "ascii" {
				return nil, malformed("read-ply", "only ascii ply is supported", nil)
			}
		case len(fields) == 3 && fields[0] == "element" && fields[1] == "vertex":
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, malformed("read-ply", "vertex count", err)
			}
			vertexCount = count
		case len(fields) == 3 && fields[0] == "property" && fields[2] == "red":
			hasColor = true
		}
	}
	if inHeader {
		return nil, malformed("read-ply", "header not terminated", nil)
	}
	if vertexCount < 0 {
		return nil, malformed("read-ply", "no vertex element", nil)
	}

	model := NewModel()
	for i := 0; i < vertexCount; i++ {
		if !scanner.Scan() {
			return nil, malformed("read-ply", "truncated vertex data", nil)
		}
		fields := strings.Fields(scanner.Text())
		minFields := 3
		if hasColor {
			minFields = 6
		}
		if len(fields) < minFields {
			return nil, malformed("read-ply", "vertex line too short", nil)
		}
		var point Point3D
		point.ID = uint64(i + 1)
		for j := 0; j < 3; j++ {
			value, err := strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, malformed("read-ply", "vertex coordinate", err)
			}
			point.XYZ[j] = value
		}
		point.RGB = [3]uint8{255, 255, 255}
		if hasColor {
			for j := 0; j < 3; j++ {
				channel, err := strconv.ParseUint(fields[3+j], 10, 8)
				if err != nil {
					return nil, malformed("read-ply", "vertex color", err)
				}
				point.RGB[j] = uint8(channel)
			}
		}
		model.Points3D[point.ID] = point
	}
	return model, scanner.Err()
}
