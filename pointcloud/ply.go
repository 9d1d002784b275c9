package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// NewFromPLYFile returns a point cloud built from the vertex element of a PLY file. Vertex
// colors are kept when the red, green and blue properties are present.
func NewFromPLYFile(fn string) (PointCloud, error) {
	f, err := os.Open(fn) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPLY(f)
}

// ReadPLY reads the vertices of a PLY stream into a point cloud.
func ReadPLY(in io.Reader) (pc PointCloud, err error) {
	defer func() {
		// goply panics on malformed input instead of returning errors
		if r := recover(); r != nil {
			pc = nil
			err = errors.Errorf("malformed ply data: %v", r)
		}
	}()

	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	cloud := NewWithPrealloc(len(vertices))
	for i, vertex := range vertices {
		var pos [3]float64
		for j, name := range []string{"x", "y", "z"} {
			v, ok := plyNumber(vertex[name])
			if !ok {
				return nil, errors.Errorf("vertex %d has no numeric %q property", i, name)
			}
			pos[j] = v
		}

		var data Data = NewBasicData()
		red, hasRed := plyNumber(vertex["red"])
		green, hasGreen := plyNumber(vertex["green"])
		blue, hasBlue := plyNumber(vertex["blue"])
		if hasRed && hasGreen && hasBlue {
			data = NewColoredData(color.NRGBA{uint8(red), uint8(green), uint8(blue), 255})
		}
		if err := cloud.Set(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, data); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToPLY writes the cloud as an ascii PLY file with a single vertex element.
func ToPLY(cloud PointCloud, out io.Writer) error {
	hasColor := cloud.MetaData().HasColor

	w := bufio.NewWriter(out)
	fmt.Fprintf(w, "ply\nformat ascii 1.0\nelement vertex %d\n", cloud.Size())
	w.WriteString("property float x\nproperty float y\nproperty float z\n")
	if hasColor {
		w.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	w.WriteString("end_header\n")

	var writeErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		line := formatFloat32(pos.X) + " " + formatFloat32(pos.Y) + " " + formatFloat32(pos.Z)
		if hasColor {
			r, g, b := uint8(255), uint8(255), uint8(255)
			if d != nil && d.HasColor() {
				r, g, b = d.RGB255()
			}
			line += fmt.Sprintf(" %d %d %d", r, g, b)
		}
		_, writeErr = w.WriteString(line + "\n")
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	return w.Flush()
}
