package pointcloud

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	lzf "github.com/zhuyie/golzf"
	"go.viam.com/test"

	"go.viam.com/pcdepth/logging"
)

func makeColoredCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(-1, -2, 5), NewColoredData(color.NRGBA{255, 1, 2, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(582, 12, 0), NewColoredData(color.NRGBA{0, 255, 2, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(7, 6, 1), NewColoredData(color.NRGBA{0, 1, 255, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0.5, 0.25, 1.125), NewColoredData(color.NRGBA{10, 20, 30, 255})), test.ShouldBeNil)
	return pc
}

func sameCloud(t *testing.T, got, expected PointCloud) {
	t.Helper()
	test.That(t, got.Size(), test.ShouldEqual, expected.Size())
	expected.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		gotData, ok := got.At(p.X, p.Y, p.Z)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, gotData.HasColor(), test.ShouldEqual, d.HasColor())
		if d.HasColor() {
			r1, g1, b1 := gotData.RGB255()
			r2, g2, b2 := d.RGB255()
			test.That(t, []uint8{r1, g1, b1}, test.ShouldResemble, []uint8{r2, g2, b2})
		}
		return true
	})
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		t.Run(pcdType.String(), func(t *testing.T) {
			cloud := makeColoredCloud(t)
			var buf bytes.Buffer
			test.That(t, ToPCD(cloud, &buf, pcdType), test.ShouldBeNil)
			test.That(t, buf.String(), test.ShouldContainSubstring, "DATA "+pcdType.String()+"\n")

			got, err := ReadPCD(&buf)
			test.That(t, err, test.ShouldBeNil)
			sameCloud(t, got, cloud)
			test.That(t, CloudToVectors(got), test.ShouldResemble, CloudToVectors(cloud))
		})
	}

	t.Run("no color", func(t *testing.T) {
		cloud, err := NewFromVectors([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})
		test.That(t, err, test.ShouldBeNil)
		var buf bytes.Buffer
		test.That(t, ToPCD(cloud, &buf, PCDAscii), test.ShouldBeNil)
		test.That(t, buf.String(), test.ShouldContainSubstring, "FIELDS x y z\n")
		test.That(t, buf.String(), test.ShouldEndWith, "1 2 3\n4 5 6\n")

		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.MetaData().HasColor, test.ShouldBeFalse)
		sameCloud(t, got, cloud)
	})

	t.Run("compressed layout", func(t *testing.T) {
		cloud, err := NewFromVectors([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})
		test.That(t, err, test.ShouldBeNil)
		var buf bytes.Buffer
		test.That(t, ToPCD(cloud, &buf, PCDCompressed), test.ShouldBeNil)

		_, body, found := bytes.Cut(buf.Bytes(), []byte("DATA binary_compressed\n"))
		test.That(t, found, test.ShouldBeTrue)
		compressedSize := binary.LittleEndian.Uint32(body)
		rawSize := binary.LittleEndian.Uint32(body[4:])
		test.That(t, rawSize, test.ShouldEqual, 2*3*4)
		test.That(t, len(body), test.ShouldEqual, 8+int(compressedSize))

		raw := make([]byte, rawSize)
		n, err := lzf.Decompress(body[8:], raw)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, int(rawSize))
		values := make([]float32, 6)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		// all x, then all y, then all z
		test.That(t, values, test.ShouldResemble, []float32{1, 4, 2, 5, 3, 6})
	})

	t.Run("empty compressed", func(t *testing.T) {
		var buf bytes.Buffer
		test.That(t, ToPCD(New(), &buf, PCDCompressed), test.ShouldBeNil)
		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldEqual, 0)
	})

	t.Run("unknown type", func(t *testing.T) {
		var buf bytes.Buffer
		test.That(t, ToPCD(New(), &buf, PCDType(7)), test.ShouldNotBeNil)
	})
}

func TestReadPCDExtraFields(t *testing.T) {
	data := strings.Join([]string{
		"# .PCD v0.7 - Point Cloud Data file format",
		"VERSION 0.7",
		"FIELDS x y z intensity",
		"SIZE 4 4 4 4",
		"TYPE F F F F",
		"COUNT 1 1 1 1",
		"WIDTH 3",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 3",
		"DATA ascii",
		"1.5 2 3 0.7",
		"nan nan nan 0",
		"-4 5 6.25 0.1",
	}, "\n") + "\n"

	pc, err := ReadPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CloudToVectors(pc), test.ShouldResemble, []r3.Vector{{X: 1.5, Y: 2, Z: 3}, {X: -4, Y: 5, Z: 6.25}})
	test.That(t, pc.MetaData().HasColor, test.ShouldBeFalse)
}

func TestReadPCDErrors(t *testing.T) {
	header := func(version, fields, data string) string {
		return strings.Join([]string{
			"VERSION " + version,
			"FIELDS " + fields,
			"SIZE 4 4 4",
			"TYPE F F F",
			"COUNT 1 1 1",
			"WIDTH 1",
			"HEIGHT 1",
			"VIEWPOINT 0 0 0 1 0 0 0",
			"POINTS 1",
			"DATA " + data,
			"1 2 3",
		}, "\n") + "\n"
	}

	_, err := ReadPCD(strings.NewReader(header("0.5", "x y z", "ascii")))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported pcd version")

	_, err = ReadPCD(strings.NewReader(header(".7", "x y w", "ascii")))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "\"z\"")

	_, err = ReadPCD(strings.NewReader(header(".7", "x y z", "binary_compressed")))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "compressed")

	_, err = ReadPCD(strings.NewReader(header(".7", "x y z", "binary")))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPCD(strings.NewReader("VERSION .7\nFIELDS x y z\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadPCDMalformedHeader(t *testing.T) {
	header := func(size, count, width, height, points, data string) string {
		return strings.Join([]string{
			"VERSION .7",
			"FIELDS x y z",
			"SIZE " + size,
			"TYPE F F F",
			"COUNT " + count,
			"WIDTH " + width,
			"HEIGHT " + height,
			"POINTS " + points,
			"DATA " + data,
		}, "\n") + "\n"
	}

	for _, tc := range []struct {
		name     string
		input    string
		contains string
	}{
		{"negative points binary", header("4 4 4", "1 1 1", "0", "0", "-1", "binary"), "negative"},
		{"negative points ascii", header("4 4 4", "1 1 1", "0", "0", "-1", "ascii") + "1 2 3\n", "negative"},
		{"negative width", header("4 4 4", "1 1 1", "-1", "1", "0", "ascii"), "negative"},
		{"negative height", header("4 4 4", "1 1 1", "1", "-2", "0", "binary"), "negative"},
		{"zero size", header("4 0 4", "1 1 1", "1", "1", "1", "binary"), "invalid SIZE"},
		{"negative size", header("4 -4 4", "1 1 1", "1", "1", "1", "binary"), "invalid SIZE"},
		{"zero count", header("4 4 4", "1 1 0", "1", "1", "1", "binary"), "COUNT"},
		{"negative count", header("4 4 4", "-1 1 1", "1", "1", "1", "ascii"), "COUNT"},
		{"too many points", header("4 4 4", "1 1 1", "0", "0", "1000000000", "binary"), "more than"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPCD(strings.NewReader(tc.input))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}

	t.Run("compressed size too large", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString(header("4 4 4", "1 1 1", "1", "1", "1", "binary_compressed"))
		test.That(t, binary.Write(&buf, binary.LittleEndian, [2]uint32{math.MaxUint32, 12}), test.ShouldBeNil)
		_, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "too large")
	})
}

func TestPLYRoundTrip(t *testing.T) {
	cloud := makeColoredCloud(t)
	var buf bytes.Buffer
	test.That(t, ToPLY(cloud, &buf), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldStartWith, "ply\nformat ascii 1.0\nelement vertex 4\n")

	got, err := ReadPLY(&buf)
	test.That(t, err, test.ShouldBeNil)
	sameCloud(t, got, cloud)
}

func TestFileRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	cloud := makeColoredCloud(t)

	for _, name := range []string{"cloud.pcd", "cloud.ply", "cloud.las"} {
		t.Run(name, func(t *testing.T) {
			fn := filepath.Join(dir, name)
			test.That(t, WriteToFile(cloud, fn, PCDBinary), test.ShouldBeNil)

			got, err := NewFromFile(fn, logger)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Size(), test.ShouldEqual, cloud.Size())
			test.That(t, got.MetaData().HasColor, test.ShouldBeTrue)
			test.That(t, got.MetaData().MaxX, test.ShouldAlmostEqual, 582, 0.01)
			test.That(t, got.MetaData().MinY, test.ShouldAlmostEqual, -2, 0.01)
			test.That(t, got.MetaData().MaxZ, test.ShouldAlmostEqual, 5, 0.01)
		})
	}

	_, err := NewFromFile(filepath.Join(dir, "cloud.xyz"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")

	err = WriteToFile(cloud, filepath.Join(dir, "cloud.xyz"), PCDAscii)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewFromFile(filepath.Join(dir, "missing.pcd"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
