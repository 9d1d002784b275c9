package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed lzf compressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// PCDTypeFromString parses the DATA value of a pcd header.
func PCDTypeFromString(s string) (PCDType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascii":
		return PCDAscii, nil
	case "binary":
		return PCDBinary, nil
	case "binary_compressed":
		return PCDCompressed, nil
	default:
		return 0, errors.Errorf("unknown pcd data type %q", s)
	}
}

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

const pcdCommentChar = "#"

// maxPCDDataBytes bounds the point data a header may declare.
const maxPCDDataBytes int64 = 1 << 32

type pcdHeader struct {
	fields []string
	size   []int
	typ    []string
	count  []int
	width  int
	height int
	points int
	data   PCDType
}

// recordSize is the number of bytes a single point occupies in binary data.
func (h *pcdHeader) recordSize() int {
	total := 0
	for i := range h.fields {
		total += h.size[i] * h.count[i]
	}
	return total
}

// fieldIndex returns the index of the named field, or -1.
func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f == name {
			return i
		}
	}
	return -1
}

func (h *pcdHeader) validate() error {
	n := len(h.fields)
	if n == 0 {
		return errors.New("pcd header is missing FIELDS")
	}
	if h.count == nil {
		h.count = make([]int, n)
		for i := range h.count {
			h.count[i] = 1
		}
	}
	if len(h.size) != n || len(h.typ) != n || len(h.count) != n {
		return errors.Errorf("pcd header declares %d fields but SIZE/TYPE/COUNT have %d/%d/%d entries",
			n, len(h.size), len(h.typ), len(h.count))
	}
	for i, name := range h.fields {
		if h.size[i] <= 0 || h.count[i] <= 0 {
			return errors.Errorf("pcd field %s has invalid SIZE %d or COUNT %d", name, h.size[i], h.count[i])
		}
	}
	for _, name := range []string{"x", "y", "z"} {
		if h.fieldIndex(name) < 0 {
			return errors.Errorf("pcd file has no %q field", name)
		}
	}
	if h.points < 0 || h.width < 0 || h.height < 0 {
		return errors.Errorf("pcd header has negative POINTS %d, WIDTH %d or HEIGHT %d", h.points, h.width, h.height)
	}
	if h.points == 0 {
		h.points = h.width * h.height
	}
	if h.width*h.height != 0 && h.points != h.width*h.height {
		return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", h.points, h.width*h.height)
	}
	if int64(h.points)*int64(h.recordSize()) > maxPCDDataBytes {
		return errors.Errorf("pcd header declares %d points of %d bytes, more than %d bytes of data",
			h.points, h.recordSize(), maxPCDDataBytes)
	}
	return nil
}

func parseInts(key string, tokens []string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s field %s", key, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, header *pcdHeader) error {
	tokens := strings.Fields(line)
	key, values := strings.ToUpper(tokens[0]), tokens[1:]
	value := strings.Join(values, " ")

	var err error
	switch key {
	case "VERSION":
		switch value {
		case ".7", "0.7":
		default:
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = values
	case "SIZE":
		header.size, err = parseInts(key, values)
	case "TYPE":
		header.typ = make([]string, len(values))
		for i, v := range values {
			v = strings.ToUpper(v)
			if v != "F" && v != "I" && v != "U" {
				return errors.Errorf("invalid TYPE field %s", v)
			}
			header.typ[i] = v
		}
	case "COUNT":
		header.count, err = parseInts(key, values)
	case "WIDTH":
		header.width, err = strconv.Atoi(value)
	case "HEIGHT":
		header.height, err = strconv.Atoi(value)
	case "VIEWPOINT":
		if len(values) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(values))
		}
	case "POINTS":
		header.points, err = strconv.Atoi(value)
	case "DATA":
		header.data, err = PCDTypeFromString(value)
	default:
		return errors.Errorf("unknown pcd header line %q", line)
	}
	if err != nil {
		return errors.Wrapf(err, "invalid %s line", key)
	}
	return nil
}

// ReadPCD reads a point cloud in the pcd format. Only the x, y, z and rgb fields are kept;
// any other field is skipped. Points with a NaN coordinate are dropped.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "error reading pcd header")
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, &header); err != nil {
			return nil, err
		}
		if strings.HasPrefix(strings.ToUpper(line), "DATA") {
			break
		}
	}
	if err := header.validate(); err != nil {
		return nil, err
	}

	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, &header)
	case PCDBinary:
		return readPCDBinary(in, &header)
	case PCDCompressed:
		return readPCDCompressed(in, &header)
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

// pcdColumns holds the field indices of x, y, z and rgb.
type pcdColumns struct {
	x, y, z, rgb int
}

func newPCDColumns(header *pcdHeader) pcdColumns {
	cols := pcdColumns{x: -1, y: -1, z: -1, rgb: -1}
	for i, f := range header.fields {
		switch f {
		case "x":
			cols.x = i
		case "y":
			cols.y = i
		case "z":
			cols.z = i
		case "rgb", "rgba":
			cols.rgb = i
		}
	}
	return cols
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader) (PointCloud, error) {
	cols := newPCDColumns(header)
	// value offsets of each field within a line
	offsets := make([]int, len(header.fields))
	total := 0
	for i := range header.fields {
		offsets[i] = total
		total += header.count[i]
	}

	pc := NewWithPrealloc(header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && strings.TrimSpace(line) != "") {
			return nil, errors.Wrapf(err, "error reading pcd point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != total {
			return nil, errors.Errorf("unexpected number of fields in point %d: %d != %d", i, len(tokens), total)
		}
		values := make([]float64, 3)
		for j, idx := range []int{cols.x, cols.y, cols.z} {
			values[j], err = strconv.ParseFloat(tokens[offsets[idx]], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, tokens[offsets[idx]])
			}
		}
		var data Data = NewBasicData()
		if cols.rgb >= 0 {
			packed, err := parseAsciiPackedColor(tokens[offsets[cols.rgb]], header.typ[cols.rgb])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d color", i)
			}
			data = NewColoredData(pcdIntToColor(packed))
		}
		if err := setPCDPoint(pc, values, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func parseAsciiPackedColor(token, typ string) (uint32, error) {
	if typ == "F" {
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, err
		}
		return math.Float32bits(float32(f)), nil
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader) (PointCloud, error) {
	offsets := make([]int, len(header.fields))
	total := 0
	for i := range header.fields {
		offsets[i] = total
		total += header.size[i] * header.count[i]
	}
	raw := make([]byte, total*header.points)
	if _, err := io.ReadFull(in, raw); err != nil {
		return nil, errors.Wrap(err, "error reading binary pcd data")
	}
	return decodePCDRecords(header, func(point, field int) []byte {
		return raw[point*total+offsets[field]:]
	})
}

// readPCDCompressed reads lzf compressed data. Once decompressed, the data holds every value of
// the first field, then every value of the second, and so on.
func readPCDCompressed(in *bufio.Reader, header *pcdHeader) (PointCloud, error) {
	var sizes [2]uint32
	if err := binary.Read(in, binary.LittleEndian, &sizes); err != nil {
		return nil, errors.Wrap(err, "error reading compressed pcd sizes")
	}
	compressedSize, rawSize := int(sizes[0]), int(sizes[1])
	if rawSize != header.recordSize()*header.points {
		return nil, errors.Errorf("compressed pcd holds %d bytes, header expects %d",
			rawSize, header.recordSize()*header.points)
	}
	if compressedSize > lzfMaxCompressedSize(rawSize) {
		return nil, errors.Errorf("compressed pcd size %d is too large for %d raw bytes", compressedSize, rawSize)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "error reading compressed pcd data")
	}
	raw := make([]byte, rawSize)
	if rawSize > 0 {
		n, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return nil, errors.Wrap(err, "error decompressing pcd data")
		}
		if n != rawSize {
			return nil, errors.Errorf("decompressed %d pcd bytes, expected %d", n, rawSize)
		}
	}

	starts := make([]int, len(header.fields))
	total := 0
	for i := range header.fields {
		starts[i] = total
		total += header.size[i] * header.count[i] * header.points
	}
	return decodePCDRecords(header, func(point, field int) []byte {
		return raw[starts[field]+point*header.size[field]*header.count[field]:]
	})
}

// decodePCDRecords builds a cloud from binary data. fieldBytes returns the bytes of the given
// field of the given point.
func decodePCDRecords(header *pcdHeader, fieldBytes func(point, field int) []byte) (PointCloud, error) {
	cols := newPCDColumns(header)
	if cols.rgb >= 0 && header.size[cols.rgb] != 4 {
		return nil, errors.Errorf("unsupported rgb field size %d", header.size[cols.rgb])
	}
	pc := NewWithPrealloc(header.points)
	values := make([]float64, 3)
	for i := 0; i < header.points; i++ {
		for j, idx := range []int{cols.x, cols.y, cols.z} {
			v, err := decodePCDValue(fieldBytes(i, idx), header.size[idx], header.typ[idx])
			if err != nil {
				return nil, err
			}
			values[j] = v
		}
		var data Data = NewBasicData()
		if cols.rgb >= 0 {
			data = NewColoredData(pcdIntToColor(binary.LittleEndian.Uint32(fieldBytes(i, cols.rgb))))
		}
		if err := setPCDPoint(pc, values, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func decodePCDValue(buf []byte, size int, typ string) (float64, error) {
	switch {
	case typ == "F" && size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	case typ == "F" && size == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	case typ == "I" && size == 1:
		return float64(int8(buf[0])), nil
	case typ == "I" && size == 2:
		return float64(int16(binary.LittleEndian.Uint16(buf))), nil
	case typ == "I" && size == 4:
		return float64(int32(binary.LittleEndian.Uint32(buf))), nil
	case typ == "U" && size == 1:
		return float64(buf[0]), nil
	case typ == "U" && size == 2:
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case typ == "U" && size == 4:
		return float64(binary.LittleEndian.Uint32(buf)), nil
	default:
		return 0, errors.Errorf("unsupported pcd field of type %s and size %d", typ, size)
	}
}

func setPCDPoint(pc PointCloud, values []float64, data Data) error {
	if math.IsNaN(values[0]) || math.IsNaN(values[1]) || math.IsNaN(values[2]) {
		return nil
	}
	return pc.Set(r3.Vector{X: values[0], Y: values[1], Z: values[2]}, data)
}

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c), 255}
}

// ToPCD writes the cloud out in the pcd format. Positions are written as they are stored,
// no unit conversion happens.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	switch outputType {
	case PCDAscii, PCDBinary, PCDCompressed:
	default:
		return errors.Errorf("unsupported pcd data type %v", outputType)
	}
	hasColor := cloud.MetaData().HasColor

	w := bufio.NewWriter(out)
	w.WriteString("VERSION .7\n")
	if hasColor {
		w.WriteString("FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F U\nCOUNT 1 1 1 1\n")
	} else {
		w.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(w, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		cloud.Size(), cloud.Size(), outputType)

	if outputType == PCDCompressed {
		if err := writePCDCompressed(cloud, w, hasColor); err != nil {
			return err
		}
		return w.Flush()
	}

	var writeErr error
	buf := make([]byte, 16)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(d))
				n = 16
			}
			_, writeErr = w.Write(buf[:n])
		default:
			line := formatFloat32(pos.X) + " " + formatFloat32(pos.Y) + " " + formatFloat32(pos.Z)
			if hasColor {
				line += " " + strconv.FormatUint(uint64(colorToPCDInt(d)), 10)
			}
			_, writeErr = w.WriteString(line + "\n")
		}
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	return w.Flush()
}

// lzfMaxCompressedSize is the largest size lzf may produce for rawSize bytes of incompressible input.
func lzfMaxCompressedSize(rawSize int) int {
	return rawSize + rawSize/16 + 64
}

func writePCDCompressed(cloud PointCloud, w io.Writer, hasColor bool) error {
	numFields := 3
	if hasColor {
		numFields = 4
	}
	n := cloud.Size()
	raw := make([]byte, 4*numFields*n)
	i := 0
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(pos.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(pos.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(pos.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], colorToPCDInt(d))
		}
		i++
		return true
	})

	var compressed []byte
	if len(raw) > 0 {
		compressed = make([]byte, lzfMaxCompressedSize(len(raw)))
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "error compressing pcd data")
		}
		compressed = compressed[:size]
	}
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(len(compressed)), uint32(len(raw))}); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func formatFloat32(f float64) string {
	return strconv.FormatFloat(float64(float32(f)), 'g', -1, 32)
}
