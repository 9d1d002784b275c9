// Package rimage holds depth maps, colormaps and the image files written from them.
package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// DepthMap is a row-major grid of float64 depths. A depth of 0 means nothing was seen at
// that pixel.
type DepthMap struct {
	width  int
	height int

	data []float64
}

// NewEmptyDepthMap returns a depth map of the given size filled with zeros.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]float64, width*height),
	}
}

// HasData returns whether the map covers any pixels.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.height > 0
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle dimensions of the depth map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Contains returns whether (x, y) lies inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// Get returns the depth at p.
func (dm *DepthMap) Get(p image.Point) float64 {
	return dm.data[dm.kxy(p.X, p.Y)]
}

// GetDepth returns the depth at column x, row y.
func (dm *DepthMap) GetDepth(x, y int) float64 {
	return dm.data[dm.kxy(x, y)]
}

// Set stores the depth at column x, row y.
func (dm *DepthMap) Set(x, y int, val float64) {
	dm.data[dm.kxy(x, y)] = val
}

// Rows returns the depths as a slice of rows, each a copy.
func (dm *DepthMap) Rows() [][]float64 {
	rows := make([][]float64, dm.height)
	for y := range rows {
		rows[y] = append([]float64(nil), dm.data[y*dm.width:(y+1)*dm.width]...)
	}
	return rows
}

// MinMax returns the smallest and largest nonzero depth. Both are 0 when the map is empty.
func (dm *DepthMap) MinMax() (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		min = math.Min(min, z)
		max = math.Max(max, z)
	}
	if math.IsInf(min, 1) {
		return 0, 0
	}
	return min, max
}

// NonZero returns every nonzero depth in row-major order.
func (dm *DepthMap) NonZero() []float64 {
	var out []float64
	for _, z := range dm.data {
		if z != 0 {
			out = append(out, z)
		}
	}
	return out
}

// ToPrettyPicture colors every nonzero depth with cmap, scaling the range of depths in the map
// (clipped to [hardMin, hardMax] when those are positive) across the colormap.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax float64, cmap *Colormap) *image.RGBA {
	min, max := dm.MinMax()
	if hardMin > 0 && min < hardMin {
		min = hardMin
	}
	if hardMax > 0 && max > hardMax {
		max = hardMax
	}

	img := image.NewRGBA(dm.Bounds())
	span := max - min
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				img.SetRGBA(x, y, Black.ToRGBA())
				continue
			}
			ratio := 0.0
			if span > 0 {
				ratio = (math.Min(math.Max(z, min), max) - min) / span
			}
			img.SetRGBA(x, y, cmap.At(int(ratio*(ColormapSize-1))))
		}
	}
	return img
}

// ParseDepthMap reads a depth map written by WriteToFile. Files ending in .gz are
// decompressed.
func ParseDepthMap(fn string) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(gr.Close)
		r = gr
	}
	return ReadDepthMap(bufio.NewReader(r))
}

func readNext(r io.Reader) (uint64, error) {
	data := make([]byte, 8)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadDepthMap reads the raw format: width and height as little endian uint64 followed by
// width*height little endian float64 depths in row-major order.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	rawWidth, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read depth map width")
	}
	rawHeight, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read depth map height")
	}
	if rawWidth == 0 || rawWidth >= 100000 || rawHeight == 0 || rawHeight >= 100000 {
		return nil, errors.Errorf("bad width or height for depth map %v %v", rawWidth, rawHeight)
	}

	dm := NewEmptyDepthMap(int(rawWidth), int(rawHeight))
	for i := range dm.data {
		bits, err := readNext(r)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read depth %d", i)
		}
		dm.data[i] = math.Float64frombits(bits)
	}
	return dm, nil
}

// WriteToFile writes the raw depth map format, gzipped when fn ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}

	bout := bufio.NewWriter(out)
	if err := dm.WriteRaw(bout); err != nil {
		return err
	}
	if err := bout.Flush(); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}

// WriteRaw writes the raw depth map format to out.
func (dm *DepthMap) WriteRaw(out io.Writer) error {
	buf := make([]byte, 8)

	binary.LittleEndian.PutUint64(buf, uint64(dm.width))
	if _, err := out.Write(buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf, uint64(dm.height))
	if _, err := out.Write(buf); err != nil {
		return err
	}
	for _, z := range dm.data {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(z))
		if _, err := out.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
