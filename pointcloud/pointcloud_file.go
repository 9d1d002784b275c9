package pointcloud

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/pcdepth/logging"
)

// NewFromFile returns a pointcloud read in from the given file. The format is chosen by the
// file extension: .pcd, .ply or .las.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		f, err := os.Open(fn) //nolint:gosec
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	case ".ply":
		return NewFromPLYFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to fn in the format given by its extension. pcdType only
// applies to .pcd files.
func WriteToFile(cloud PointCloud, fn string, pcdType PCDType) (err error) {
	ext := strings.ToLower(filepath.Ext(fn))
	if ext == ".las" {
		return WriteToLASFile(cloud, fn)
	}
	if ext != ".pcd" && ext != ".ply" {
		return errors.Errorf("do not know how to write file %q", fn)
	}

	f, err := os.Create(fn) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if ext == ".ply" {
		return ToPLY(cloud, f)
	}
	return ToPCD(cloud, f, pcdType)
}

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64 {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", data, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}

		var dd Data = NewBasicData()
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			rgb := p.RgbData()
			dd = NewColoredData(color.NRGBA{uint8(rgb.Red / 256), uint8(rgb.Green / 256), uint8(rgb.Blue / 256), 255})
		}
		if err := pc.Set(r3.Vector{X: x, Y: y, Z: z}, dd); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	hasColor := cloud.MetaData().HasColor
	pointFormatID := byte(0)
	if hasColor {
		pointFormatID = 2
	}
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: pointFormatID}); err != nil {
		return err
	}

	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}
		var lp lidario.LasPointer = pr0
		if hasColor {
			red, green, blue := uint8(255), uint8(255), uint8(255)
			if d != nil && d.HasColor() {
				red, green, blue = d.RGB255()
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red) * 256,
					Green: uint16(green) * 256,
					Blue:  uint16(blue) * 256,
				},
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	return lastErr
}
