package rimage

import (
	"bufio"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/image/tiff"
)

// WriteImageToFile writes img to path, encoded by the file extension: .png, .jpg/.jpeg,
// .tif/.tiff, .ppm or .qoi.
func WriteImageToFile(path string, img image.Image) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".ppm", ".qoi":
	default:
		return errors.Errorf("rimage.WriteImageToFile unsupported format: %s", ext)
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	switch ext {
	case ".png":
		return png.Encode(f, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(f, img, nil)
	case ".ppm":
		return ppm.Encode(f, img)
	case ".qoi":
		return qoi.Encode(f, img)
	default:
		return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
}

// ReadImageFromFile decodes any image WriteImageToFile can write.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return tiff.Decode(f)
	case ".png":
		return png.Decode(f)
	case ".jpg", ".jpeg":
		return jpeg.Decode(f)
	case ".ppm":
		return ppm.Decode(f)
	case ".qoi":
		return qoi.Decode(f)
	default:
		return nil, errors.Errorf("rimage.ReadImageFromFile unsupported format: %s", path)
	}
}

// DepthMapToGray16 rounds every depth to the nearest integer, clamped to [0, 65535].
func DepthMapToGray16(dm *DepthMap) *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := math.Round(dm.GetDepth(x, y))
			z = math.Min(math.Max(z, 0), math.MaxUint16)
			img.SetGray16(x, y, color.Gray16{Y: uint16(z)})
		}
	}
	return img
}

// WriteDepthMapToFile stores a depth map by file extension: .tif/.tiff keeps full precision as a
// single channel float32 TIFF, .png stores a 16 bit grayscale image and .dat/.gz the raw
// float64 format.
func WriteDepthMapToFile(path string, dm *DepthMap) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png":
		return WriteImageToFile(path, DepthMapToGray16(dm))
	case ".dat", ".gz":
		return dm.WriteToFile(path)
	case ".tif", ".tiff":
	default:
		return errors.Errorf("rimage.WriteDepthMapToFile unsupported format: %s", ext)
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := EncodeFloatTIFF(w, dm); err != nil {
		return err
	}
	return w.Flush()
}

// tiff tag ids and field types used by the float depth encoder.
const (
	tiffTypeShort = 3
	tiffTypeLong  = 4

	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagSampleFormat              = 339

	tiffHeaderSize     = 8
	tiffIFDEntrySize   = 12
	tiffSampleFormatFP = 3
)

type tiffEntry struct {
	tag, typ uint16
	value    uint32
}

// EncodeFloatTIFF writes dm as an uncompressed little endian TIFF with one 32 bit IEEE float
// sample per pixel, stored in a single strip.
func EncodeFloatTIFF(w io.Writer, dm *DepthMap) error {
	if !dm.HasData() {
		return errors.New("cannot encode an empty depth map")
	}
	entries := []tiffEntry{
		{tagImageWidth, tiffTypeLong, uint32(dm.width)},
		{tagImageLength, tiffTypeLong, uint32(dm.height)},
		{tagBitsPerSample, tiffTypeShort, 32},
		{tagCompression, tiffTypeShort, 1},
		{tagPhotometricInterpretation, tiffTypeShort, 1},
		{tagStripOffsets, tiffTypeLong, 0},
		{tagSamplesPerPixel, tiffTypeShort, 1},
		{tagRowsPerStrip, tiffTypeLong, uint32(dm.height)},
		{tagStripByteCounts, tiffTypeLong, uint32(4 * dm.width * dm.height)},
		{tagPlanarConfiguration, tiffTypeShort, 1},
		{tagSampleFormat, tiffTypeShort, tiffSampleFormatFP},
	}
	ifdSize := 2 + len(entries)*tiffIFDEntrySize + 4
	entries[5].value = uint32(tiffHeaderSize + ifdSize)

	buf := make([]byte, tiffHeaderSize+ifdSize)
	copy(buf, "II")
	binary.LittleEndian.PutUint16(buf[2:], 42)
	binary.LittleEndian.PutUint32(buf[4:], tiffHeaderSize)
	binary.LittleEndian.PutUint16(buf[tiffHeaderSize:], uint16(len(entries)))
	for i, e := range entries {
		off := tiffHeaderSize + 2 + i*tiffIFDEntrySize
		binary.LittleEndian.PutUint16(buf[off:], e.tag)
		binary.LittleEndian.PutUint16(buf[off+2:], e.typ)
		binary.LittleEndian.PutUint32(buf[off+4:], 1)
		if e.typ == tiffTypeShort {
			binary.LittleEndian.PutUint16(buf[off+8:], uint16(e.value))
		} else {
			binary.LittleEndian.PutUint32(buf[off+8:], e.value)
		}
	}
	// next IFD offset stays 0
	if _, err := w.Write(buf); err != nil {
		return err
	}

	sample := make([]byte, 4)
	for _, z := range dm.data {
		binary.LittleEndian.PutUint32(sample, math.Float32bits(float32(z)))
		if _, err := w.Write(sample); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFloatTIFF reads a little endian, uncompressed, single channel float32 TIFF such as the
// ones EncodeFloatTIFF writes.
func DecodeFloatTIFF(r io.ReaderAt) (*DepthMap, error) {
	header := make([]byte, tiffHeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, errors.Wrap(err, "cannot read tiff header")
	}
	if string(header[:2]) != "II" || binary.LittleEndian.Uint16(header[2:]) != 42 {
		return nil, errors.New("not a little endian tiff")
	}
	ifdOffset := int64(binary.LittleEndian.Uint32(header[4:]))

	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, ifdOffset); err != nil {
		return nil, errors.Wrap(err, "cannot read tiff directory")
	}
	count := int(binary.LittleEndian.Uint16(countBuf))
	ifd := make([]byte, count*tiffIFDEntrySize)
	if _, err := r.ReadAt(ifd, ifdOffset+2); err != nil {
		return nil, errors.Wrap(err, "cannot read tiff directory")
	}

	tags := map[uint16]uint32{}
	for i := 0; i < count; i++ {
		e := ifd[i*tiffIFDEntrySize:]
		tag, typ := binary.LittleEndian.Uint16(e), binary.LittleEndian.Uint16(e[2:])
		if binary.LittleEndian.Uint32(e[4:]) != 1 {
			continue
		}
		switch typ {
		case tiffTypeShort:
			tags[tag] = uint32(binary.LittleEndian.Uint16(e[8:]))
		case tiffTypeLong:
			tags[tag] = binary.LittleEndian.Uint32(e[8:])
		}
	}

	if tags[tagSampleFormat] != tiffSampleFormatFP || tags[tagBitsPerSample] != 32 {
		return nil, errors.New("tiff does not hold 32 bit float samples")
	}
	if c, ok := tags[tagCompression]; ok && c != 1 {
		return nil, errors.Errorf("unsupported tiff compression %d", c)
	}
	if spp, ok := tags[tagSamplesPerPixel]; ok && spp != 1 {
		return nil, errors.Errorf("unsupported samples per pixel %d", spp)
	}
	width, height := int(tags[tagImageWidth]), int(tags[tagImageLength])
	if width == 0 || height == 0 {
		return nil, errors.New("tiff has no size")
	}
	offset, ok := tags[tagStripOffsets]
	if !ok {
		return nil, errors.New("tiff must be stored in a single strip")
	}

	raw := make([]byte, 4*width*height)
	if _, err := r.ReadAt(raw, int64(offset)); err != nil {
		return nil, errors.Wrap(err, "cannot read tiff samples")
	}
	dm := NewEmptyDepthMap(width, height)
	for i := range dm.data {
		dm.data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return dm, nil
}

// ReadDepthMapFromFile is the inverse of WriteDepthMapToFile. A png depth map comes back with
// integer depths.
func ReadDepthMapFromFile(path string) (*DepthMap, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dat", ".gz":
		return ParseDepthMap(path)
	case ".png":
		img, err := ReadImageFromFile(path)
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				dm.Set(x, y, float64(g.Y))
			}
		}
		return dm, nil
	case ".tif", ".tiff":
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return DecodeFloatTIFF(f)
	default:
		return nil, errors.Errorf("rimage.ReadDepthMapFromFile unsupported format: %s", path)
	}
}
