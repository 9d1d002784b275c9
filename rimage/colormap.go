package rimage

import (
	"image/color"
	"sort"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// ColormapSize is the number of entries in every colormap.
const ColormapSize = 256

// Colormap is an immutable lookup table from an index in [0, 255] to an opaque color.
type Colormap struct {
	name  string
	table [ColormapSize]color.RGBA
}

// Name returns the name the colormap is registered under.
func (cm *Colormap) Name() string {
	return cm.name
}

// At returns the color at idx. Indices outside the table are clamped.
func (cm *Colormap) At(idx int) color.RGBA {
	if idx < 0 {
		idx = 0
	}
	if idx >= ColormapSize {
		idx = ColormapSize - 1
	}
	return cm.table[idx]
}

// segment is one anchor of a piecewise linear color channel: at position x the channel
// reaches the value y.
type segment struct {
	x, y float64
}

// jet channel anchors, the same as matplotlib's jet.
var (
	jetRed   = []segment{{0, 0}, {0.35, 0}, {0.66, 1}, {0.89, 1}, {1, 0.5}}
	jetGreen = []segment{{0, 0}, {0.125, 0}, {0.375, 1}, {0.64, 1}, {0.91, 0}, {1, 0}}
	jetBlue  = []segment{{0, 0.5}, {0.11, 1}, {0.34, 1}, {0.65, 0}, {1, 0}}
)

func interpolateSegments(segments []segment, x float64) float64 {
	i := sort.Search(len(segments), func(i int) bool { return segments[i].x >= x })
	if i == 0 {
		return segments[0].y
	}
	if i == len(segments) {
		return segments[len(segments)-1].y
	}
	lo, hi := segments[i-1], segments[i]
	return lo.y + (hi.y-lo.y)*(x-lo.x)/(hi.x-lo.x)
}

// toRGBA255 truncates rather than rounds each channel.
func toRGBA255(c colorful.Color) color.RGBA {
	c = c.Clamped()
	return color.RGBA{uint8(c.R * 255), uint8(c.G * 255), uint8(c.B * 255), 255}
}

var (
	jetOnce sync.Once
	jetMap  *Colormap

	hueOnce sync.Once
	hueMap  *Colormap
)

// JetColormap returns the jet colormap: dark blue for index 0 through cyan, yellow and red
// up to dark red for index 255.
func JetColormap() *Colormap {
	jetOnce.Do(func() {
		jetMap = &Colormap{name: "jet"}
		for i := 0; i < ColormapSize; i++ {
			x := float64(i) / float64(ColormapSize-1)
			jetMap.table[i] = toRGBA255(colorful.Color{
				R: interpolateSegments(jetRed, x),
				G: interpolateSegments(jetGreen, x),
				B: interpolateSegments(jetBlue, x),
			})
		}
	})
	return jetMap
}

// HueColormap returns a colormap that sweeps the hue from orange (30 degrees) to
// violet-blue (230 degrees) at full saturation and value.
func HueColormap() *Colormap {
	hueOnce.Do(func() {
		hueMap = &Colormap{name: "hue"}
		for i := 0; i < ColormapSize; i++ {
			ratio := float64(i) / float64(ColormapSize-1)
			hueMap.table[i] = NewColorFromHSV(30+(200.0*ratio), 1.0, 1.0).ToRGBA()
		}
	})
	return hueMap
}

// ColormapByName looks up a colormap by its name. An empty name selects jet.
func ColormapByName(name string) (*Colormap, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jet":
		return JetColormap(), nil
	case "hue":
		return HueColormap(), nil
	default:
		return nil, errors.Errorf("unknown colormap %q", name)
	}
}
