package rimage

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DefaultHistogramBins is the number of bins used when a caller passes a nonpositive count.
const DefaultHistogramBins = 64

// NewDepthHistogramPlot builds a histogram of the nonzero depths in dm.
func NewDepthHistogramPlot(dm *DepthMap, bins int) (*plot.Plot, error) {
	depths := dm.NonZero()
	if len(depths) == 0 {
		return nil, errors.New("depth map has no nonzero depths to plot")
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}

	p := plot.New()
	p.Title.Text = "Depth Histogram"
	p.X.Label.Text = "Depth"
	p.Y.Label.Text = "Pixels"

	h, err := plotter.NewHist(plotter.Values(depths), bins)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build depth histogram")
	}
	h.FillColor = JetColormap().At(ColormapSize / 2)
	p.Add(h)
	p.Add(plotter.NewGrid())
	return p, nil
}

// SaveDepthHistogram renders the depth histogram of dm to path. The image format follows the
// file extension (png, svg, pdf, ...).
func SaveDepthHistogram(path string, dm *DepthMap, bins int) error {
	p, err := NewDepthHistogramPlot(dm, bins)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save depth histogram to %s", path)
	}
	return nil
}
