package transform

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdepth/rimage"
	"go.viam.com/pcdepth/utils"
)

// MaxGridPixels bounds the number of pixels, width times height, of a map built by BuildMaps.
const MaxGridPixels = 1 << 26

// ProjectedPoint is a point on the image plane. U and V are continuous pixel coordinates and
// Depth is the z of the point in the camera frame.
type ProjectedPoint struct {
	U, V, Depth float64
}

// ProjectToPixels projects every point through the camera. The output is aligned with the
// input: result i belongs to points[i].
func ProjectToPixels(ctx context.Context, points []r3.Vector, cam *CameraModel) ([]ProjectedPoint, error) {
	if cam == nil {
		return nil, errors.New("no camera model given")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(points)
	if n == 0 {
		return []ProjectedPoint{}, nil
	}

	// (4 x N) homogeneous points
	homo := mat.NewDense(4, n, nil)
	for i, p := range points {
		homo.Set(0, i, p.X)
		homo.Set(1, i, p.Y)
		homo.Set(2, i, p.Z)
		homo.Set(3, i, 1)
	}
	// (3 x N) = (3 x 4) * (4 x N)
	var camFrame mat.Dense
	camFrame.Mul(cam.extrinsic, homo)
	// (3 x N) = (3 x 3) * (3 x N)
	var pixels mat.Dense
	pixels.Mul(cam.intrinsic, &camFrame)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projected := make([]ProjectedPoint, n)
	for i := range projected {
		w := pixels.At(2, i)
		if w == 0 {
			projected[i] = ProjectedPoint{U: -1, V: -1, Depth: camFrame.At(2, i)}
			continue
		}
		projected[i] = ProjectedPoint{
			U:     pixels.At(0, i) / w,
			V:     pixels.At(1, i) / w,
			Depth: camFrame.At(2, i),
		}
	}
	return projected, nil
}

// MapStatus says whether BuildMaps produced usable maps.
type MapStatus int

const (
	// MapsOK means the maps are complete.
	MapsOK MapStatus = iota
	// MapsDegenerate means the maps were built from unusable input and are partial.
	MapsDegenerate
)

func (s MapStatus) String() string {
	if s == MapsOK {
		return "ok"
	}
	return "degenerate"
}

// DegenerateReason explains why maps could not be fully built.
type DegenerateReason string

const (
	// ReasonNoPoints means there was nothing to project.
	ReasonNoPoints DegenerateReason = "no projected points"
	// ReasonEmptyGrid means every point falls left of or above the image.
	ReasonEmptyGrid DegenerateReason = "image grid has no pixels"
	// ReasonGridTooLarge means the points spread over more than MaxGridPixels pixels.
	ReasonGridTooLarge DegenerateReason = "image grid is too large"
	// ReasonNoValidDepth means every point lies behind the camera.
	ReasonNoValidDepth DegenerateReason = "no point has a nonnegative depth"
	// ReasonFlatDepthRange means all depths are equal, so there is no range to color over.
	ReasonFlatDepthRange DegenerateReason = "depth range is empty"
)

// DegenerateMapError is returned by BuildMaps for input that cannot give a meaningful map.
// When Partial is set, the maps built so far are returned alongside the error.
type DegenerateMapError struct {
	Reason  DegenerateReason
	Partial bool
}

func (e *DegenerateMapError) Error() string {
	if e.Partial {
		return fmt.Sprintf("degenerate depth map (%s), returning partial maps", e.Reason)
	}
	return fmt.Sprintf("degenerate depth map (%s)", e.Reason)
}

// IsDegenerate returns the DegenerateMapError wrapped in err, if any.
func IsDegenerate(err error) (*DegenerateMapError, bool) {
	var degenerate *DegenerateMapError
	if errors.As(err, &degenerate) {
		return degenerate, true
	}
	return nil, false
}

// Maps is the rasterized result of a projection.
type Maps struct {
	Depth  *rimage.DepthMap
	Heat   *image.RGBA
	Status MapStatus

	// MinUVD and MaxUVD are the componentwise extremes over every projected point,
	// valid or not.
	MinUVD, MaxUVD ProjectedPoint
}

// Width returns the map width in pixels.
func (m *Maps) Width() int {
	return m.Depth.Width()
}

// Height returns the map height in pixels.
func (m *Maps) Height() int {
	return m.Depth.Height()
}

// gridSize returns trunc(max)+1 rounded up to a multiple of roundUp.
func gridSize(max float64, roundUp int) int {
	switch {
	case max <= -1 || math.IsNaN(max):
		return 0
	case max >= MaxGridPixels:
		return MaxGridPixels + 1
	}
	extent := int(math.Trunc(max)) + 1
	return ((extent + roundUp - 1) / roundUp) * roundUp
}

func uvdExtremes(projected []ProjectedPoint) (ProjectedPoint, ProjectedPoint) {
	inf := math.Inf(1)
	min := ProjectedPoint{inf, inf, inf}
	max := ProjectedPoint{-inf, -inf, -inf}
	extend := func(lo, hi *float64, v float64) {
		if math.IsNaN(v) {
			return
		}
		*lo, *hi = math.Min(*lo, v), math.Max(*hi, v)
	}
	for _, p := range projected {
		extend(&min.U, &max.U, p.U)
		extend(&min.V, &max.V, p.V)
		extend(&min.Depth, &max.Depth, p.Depth)
	}
	return min, max
}

// pixelDepths is a sparse depth buffer keyed by row-major pixel index.
type pixelDepths map[int]float64

func (pd pixelDepths) keepFarthest(key int, d float64) {
	if cur, ok := pd[key]; !ok || d > cur {
		pd[key] = d
	}
}

// BuildMaps rasterizes projected points into a depth map and a colored heat map.
//
// The grid is sized by the largest truncated u and v, rounded up to a multiple of roundUp.
// A point lands on pixel (trunc(u), trunc(v)) when both are nonnegative and its depth is
// nonnegative. When several points land on one pixel the largest depth is kept. Pixels with a
// positive depth are colored by where the depth falls within the range of all projected depths.
//
// Empty input or an empty grid give no maps. An input with no valid depth, or with every depth
// equal, gives partial maps along with a *DegenerateMapError.
func BuildMaps(ctx context.Context, projected []ProjectedPoint, roundUp int, cmap *rimage.Colormap) (*Maps, error) {
	if roundUp <= 0 {
		return nil, errors.Errorf("round up must be positive, got %d", roundUp)
	}
	if cmap == nil {
		cmap = rimage.JetColormap()
	}
	if len(projected) == 0 {
		return nil, &DegenerateMapError{Reason: ReasonNoPoints}
	}

	minUVD, maxUVD := uvdExtremes(projected)
	width, height := gridSize(maxUVD.U, roundUp), gridSize(maxUVD.V, roundUp)
	if width <= 0 || height <= 0 {
		return nil, &DegenerateMapError{Reason: ReasonEmptyGrid}
	}
	if int64(width)*int64(height) > MaxGridPixels {
		return nil, &DegenerateMapError{Reason: ReasonGridTooLarge}
	}

	depths, err := reduceDepths(ctx, projected, width)
	if err != nil {
		return nil, err
	}

	maps := &Maps{
		Depth:  rimage.NewEmptyDepthMap(width, height),
		Heat:   image.NewRGBA(image.Rect(0, 0, width, height)),
		Status: MapsOK,
		MinUVD: minUVD,
		MaxUVD: maxUVD,
	}
	for key, d := range depths {
		maps.Depth.Set(key%width, key/width, d)
	}

	var degenerate *DegenerateMapError
	switch {
	case maxUVD.Depth < 0:
		degenerate = &DegenerateMapError{Reason: ReasonNoValidDepth, Partial: true}
	case maxUVD.Depth == minUVD.Depth:
		degenerate = &DegenerateMapError{Reason: ReasonFlatDepthRange, Partial: true}
	}

	background := rimage.Black.ToRGBA()
	span := maxUVD.Depth - minUVD.Depth
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		d := maps.Depth.GetDepth(x, y)
		if d <= 0 || degenerate != nil {
			maps.Heat.SetRGBA(x, y, background)
			return
		}
		maps.Heat.SetRGBA(x, y, cmap.At(colorIndex(d, minUVD.Depth, span)))
	})

	if degenerate != nil {
		maps.Status = MapsDegenerate
		return maps, degenerate
	}
	return maps, ctx.Err()
}

// colorIndex is floor(255 * (d - min) / span), clamped to the colormap.
func colorIndex(d, min, span float64) int {
	idx := int(math.Floor(float64(rimage.ColormapSize-1) * (d - min) / span))
	if idx < 0 {
		return 0
	}
	if idx >= rimage.ColormapSize {
		return rimage.ColormapSize - 1
	}
	return idx
}

// reduceDepths splits the points into groups, keeps the farthest depth per pixel within each
// group and then merges the groups the same way.
func reduceDepths(ctx context.Context, projected []ProjectedPoint, width int) (pixelDepths, error) {
	merged := pixelDepths{}
	var mergeMu sync.Mutex
	err := utils.GroupWorkParallel(
		ctx,
		len(projected),
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			local := make(pixelDepths, groupSize)
			return func(memberNum, workNum int) {
					p := projected[workNum]
					u, v := math.Trunc(p.U), math.Trunc(p.V)
					// NaN fails every comparison and is dropped here
					if !(u >= 0 && v >= 0 && p.Depth >= 0) {
						return
					}
					local.keepFarthest(int(v)*width+int(u), p.Depth)
				}, func() {
					mergeMu.Lock()
					defer mergeMu.Unlock()
					for key, d := range local {
						merged.keepFarthest(key, d)
					}
				}
		},
	)
	if err != nil {
		return nil, err
	}
	return merged, nil
}
