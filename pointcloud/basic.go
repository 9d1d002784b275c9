package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Float64s can only represent every integer exactly up to 2^53-1.
const (
	maxPreciseFloat64 = float64(9007199254740991)
	minPreciseFloat64 = float64(-9007199254740991)
)

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points indexed by position.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]int
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]int, size),
		meta:     NewMetaData(),
	}
}

// NewFromVectors builds a cloud from bare positions.
func NewFromVectors(pts []r3.Vector) (PointCloud, error) {
	pc := NewWithPrealloc(len(pts))
	for _, p := range pts {
		if err := pc.Set(p, NewBasicData()); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.points[idx].D, true
}

// Set validates that the point can be precisely stored before setting it in the cloud.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	if idx, ok := cloud.indexMap[p]; ok {
		cloud.points[idx].D = d
		if d != nil && d.HasColor() {
			cloud.meta.HasColor = true
		}
		return nil
	}
	cloud.indexMap[p] = len(cloud.points)
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = myBatch * batchSize
		to = from + batchSize
		if to > len(cloud.points) {
			to = len(cloud.points)
		}
	}
	for i := from; i < to; i++ {
		if !fn(cloud.points[i].P, cloud.points[i].D) {
			return
		}
	}
}

func validatePoint(p r3.Vector) error {
	if p.X > maxPreciseFloat64 || p.X < minPreciseFloat64 || math.IsNaN(p.X) {
		return errors.Errorf("x component (%v) is out of range [%v,%v]", p.X, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Y > maxPreciseFloat64 || p.Y < minPreciseFloat64 || math.IsNaN(p.Y) {
		return errors.Errorf("y component (%v) is out of range [%v,%v]", p.Y, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Z > maxPreciseFloat64 || p.Z < minPreciseFloat64 || math.IsNaN(p.Z) {
		return errors.Errorf("z component (%v) is out of range [%v,%v]", p.Z, minPreciseFloat64, maxPreciseFloat64)
	}
	return nil
}
