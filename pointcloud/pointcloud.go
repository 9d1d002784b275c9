// Package pointcloud defines a point cloud and provides an implementation for one.
//
// Points are keyed by position: setting a point that already exists replaces its data.
// Iteration order is insertion order.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData creates a new MetaData whose bounds are empty.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MinZ: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
		MaxZ: math.Inf(-1),
	}
}

// Merge updates the metadata with a newly added point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil && data.HasColor() {
		meta.HasColor = true
	}

	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// PointCloud is a general purpose container of points. It does not
// dictate whether or not the cloud is sparse or dense.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// CloudContains is a silly helper method.
func CloudContains(cloud PointCloud, x, y, z float64) bool {
	_, got := cloud.At(x, y, z)
	return got
}

// CloudToVectors returns the positions of all points in iteration order.
func CloudToVectors(cloud PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}

// CloudCentroid returns the centroid of a pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		sum = sum.Add(p)
		return true
	})
	n := float64(pc.Size())
	return r3.Vector{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}
}
