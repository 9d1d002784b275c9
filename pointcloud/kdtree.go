package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint remembers where a point sat in its cloud, since building the tree reorders its
// backing slice.
type indexedPoint struct {
	r3.Vector
	idx int
}

// Compare returns the signed distance of p from the plane passing through c and
// perpendicular to the dimension d.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions to be considered.
func (p indexedPoint) Dims() int {
	return 3
}

// Distance returns the squared euclidean distance between p and c.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.Sub(q.Vector).Norm2()
}

type indexedPoints []indexedPoint

func (ps indexedPoints) Index(i int) kdtree.Comparable {
	return ps[i]
}

func (ps indexedPoints) Len() int {
	return len(ps)
}

func (ps indexedPoints) Pivot(d kdtree.Dim) int {
	return pointsPlane{indexedPoints: ps, Dim: d}.Pivot()
}

func (ps indexedPoints) Slice(start, end int) kdtree.Interface {
	return ps[start:end]
}

// pointsPlane is required to help points.
type pointsPlane struct {
	kdtree.Dim
	indexedPoints
}

func (p pointsPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	case 2:
		return p.indexedPoints[i].Z < p.indexedPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointsPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p pointsPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointsPlane{Dim: p.Dim, indexedPoints: p.indexedPoints[start:end]}
}

func (p pointsPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// KDTree is a static kd-tree over the positions of a point cloud.
type KDTree struct {
	tree   *kdtree.Tree
	points []PointAndData
}

// NeighborResult is a single neighbor found by a KDTree query.
type NeighborResult struct {
	// Index is the insertion index of the neighbor in the source cloud.
	Index    int
	Point    r3.Vector
	Distance float64
}

// NewKDTree builds a kd-tree from the points in the cloud.
func NewKDTree(cloud PointCloud) *KDTree {
	points := make([]PointAndData, 0, cloud.Size())
	ips := make(indexedPoints, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		ips = append(ips, indexedPoint{Vector: p, idx: len(points)})
		points = append(points, PointAndData{P: p, D: d})
		return true
	})
	kd := &KDTree{points: points}
	if len(ips) > 0 {
		kd.tree = kdtree.New(ips, false)
	}
	return kd
}

// Size returns the number of points in the tree.
func (kd *KDTree) Size() int {
	return len(kd.points)
}

// PointAt returns the point and data inserted at index i.
func (kd *KDTree) PointAt(i int) PointAndData {
	return kd.points[i]
}

// KNearestNeighbors returns up to k points closest to p, nearest first. When p is itself in the
// tree it is part of the result at distance 0.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []NeighborResult {
	if kd.tree == nil || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keep, indexedPoint{Vector: p, idx: -1})

	results := make([]NeighborResult, 0, len(keep.Heap))
	for _, found := range keep.Heap {
		// The keeper starts with an empty sentinel that is only displaced when k points exist.
		if found.Comparable == nil {
			continue
		}
		ip := found.Comparable.(indexedPoint)
		results = append(results, NeighborResult{Index: ip.idx, Point: ip.Vector, Distance: math.Sqrt(found.Dist)})
	}
	sortNeighbors(results)
	return results
}

func sortNeighbors(results []NeighborResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Index < results[j].Index
	})
}
