package pointcloud

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// StatisticalOutlierFilter returns a function that removes noise from a point cloud.
// For every point, the mean distance to its meanK nearest neighbors (the point itself counts as
// one of them) is computed. Points whose mean distance exceeds the cloud wide average by more
// than stdDevMulThresh sample standard deviations are dropped. The relative order of the
// remaining points is preserved.
func StatisticalOutlierFilter(meanK int, stdDevMulThresh float64) (func(PointCloud) (PointCloud, error), error) {
	if meanK <= 0 {
		return nil, errors.Errorf("argument meanK must be a positive int, got %d", meanK)
	}
	if stdDevMulThresh <= 0.0 {
		return nil, errors.Errorf("argument stdDevMulThresh must be a positive float, got %.2f", stdDevMulThresh)
	}

	filterFunc := func(pc PointCloud) (PointCloud, error) {
		kd := NewKDTree(pc)
		if kd.Size() == 0 {
			return New(), nil
		}

		meanDistances := make([]float64, kd.Size())
		for i := 0; i < kd.Size(); i++ {
			neighbors := kd.KNearestNeighbors(kd.PointAt(i).P, meanK)
			sum := 0.0
			for _, neighbor := range neighbors {
				sum += neighbor.Distance
			}
			meanDistances[i] = sum / float64(len(neighbors))
		}

		threshold, err := outlierThreshold(meanDistances, stdDevMulThresh)
		if err != nil {
			return nil, err
		}

		filtered := NewWithPrealloc(kd.Size())
		for i, dist := range meanDistances {
			if dist > threshold {
				continue
			}
			pd := kd.PointAt(i)
			if err := filtered.Set(pd.P, pd.D); err != nil {
				return nil, err
			}
		}
		return filtered, nil
	}
	return filterFunc, nil
}

func outlierThreshold(meanDistances []float64, stdDevMulThresh float64) (float64, error) {
	mean, err := stats.Mean(meanDistances)
	if err != nil {
		return 0, errors.Wrap(err, "cannot average neighbor distances")
	}
	if len(meanDistances) < 2 {
		return mean, nil
	}
	stdDev, err := stats.StandardDeviationSample(meanDistances)
	if err != nil {
		return 0, errors.Wrap(err, "cannot compute spread of neighbor distances")
	}
	return mean + stdDevMulThresh*stdDev, nil
}
