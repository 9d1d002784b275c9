// Package processor filters point clouds and projects them into depth and heat maps.
package processor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdepth/config"
	"go.viam.com/pcdepth/datamanager"
	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/pointcloud"
	"go.viam.com/pcdepth/rimage"
	"go.viam.com/pcdepth/rimage/transform"
	"go.viam.com/pcdepth/utils"
)

// Processor turns a point cloud into maps using one camera.
type Processor struct {
	logger         logging.Logger
	cam            *transform.CameraModel
	filter         func(pointcloud.PointCloud) (pointcloud.PointCloud, error)
	roundUp        int
	cmap           *rimage.Colormap
	saveDegenerate bool
}

// New builds a Processor from the given config.
func New(cfg config.ProcessorConfig, logger logging.Logger) (*Processor, error) {
	cam, err := transform.NewCameraModel(cfg.Projector.Intrinsic, cfg.Projector.Extrinsic)
	if err != nil {
		return nil, err
	}
	cmap, err := rimage.ColormapByName(cfg.Projector.Colormap)
	if err != nil {
		return nil, err
	}
	if cfg.Projector.RoundUp <= 0 {
		return nil, errors.Errorf("round up must be positive, got %d", cfg.Projector.RoundUp)
	}

	p := &Processor{
		logger:         logger,
		cam:            cam,
		roundUp:        cfg.Projector.RoundUp,
		cmap:           cmap,
		saveDegenerate: cfg.Projector.SaveDegenerate,
	}
	if cfg.Filter.Enabled() {
		p.filter, err = pointcloud.StatisticalOutlierFilter(cfg.Filter.MeanK, cfg.Filter.StdDevMulThresh)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Infow("statistical outlier filter disabled",
			"mean_k", cfg.Filter.MeanK, "std_dev_mul_thresh", cfg.Filter.StdDevMulThresh)
	}

	p.debugMatrix("camera intrinsic", cam.Intrinsic())
	p.debugMatrix("camera extrinsic", cam.Extrinsic())
	p.debugMatrix("camera matrix", cam.CameraMatrix())
	return p, nil
}

func (p *Processor) debugMatrix(name string, m mat.Matrix) {
	rows, cols := m.Dims()
	p.logger.Debugw(name,
		"shape", fmt.Sprintf("%dx%d", rows, cols),
		"matrix", fmt.Sprintf("%v", mat.Formatted(m, mat.Squeeze())))
}

// Camera returns the camera model the processor projects through.
func (p *Processor) Camera() *transform.CameraModel {
	return p.cam
}

// Filter removes statistical outliers from pc. When filtering is disabled pc is returned as is.
func (p *Processor) Filter(pc pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	if p.filter == nil {
		return pc, nil
	}
	filtered, err := p.filter(pc)
	if err != nil {
		return nil, errors.Wrap(err, "statistical outlier removal failed")
	}
	p.logger.Infow("filtered point cloud", "before", pc.Size(), "after", filtered.Size())
	return filtered, nil
}

// ProjectedDepth projects pc through the camera and rasterizes it. Degenerate input is reported
// the same way as transform.BuildMaps reports it.
func (p *Processor) ProjectedDepth(ctx context.Context, pc pointcloud.PointCloud) (*transform.Maps, error) {
	projected, err := transform.ProjectToPixels(ctx, pointcloud.CloudToVectors(pc), p.cam)
	if err != nil {
		return nil, err
	}
	p.logger.Debugw("projected points", "count", len(projected))

	maps, err := transform.BuildMaps(ctx, projected, p.roundUp, p.cmap)
	if maps != nil {
		p.logger.Infow("projected image info",
			"max_uvd", []float64{maps.MaxUVD.U, maps.MaxUVD.V, maps.MaxUVD.Depth},
			"min_uvd", []float64{maps.MinUVD.U, maps.MinUVD.V, maps.MinUVD.Depth})
	}
	if err != nil {
		if degenerate, ok := transform.IsDegenerate(err); ok {
			p.logger.Errorw("invalid value of map width or height or depth",
				"reason", string(degenerate.Reason), "partial", degenerate.Partial)
			if maps != nil {
				p.logger.Warnw("created degenerate maps",
					"status", maps.Status.String(), "shape", []int{maps.Height(), maps.Width()})
			}
		}
		return maps, err
	}
	p.logger.Infow("created depth map", "shape", []int{maps.Height(), maps.Width()}, "status", maps.Status.String())
	p.logger.Infow("created heat map", "shape", []int{maps.Height(), maps.Width(), 3}, "status", maps.Status.String())
	return maps, nil
}

// Run reads the input cloud, filters it, saves the filtered cloud, then projects the filtered
// cloud and saves the resulting maps. Partial maps from degenerate input are only saved when
// configured to; either way they do not fail the run. Degenerate input that yields no maps does.
func (p *Processor) Run(ctx context.Context, manager *datamanager.Manager) error {
	pc, err := manager.ReadPointCloud()
	if err != nil {
		return err
	}
	filtered, err := p.Filter(pc)
	if err != nil {
		return err
	}
	if err := manager.SavePointCloud(filtered); err != nil {
		return err
	}

	maps, err := p.ProjectedDepth(ctx, filtered)
	if err != nil {
		degenerate, ok := transform.IsDegenerate(err)
		if !ok || !degenerate.Partial {
			return err
		}
		if !p.saveDegenerate {
			p.logger.Warnw("not saving degenerate maps", "reason", string(degenerate.Reason))
			return nil
		}
	}

	_, err = utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(context.Context) error { return manager.SaveDepthMap(maps.Depth) },
		func(context.Context) error { return manager.SaveHeatMap(maps.Heat) },
		func(context.Context) error { return p.saveHistogram(manager, maps) },
	})
	return err
}

func (p *Processor) saveHistogram(manager *datamanager.Manager, maps *transform.Maps) error {
	if maps.Status != transform.MapsOK {
		p.logger.Debug("degenerate depth map, skipping histogram")
		return nil
	}
	return manager.SaveDepthHistogram(maps.Depth)
}
