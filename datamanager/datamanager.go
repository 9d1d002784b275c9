// Package datamanager reads point clouds and writes the clouds and maps produced from them to
// the paths named in the config.
package datamanager

import (
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/pcdepth/config"
	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/pointcloud"
	"go.viam.com/pcdepth/rimage"
)

// Manager owns the input and output paths of a run. An output whose path is empty is skipped
// with a warning.
type Manager struct {
	logger    logging.Logger
	input     string
	output    config.OutputPath
	pcdType   pointcloud.PCDType
	histBins  int
	saveCloud bool
	saveDepth bool
	saveHeat  bool
	saveHist  bool
}

// New returns a Manager for the given config.
func New(cfg config.DataManagerConfig, logger logging.Logger) *Manager {
	return &Manager{
		logger:    logger,
		input:     cfg.InputPath.Data3D,
		output:    cfg.OutputPath,
		pcdType:   cfg.PCDType(),
		histBins:  rimage.DefaultHistogramBins,
		saveCloud: cfg.OutputPath.FilteredData != "",
		saveDepth: cfg.OutputPath.DepthMap != "",
		saveHeat:  cfg.OutputPath.HeatMap != "",
		saveHist:  cfg.OutputPath.DepthHistogram != "",
	}
}

// InputPath returns the point cloud file the manager reads.
func (m *Manager) InputPath() string {
	return m.input
}

// ReadPointCloud reads the input point cloud. The format is chosen by file extension.
func (m *Manager) ReadPointCloud() (pointcloud.PointCloud, error) {
	pc, err := pointcloud.NewFromFile(m.input, m.logger)
	if err != nil {
		m.logger.Errorw("point cloud can not read", "path", m.input, "error", err)
		return nil, errors.Wrapf(err, "cannot read point cloud %q", m.input)
	}
	m.logger.Infow("read point cloud", "path", m.input, "points", pc.Size())
	return pc, nil
}

// SavePointCloud writes the (filtered) cloud when an output path is configured.
func (m *Manager) SavePointCloud(pc pointcloud.PointCloud) error {
	if !m.saveCloud {
		m.logger.Warn("No path specified : do not save (filtered) pcd")
		return nil
	}
	return m.save("(filtered) pcd", m.output.FilteredData, func(path string) error {
		return pointcloud.WriteToFile(pc, path, m.pcdType)
	})
}

// SaveDepthMap writes the depth map when an output path is configured. A .tif(f) path gets
// 32-bit float samples and a .png path gets 16-bit gray samples.
func (m *Manager) SaveDepthMap(dm *rimage.DepthMap) error {
	if !m.saveDepth {
		m.logger.Warn("No path specified : do not save depth map")
		return nil
	}
	return m.save("depth map", m.output.DepthMap, func(path string) error {
		return rimage.WriteDepthMapToFile(path, dm)
	})
}

// SaveHeatMap writes the heat map when an output path is configured.
func (m *Manager) SaveHeatMap(img image.Image) error {
	if !m.saveHeat {
		m.logger.Warn("No path specified : do not save heat map")
		return nil
	}
	return m.save("heat map", m.output.HeatMap, func(path string) error {
		return rimage.WriteImageToFile(path, img)
	})
}

// SaveDepthHistogram plots the nonzero depths when an output path is configured. Unlike the
// other outputs, a missing path is not worth a warning.
func (m *Manager) SaveDepthHistogram(dm *rimage.DepthMap) error {
	if !m.saveHist {
		m.logger.Debug("no depth histogram path, skipping")
		return nil
	}
	return m.save("depth histogram", m.output.DepthHistogram, func(path string) error {
		return rimage.SaveDepthHistogram(path, dm, m.histBins)
	})
}

func (m *Manager) save(what, path string, write func(path string) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.logger.Errorw(what+" can not save", "path", path, "error", err)
			return errors.Wrapf(err, "cannot create output directory for %s", what)
		}
	}
	if err := write(path); err != nil {
		m.logger.Errorw(what+" can not save", "path", path, "error", err)
		return errors.Wrapf(err, "cannot save %s to %q", what, path)
	}
	m.logger.Infow("saved "+what, "path", path)
	return nil
}
