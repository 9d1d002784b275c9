package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/pcdepth/config"
	"go.viam.com/pcdepth/datamanager"
	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/pointcloud"
	"go.viam.com/pcdepth/rimage"
	"go.viam.com/pcdepth/rimage/transform"
)

func unitCameraConfig() config.ProcessorConfig {
	return config.ProcessorConfig{
		Projector: config.ProjectorConfig{
			Intrinsic: transform.NewPinholeIntrinsics(1, 1, 0, 0),
			Extrinsic: transform.IdentityExtrinsics(),
			RoundUp:   1,
			Colormap:  "jet",
		},
	}
}

func cloudOf(t *testing.T, pts ...r3.Vector) pointcloud.PointCloud {
	t.Helper()
	pc, err := pointcloud.NewFromVectors(pts)
	test.That(t, err, test.ShouldBeNil)
	return pc
}

func TestNew(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)

	p, err := New(unitCameraConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Camera(), test.ShouldNotBeNil)
	test.That(t, logs.FilterMessage("camera intrinsic").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("camera extrinsic").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("camera matrix").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("statistical outlier filter disabled").Len(), test.ShouldEqual, 1)

	bad := unitCameraConfig()
	bad.Projector.Extrinsic = transform.MatrixConfig{Rows: 4, Cols: 4, Data: make([]float64, 16)}
	_, err = New(bad, logger)
	test.That(t, transform.IsShapeError(err), test.ShouldBeTrue)

	bad = unitCameraConfig()
	bad.Projector.Colormap = "nope"
	_, err = New(bad, logger)
	test.That(t, err, test.ShouldNotBeNil)

	bad = unitCameraConfig()
	bad.Projector.RoundUp = 0
	_, err = New(bad, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFilter(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pts := []r3.Vector{}
	for x := 0.0; x < 5; x++ {
		for y := 0.0; y < 5; y++ {
			pts = append(pts, r3.Vector{X: x, Y: y, Z: 10})
		}
	}
	pc := cloudOf(t, append(pts, r3.Vector{X: 100, Y: 100, Z: 100})...)

	cfg := unitCameraConfig()
	p, err := New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	same, err := p.Filter(pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same.Size(), test.ShouldEqual, 26)

	cfg.Filter = config.FilterConfig{MeanK: 5, StdDevMulThresh: 1}
	p, err = New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	filtered, err := p.Filter(pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldEqual, 25)
	test.That(t, pointcloud.CloudContains(filtered, 100, 100, 100), test.ShouldBeFalse)
}

func TestProjectedDepth(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	p, err := New(unitCameraConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// (0, 0, 5) lands on pixel (0, 0) and (7, 7, 7) on pixel (1, 1)
	maps, err := p.ProjectedDepth(context.Background(), cloudOf(t,
		r3.Vector{X: 0, Y: 0, Z: 5},
		r3.Vector{X: 7, Y: 7, Z: 7},
	))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maps.Status, test.ShouldEqual, transform.MapsOK)
	test.That(t, maps.Depth.Rows(), test.ShouldResemble, [][]float64{{5, 0}, {0, 7}})
	cmap := rimage.JetColormap()
	test.That(t, maps.Heat.RGBAAt(0, 0), test.ShouldResemble, cmap.At(0))
	test.That(t, maps.Heat.RGBAAt(1, 1), test.ShouldResemble, cmap.At(255))
	test.That(t, maps.Heat.RGBAAt(1, 0), test.ShouldResemble, rimage.Black.ToRGBA())

	test.That(t, logs.FilterMessage("projected image info").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("created depth map").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("created heat map").Len(), test.ShouldEqual, 1)

	_, err = p.ProjectedDepth(context.Background(), cloudOf(t))
	degenerate, ok := transform.IsDegenerate(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, degenerate.Reason, test.ShouldEqual, transform.ReasonNoPoints)
	test.That(t, logs.FilterMessage("invalid value of map width or height or depth").Len(), test.ShouldEqual, 1)
}

type runFixture struct {
	dir     string
	dmCfg   config.DataManagerConfig
	manager *datamanager.Manager
}

func newRunFixture(t *testing.T, logger logging.Logger, pts ...r3.Vector) runFixture {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcd")
	test.That(t, pointcloud.WriteToFile(cloudOf(t, pts...), input, pointcloud.PCDAscii), test.ShouldBeNil)

	dmCfg := config.DataManagerConfig{
		InputPath: config.InputPath{Data3D: input},
		OutputPath: config.OutputPath{
			DepthMap:       filepath.Join(dir, "out", "depth.tiff"),
			HeatMap:        filepath.Join(dir, "out", "heat.png"),
			FilteredData:   filepath.Join(dir, "out", "filtered.pcd"),
			DepthHistogram: filepath.Join(dir, "out", "hist.png"),
		},
	}
	return runFixture{dir: dir, dmCfg: dmCfg, manager: datamanager.New(dmCfg, logger)}
}

func TestRun(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fix := newRunFixture(t, logger,
		r3.Vector{X: 0, Y: 0, Z: 5},
		r3.Vector{X: 7, Y: 7, Z: 7},
		r3.Vector{X: 5, Y: 0, Z: 5},
	)

	cfg := unitCameraConfig()
	cfg.Projector.RoundUp = 4
	p, err := New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Run(context.Background(), fix.manager), test.ShouldBeNil)

	depth, err := rimage.ReadDepthMapFromFile(fix.dmCfg.OutputPath.DepthMap)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Width(), test.ShouldEqual, 4)
	test.That(t, depth.Height(), test.ShouldEqual, 4)
	test.That(t, depth.GetDepth(0, 0), test.ShouldEqual, 5)
	test.That(t, depth.GetDepth(1, 0), test.ShouldEqual, 5)
	test.That(t, depth.GetDepth(1, 1), test.ShouldEqual, 7)

	heat, err := rimage.ReadImageFromFile(fix.dmCfg.OutputPath.HeatMap)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, heat.Bounds().Dx(), test.ShouldEqual, 4)

	filtered, err := pointcloud.NewFromFile(fix.dmCfg.OutputPath.FilteredData, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldEqual, 3)

	_, err = os.Stat(fix.dmCfg.OutputPath.DepthHistogram)
	test.That(t, err, test.ShouldBeNil)
}

func TestRunDegenerate(t *testing.T) {
	flat := []r3.Vector{{X: 0, Y: 0, Z: 5}, {X: 5, Y: 5, Z: 5}}

	t.Run("partial maps skipped", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		fix := newRunFixture(t, logger, flat...)
		p, err := New(unitCameraConfig(), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Run(context.Background(), fix.manager), test.ShouldBeNil)

		_, err = os.Stat(fix.dmCfg.OutputPath.DepthMap)
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
		test.That(t, logs.FilterMessage("not saving degenerate maps").Len(), test.ShouldEqual, 1)
	})

	t.Run("partial maps saved", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		fix := newRunFixture(t, logger, flat...)
		cfg := unitCameraConfig()
		cfg.Projector.SaveDegenerate = true
		p, err := New(cfg, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Run(context.Background(), fix.manager), test.ShouldBeNil)

		depth, err := rimage.ReadDepthMapFromFile(fix.dmCfg.OutputPath.DepthMap)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, depth.Rows(), test.ShouldResemble, [][]float64{{5, 0}, {0, 5}})

		heat, err := rimage.ReadImageFromFile(fix.dmCfg.OutputPath.HeatMap)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rimage.NewColorFromColor(heat.At(1, 1)), test.ShouldResemble, rimage.Black)

		test.That(t, logs.FilterMessage("created degenerate maps").Len(), test.ShouldEqual, 1)
		test.That(t, logs.FilterMessage("created depth map").Len(), test.ShouldEqual, 0)
		test.That(t, logs.FilterMessage("created heat map").Len(), test.ShouldEqual, 0)
	})

	t.Run("no maps", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		fix := newRunFixture(t, logger, r3.Vector{X: -5, Y: -5, Z: 5})
		p, err := New(unitCameraConfig(), logger)
		test.That(t, err, test.ShouldBeNil)
		err = p.Run(context.Background(), fix.manager)
		degenerate, ok := transform.IsDegenerate(err)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, degenerate.Reason, test.ShouldEqual, transform.ReasonEmptyGrid)
	})

	t.Run("missing input", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		m := datamanager.New(config.DataManagerConfig{
			InputPath: config.InputPath{Data3D: filepath.Join(t.TempDir(), "nope.pcd")},
		}, logger)
		p, err := New(unitCameraConfig(), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Run(context.Background(), m), test.ShouldNotBeNil)
	})
}
