package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/pointcloud"
	"go.viam.com/pcdepth/rimage"
)

const testConfig = `
logger:
  save_log: false
  print_log: false
  level: info
data_manager:
  input_path:
    3d_data: %[1]s/input.ply
  output_path:
    2d_depth_map: %[1]s/out/depth.tiff
    2d_heat_map: %[1]s/out/heat.png
    3d_filtered_data: %[1]s/out/filtered.pcd
data_processor:
  filter:
    mean_k: 3
    std_dev_mul_thresh: 1.0
  projector:
    intrinsic: {rows: 3, cols: 3, data: [2, 0, 0, 0, 2, 0, 0, 0, 1]}
    extrinsic: {rows: 3, cols: 4, data: [1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0]}
    round_up: 2
`

func TestMainWithArgs(t *testing.T) {
	dir := t.TempDir()
	pts := []r3.Vector{}
	for x := 0.0; x < 4; x++ {
		for y := 0.0; y < 4; y++ {
			pts = append(pts, r3.Vector{X: x, Y: y, Z: 4 + x})
		}
	}
	pc, err := pointcloud.NewFromVectors(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.WriteToFile(pc, filepath.Join(dir, "input.ply"), pointcloud.PCDAscii), test.ShouldBeNil)

	cfgPath := filepath.Join(dir, "config.yaml")
	test.That(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfig, dir)), 0o600), test.ShouldBeNil)

	logger := logging.NewTestLogger(t)
	err = mainWithArgs(context.Background(), []string{"pcdepth", "--config", cfgPath}, logger)
	test.That(t, err, test.ShouldBeNil)

	depth, err := rimage.ReadDepthMapFromFile(filepath.Join(dir, "out", "depth.tiff"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Width()%2, test.ShouldEqual, 0)
	test.That(t, depth.Height()%2, test.ShouldEqual, 0)
	test.That(t, depth.HasData(), test.ShouldBeTrue)
	lo, hi := depth.MinMax()
	test.That(t, lo, test.ShouldBeGreaterThanOrEqualTo, 4)
	test.That(t, hi, test.ShouldBeLessThanOrEqualTo, 7)

	_, err = os.Stat(filepath.Join(dir, "out", "heat.png"))
	test.That(t, err, test.ShouldBeNil)
	filtered, err := pointcloud.NewFromFile(filepath.Join(dir, "out", "filtered.pcd"), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldBeGreaterThan, 0)
	test.That(t, filtered.Size(), test.ShouldBeLessThanOrEqualTo, len(pts))
}

func TestMainWithArgsErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	defer logging.GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	ctx := context.Background()

	err := mainWithArgs(ctx, []string{"pcdepth", "--unknown"}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	err = mainWithArgs(ctx, []string{"pcdepth", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot read config file")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	dir := t.TempDir()
	test.That(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfig, dir)), 0o600), test.ShouldBeNil)
	err = mainWithArgs(ctx, []string{"pcdepth", "--config", cfgPath, "--debug"}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot read point cloud")
}
