// Package transform projects 3D points onto a camera image plane and rasterizes them into
// depth and heat maps.
package transform

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MatrixConfig is a matrix in row-major order as it appears in configuration.
type MatrixConfig struct {
	Rows int       `json:"rows" yaml:"rows"`
	Cols int       `json:"cols" yaml:"cols"`
	Data []float64 `json:"data" yaml:"data"`
}

// Dense returns the matrix as a gonum matrix. Shape is not checked.
func (m MatrixConfig) Dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...))
}

// ConfigShapeError is returned when a configured matrix does not have the expected shape.
type ConfigShapeError struct {
	Name         string
	Rows, Cols   int
	DataLen      int
	ExpectedRows int
	ExpectedCols int
}

func (e *ConfigShapeError) Error() string {
	if e.DataLen != e.Rows*e.Cols {
		return fmt.Sprintf("%s matrix declares shape %dx%d but holds %d values",
			e.Name, e.Rows, e.Cols, e.DataLen)
	}
	return fmt.Sprintf("%s matrix must be %dx%d, got %dx%d",
		e.Name, e.ExpectedRows, e.ExpectedCols, e.Rows, e.Cols)
}

func checkShape(name string, m MatrixConfig, rows, cols int) error {
	if len(m.Data) != m.Rows*m.Cols || m.Rows != rows || m.Cols != cols {
		return &ConfigShapeError{
			Name:         name,
			Rows:         m.Rows,
			Cols:         m.Cols,
			DataLen:      len(m.Data),
			ExpectedRows: rows,
			ExpectedCols: cols,
		}
	}
	return nil
}

// CameraModel is a pinhole camera without lens distortion: a 3x3 intrinsic matrix and a 3x4
// extrinsic [R|t] that moves world points into the camera frame. It is immutable once built.
type CameraModel struct {
	intrinsic *mat.Dense
	extrinsic *mat.Dense
	camera    *mat.Dense
}

// NewCameraModel validates the matrix shapes and builds a camera model.
func NewCameraModel(intrinsic, extrinsic MatrixConfig) (*CameraModel, error) {
	if err := checkShape("intrinsic", intrinsic, 3, 3); err != nil {
		return nil, err
	}
	if err := checkShape("extrinsic", extrinsic, 3, 4); err != nil {
		return nil, err
	}
	cm := &CameraModel{
		intrinsic: intrinsic.Dense(),
		extrinsic: extrinsic.Dense(),
		camera:    mat.NewDense(3, 4, nil),
	}
	cm.camera.Mul(cm.intrinsic, cm.extrinsic)
	return cm, nil
}

// NewPinholeIntrinsics builds the intrinsic matrix
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]].
func NewPinholeIntrinsics(fx, fy, ppx, ppy float64) MatrixConfig {
	return MatrixConfig{Rows: 3, Cols: 3, Data: []float64{fx, 0, ppx, 0, fy, ppy, 0, 0, 1}}
}

// IdentityExtrinsics is a camera sitting at the world origin looking down +z.
func IdentityExtrinsics() MatrixConfig {
	return MatrixConfig{Rows: 3, Cols: 4, Data: []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}}
}

// Intrinsic returns a copy of the 3x3 intrinsic matrix.
func (cm *CameraModel) Intrinsic() *mat.Dense {
	return mat.DenseCopyOf(cm.intrinsic)
}

// Extrinsic returns a copy of the 3x4 extrinsic matrix.
func (cm *CameraModel) Extrinsic() *mat.Dense {
	return mat.DenseCopyOf(cm.extrinsic)
}

// CameraMatrix returns intrinsic x extrinsic, a 3x4 matrix.
func (cm *CameraModel) CameraMatrix() *mat.Dense {
	return mat.DenseCopyOf(cm.camera)
}

// PointToPixel projects a single point, returning pixel coordinates and camera frame depth.
// A point on the camera plane cannot be divided and lands on (-1, -1).
func (cm *CameraModel) PointToPixel(x, y, z float64) (float64, float64, float64) {
	homo := mat.NewVecDense(4, []float64{x, y, z, 1})
	var camFrame, pixel mat.VecDense
	camFrame.MulVec(cm.extrinsic, homo)
	pixel.MulVec(cm.intrinsic, &camFrame)
	w := pixel.AtVec(2)
	if w == 0 {
		return -1, -1, camFrame.AtVec(2)
	}
	return pixel.AtVec(0) / w, pixel.AtVec(1) / w, camFrame.AtVec(2)
}

// IsShapeError returns whether err is a ConfigShapeError.
func IsShapeError(err error) bool {
	var shapeErr *ConfigShapeError
	return errors.As(err, &shapeErr)
}
