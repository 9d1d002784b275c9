// Package config defines the configuration of a pcdepth run and how it is read from disk.
package config

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/pointcloud"
	"go.viam.com/pcdepth/rimage"
	"go.viam.com/pcdepth/rimage/transform"
)

// Defaults applied to any key the config file leaves out.
const (
	DefaultMeanK           = 50
	DefaultStdDevMulThresh = 1.0
	DefaultRoundUp         = 1
	DefaultColormap        = "jet"
)

// Config describes one pcdepth run.
type Config struct {
	ConfigFilePath string `yaml:"-" json:"-"`

	Logger        logging.Config    `yaml:"logger" json:"logger"`
	DataManager   DataManagerConfig `yaml:"data_manager" json:"data_manager"`
	DataProcessor ProcessorConfig   `yaml:"data_processor" json:"data_processor"`
}

// Default returns a config holding every default. Input paths are left empty.
func Default() *Config {
	return &Config{
		Logger: logging.DefaultConfig(),
		DataProcessor: ProcessorConfig{
			Filter: FilterConfig{
				MeanK:           DefaultMeanK,
				StdDevMulThresh: DefaultStdDevMulThresh,
			},
			Projector: ProjectorConfig{
				RoundUp:  DefaultRoundUp,
				Colormap: DefaultColormap,
			},
		},
	}
}

// Validate returns an error if the config is not usable.
func (config *Config) Validate() error {
	if err := config.DataManager.Validate("data_manager"); err != nil {
		return err
	}
	return config.DataProcessor.Validate("data_processor")
}

// InputPath holds the files a run reads.
type InputPath struct {
	Data3D string `yaml:"3d_data" json:"3d_data"`
}

// OutputPath holds the files a run writes. An empty path disables that output.
type OutputPath struct {
	DepthMap       string `yaml:"2d_depth_map" json:"2d_depth_map"`
	HeatMap        string `yaml:"2d_heat_map" json:"2d_heat_map"`
	FilteredData   string `yaml:"3d_filtered_data" json:"3d_filtered_data"`
	DepthHistogram string `yaml:"depth_histogram,omitempty" json:"depth_histogram,omitempty"`
}

// DataManagerConfig configures where point clouds and maps are read from and written to.
type DataManagerConfig struct {
	InputPath  InputPath  `yaml:"input_path" json:"input_path"`
	OutputPath OutputPath `yaml:"output_path" json:"output_path"`
	PCDFormat  string     `yaml:"pcd_format,omitempty" json:"pcd_format,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *DataManagerConfig) Validate(path string) error {
	if config.InputPath.Data3D == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "input_path.3d_data")
	}
	if _, err := pointcloud.PCDTypeFromString(config.PCDFormat); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// PCDType returns the configured pcd encoding, ascii when unset.
func (config *DataManagerConfig) PCDType() pointcloud.PCDType {
	pcdType, err := pointcloud.PCDTypeFromString(config.PCDFormat)
	if err != nil {
		return pointcloud.PCDAscii
	}
	return pcdType
}

// FilterConfig configures statistical outlier removal. A nonpositive value disables filtering.
type FilterConfig struct {
	MeanK           int     `yaml:"mean_k" json:"mean_k"`
	StdDevMulThresh float64 `yaml:"std_dev_mul_thresh" json:"std_dev_mul_thresh"`
}

// Enabled returns whether the filter should run.
func (config FilterConfig) Enabled() bool {
	return config.MeanK > 0 && config.StdDevMulThresh > 0
}

// ProjectorConfig configures the camera and the maps built from it.
type ProjectorConfig struct {
	Intrinsic      transform.MatrixConfig `yaml:"intrinsic" json:"intrinsic"`
	Extrinsic      transform.MatrixConfig `yaml:"extrinsic" json:"extrinsic"`
	RoundUp        int                    `yaml:"round_up" json:"round_up"`
	Colormap       string                 `yaml:"colormap,omitempty" json:"colormap,omitempty"`
	SaveDegenerate bool                   `yaml:"save_degenerate,omitempty" json:"save_degenerate,omitempty"`
}

// ProcessorConfig configures filtering and projection.
type ProcessorConfig struct {
	Filter    FilterConfig    `yaml:"filter" json:"filter"`
	Projector ProjectorConfig `yaml:"projector" json:"projector"`
}

// Validate ensures all parts of the config are valid.
func (config *ProcessorConfig) Validate(path string) error {
	projPath := path + ".projector"
	if len(config.Projector.Intrinsic.Data) == 0 {
		return utils.NewConfigValidationFieldRequiredError(projPath, "intrinsic")
	}
	if len(config.Projector.Extrinsic.Data) == 0 {
		return utils.NewConfigValidationFieldRequiredError(projPath, "extrinsic")
	}
	if _, err := transform.NewCameraModel(config.Projector.Intrinsic, config.Projector.Extrinsic); err != nil {
		return utils.NewConfigValidationError(projPath, err)
	}
	if config.Projector.RoundUp <= 0 {
		return utils.NewConfigValidationError(projPath,
			errors.Errorf("round_up must be positive, got %d", config.Projector.RoundUp))
	}
	if _, err := rimage.ColormapByName(config.Projector.Colormap); err != nil {
		return utils.NewConfigValidationError(projPath, err)
	}
	return nil
}
