package config

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/pcdepth/logging"
)

// Read reads a config from the given file. Environment variables in the file are expanded
// before it is decoded.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", filePath)
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the
// file the reader originated from. Keys missing from the input keep their defaults.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", originalPath)
	}
	cfg, err := decodeConfig(buf, true)
	if unknown, ok := unknownFieldsOnly(err); ok {
		if logger != nil {
			logger.Warnw("ignoring unknown config keys", "path", originalPath, "keys", unknown)
		}
		cfg, err = decodeConfig(buf, false)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Errorf("config %q is empty", originalPath)
		}
		return nil, errors.Wrap(err, "cannot unmarshal config")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debugw("config loaded",
			"path", originalPath,
			"input", cfg.DataManager.InputPath.Data3D,
			"filter", cfg.DataProcessor.Filter.Enabled(),
			"colormap", cfg.DataProcessor.Projector.Colormap)
	}
	return cfg, nil
}

// decodeConfig decodes buf over the defaults. With strict set, keys that match no config field
// are an error.
func decodeConfig(buf []byte, strict bool) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(strict)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unknownFieldsOnly returns the decode messages of err when every one of them is about a key
// that matches no config field, such as an older config's viewer settings.
func unknownFieldsOnly(err error) ([]string, bool) {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) || len(typeErr.Errors) == 0 {
		return nil, false
	}
	for _, msg := range typeErr.Errors {
		if !strings.Contains(msg, "not found in type") {
			return nil, false
		}
	}
	return typeErr.Errors, true
}
