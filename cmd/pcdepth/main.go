// Package main projects a point cloud into a depth map and a heat map.
package main

import (
	"context"

	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/pcdepth/config"
	"go.viam.com/pcdepth/datamanager"
	"go.viam.com/pcdepth/logging"
	"go.viam.com/pcdepth/processor"
)

var logger = logging.NewLogger("pcdepth")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=config file,default=./config.yaml"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	config.InitLoggingSettings(logger, argsParsed.Debug)

	cfg, err := config.Read(ctx, argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	config.UpdateFileConfigDebug(cfg.Logger)

	runLogger, closeLog, err := logging.NewLoggerFromConfig("pcdepth", cfg.Logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()
	if argsParsed.Debug {
		runLogger.SetLevel(logging.DEBUG)
	}

	manager := datamanager.New(cfg.DataManager, runLogger.Sublogger("manager"))
	proc, err := processor.New(cfg.DataProcessor, runLogger.Sublogger("processor"))
	if err != nil {
		return err
	}
	return proc.Run(ctx, manager)
}
