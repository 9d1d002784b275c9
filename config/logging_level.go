package config

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go.viam.com/pcdepth/logging"
)

var globalLogger struct {
	// Set once at startup.
	logger           logging.Logger
	cmdLineDebugFlag bool

	mu                  sync.Mutex
	fileConfigDebugFlag bool
}

// InitLoggingSettings initializes the global logging settings.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	globalLogger.logger = logger
	globalLogger.cmdLineDebugFlag = cmdLineDebugFlag
	globalLogger.fileConfigDebugFlag = false
	if cmdLineDebugFlag {
		logging.GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	} else {
		logging.GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	}
	globalLogger.logger.Info("Log level initialized: ", logging.GlobalLogLevel.Level())
}

// UpdateFileConfigDebug is used to update the debug flag whenever a config file is read.
func UpdateFileConfigDebug(cfg logging.Config) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	globalLogger.fileConfigDebugFlag = strings.EqualFold(strings.TrimSpace(cfg.Level), "debug")
	refreshLogLevelInLock()
}

func refreshLogLevelInLock() {
	var newLevel zapcore.Level
	if globalLogger.cmdLineDebugFlag || globalLogger.fileConfigDebugFlag {
		newLevel = zap.DebugLevel
	} else {
		newLevel = zap.InfoLevel
	}

	if logging.GlobalLogLevel.Level() == newLevel {
		return
	}
	if globalLogger.logger != nil {
		globalLogger.logger.Info("New log level: ", newLevel)
	}
	logging.GlobalLogLevel.SetLevel(newLevel)
}
