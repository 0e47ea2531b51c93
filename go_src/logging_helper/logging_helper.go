package logging_helper

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"histdata/go_src/configuration"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultRotationSizeMB = 2
	defaultMaxBackups     = 30
	timestampFormat       = "2006-01-02 15:04:05.000"
)

// LogFilePath returns the file an application logs to: {file_path}/{appName}/{appName}.log.
func LogFilePath(logConfig configuration.Logging, appName string) string {
	return filepath.Join(logConfig.FilePath, appName, appName+".log")
}

// SetupLogging points the package-level logrus logger at a rotating file,
// optionally mirrored to stdout. The returned closer releases the log file.
func SetupLogging(config *configuration.Config, appName string) (io.Closer, error) {
	if config == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if appName == "" {
		return nil, fmt.Errorf("appName cannot be empty")
	}
	logConfig := config.Logging

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	})

	level, errLevel := logrus.ParseLevel(strings.ToLower(logConfig.Level))
	if errLevel != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if logConfig.FilePath == "" {
		err := fmt.Errorf("log_path (config.Logging.FilePath) is not configured")
		logrus.Error(err.Error())
		return nil, err
	}
	logFile := LogFilePath(logConfig, appName)
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		err = fmt.Errorf("failed to create log directory '%s': %w", filepath.Dir(logFile), err)
		logrus.Error(err.Error())
		return nil, err
	}

	var warnings []string
	rotationSize := logConfig.RotationSize
	if rotationSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("logging.rotation_size is invalid (%d), defaulting to %dMB", rotationSize, defaultRotationSizeMB))
		rotationSize = defaultRotationSizeMB
	}
	maxBackups := logConfig.MaxBackups
	if maxBackups <= 0 {
		warnings = append(warnings, fmt.Sprintf("logging.max_backups is invalid (%d), defaulting to %d", maxBackups, defaultMaxBackups))
		maxBackups = defaultMaxBackups
	}

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    rotationSize,
		MaxBackups: maxBackups,
		MaxAge:     logConfig.MaxAgeDays,
		Compress:   true,
	}

	var writers []io.Writer
	if logConfig.ConsoleOutput {
		writers = append(writers, os.Stdout)
	}
	writers = append(writers, rotator)
	logrus.SetOutput(io.MultiWriter(writers...))

	for _, w := range warnings {
		logrus.Warn(w)
	}
	if errLevel != nil {
		logrus.Warnf("Invalid log level '%s' (from config) was overridden to 'info'. Error: %v", logConfig.Level, errLevel)
	}

	logrus.Infof("-------------------------------- Started %s application --------------------------------", appName)
	logrus.Infof("Logging configured: Level=%s, File=%s, ConsoleOutput=%t", logrus.GetLevel().String(), logFile, logConfig.ConsoleOutput)

	return rotator, nil
}
