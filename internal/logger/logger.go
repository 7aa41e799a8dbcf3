// Package logger holds the process-wide logrus instance. Services log
// through logger.Log directly; InitLogger reshapes it once at startup
// from config, so anything logged before that uses logrus defaults.
package logger

import (
	"io"
	"os"

	"custody-node/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the shared logger. Usable before InitLogger runs.
var Log = logrus.New()

// InitLogger applies level, format and output from config. With a file
// path set, output goes to both stdout and a size-rotated file; rotation
// limits come from the same config block.
func InitLogger(cfg config.LoggerConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	Log.SetLevel(level)

	switch cfg.Format {
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.FilePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		Log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	} else {
		Log.SetOutput(os.Stdout)
	}

	return nil
}
