// Package logging builds the process logger. Logging is opt-in: the CHAT_LOG
// environment variable selects a level (debug, info, warn, error), and when
// it is unset the process is silent.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvVar is the environment variable that enables logging.
const EnvVar = "CHAT_LOG"

// New builds a logger from the environment. With CHAT_LOG unset it returns
// a no-op logger.
func New() (*zap.Logger, error) {
	level := os.Getenv(EnvVar)
	if level == "" {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, errors.Wrapf(err, "invalid %s level %q", EnvVar, level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "error building logger")
	}

	return logger, nil
}
