// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Mode is "development" for console output or "production" for JSON.
	Mode  string
	Level string
	// File, when set, also writes JSON logs to a rotated file.
	File   string
	Stdout io.Writer
}

// New builds the logger described by opts. The returned closer releases the
// rotated log file, if any, and should be called once the logger is done.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return nil, nil, errors.Wrapf(err, "parse log level %q", raw)
		}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	var encoder zapcore.Encoder
	if opts.Mode == "development" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(stdout), level)
	var closer io.Closer = nopCloser{}

	if file := strings.TrimSpace(opts.File); file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(rotated), level),
			core,
		)
		closer = rotated
	}

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Mode == "development" {
		zapOpts = append(zapOpts, zap.Development())
	}
	return zap.New(core, zapOpts...), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
