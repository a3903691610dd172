// Package common holds process-wide helpers shared by the guardian binaries.
package common

import (
	"io"
	"log/slog"
	"os"
)

const PackageName = "guardian-device-provisioning"

// Version is overridden at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"

// LoggingOpts controls the shape of the logger returned by SetupLogger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string

	// Output defaults to stderr so stdout stays usable for command output.
	Output io.Writer
}

// SetupLogger builds a slog logger tagged with service and version.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
