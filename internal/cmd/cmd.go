package cmd

import (
	"log/slog"
	"os"

	"k8s.io/klog/v2"
)

// setupLogging installs a text slog handler on stderr as the default
// logger and routes client-go's klog output through it.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	klog.SetSlogLogger(logger)
}
