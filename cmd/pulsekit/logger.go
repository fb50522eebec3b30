package main

import (
	"io"
	"log/slog"

	"github.com/snowdamiz/pulsekit/internal/config"
)

func newLogger(w io.Writer, cfg config.ServerConfig) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("env", cfg.Env)
}
