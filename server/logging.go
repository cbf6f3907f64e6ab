package main

import (
	"io"
	"os"
	"time"

	"camera-dashboard/config"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// initLogger support:
// - format: empty (autodetect color support), color, json, text
// - level:  disabled, trace, debug, info, warn, error...
func initLogger(cfg config.Log, out *os.File) {
	var writer io.Writer = out

	if cfg.Format != "json" {
		console := &zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}

		switch cfg.Format {
		case "text":
			console.NoColor = true
		case "color":
			console.NoColor = false
		default:
			console.NoColor = !isatty.IsTerminal(out.Fd())
		}

		writer = console
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(writer).Level(lvl).With().Timestamp().Logger()

	if err != nil {
		log.Warn().Err(err).Msg("[app] log level")
	}
}

// requestLogger replaces gin's default logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()

		event := log.Debug()
		switch {
		case status >= 500:
			event = log.Warn()
		case status >= 400:
			event = log.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("[api] request")
	}
}
