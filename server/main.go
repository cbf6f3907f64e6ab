package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"html/template"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"camera-dashboard/catalog"
	"camera-dashboard/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templates embed.FS

func main() {
	confPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		initLogger(config.Log{}, os.Stderr)
		log.Fatal().Err(err).Msg("[app] config")
	}

	initLogger(cfg.Log, os.Stderr)

	if err = exec.Command(cfg.FFmpeg.Bin, "-version").Run(); err != nil {
		log.Fatal().Err(err).Str("bin", cfg.FFmpeg.Bin).Msg("[app] ffmpeg is not installed or not in PATH")
	}

	var cat *catalog.Catalog
	if cfg.Snapshot.Catalog != "" {
		if cat, err = catalog.Open(cfg.Snapshot.Catalog); err != nil {
			log.Fatal().Err(err).Msg("[app] catalog")
		}
		defer cat.Close()
	}

	sm := NewStreamManager(cfg.FFmpeg)
	d := NewDashboard(cfg, sm, cat)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: setupRouter(d, sm),
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("[app] listen")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("[app] listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("[app] shutting down")

	d.Close()
	sm.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("[app] forced shutdown")
	}

	log.Info().Msg("[app] exited")
}

func setupRouter(d *Dashboard, sm *StreamManager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/", d.handleIndex)
	r.POST("/", d.handleSubmit)
	r.Static("/screenshots", d.fetcher.Dir)

	api := r.Group("/api")
	{
		api.GET("/snapshots", d.handleListSnapshots)
		api.POST("/snapshots", d.handleSnapshot)
		api.POST("/frame", d.handleFrame)
		api.POST("/webrtc", d.handleWebRTCOffer)
		api.DELETE("/webrtc/:sessionId", d.handleWebRTCClose)

		api.POST("/streams", sm.handleStartStream)
		api.POST("/streams/start-with-url", sm.handleStartStreamWithURL)
		api.DELETE("/streams/:streamId", sm.handleStopStream)
		api.DELETE("/streams/:streamId/force", sm.handleForceStopStream)
		api.GET("/streams", sm.handleListStreams)
		api.GET("/streams/:streamId/stats", sm.handleGetStreamStats)
		api.GET("/streams/:streamId/frame", sm.handleGetFrame)
	}

	r.GET("/ws/:streamId", sm.handleWebSocket)
	r.GET("/mjpeg/:streamId", sm.handleMJPEG)
	r.GET("/health", d.handleHealth)

	return r
}
