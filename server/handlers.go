package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"camera-dashboard/camera"
	"camera-dashboard/catalog"
	"camera-dashboard/decoder"
	"camera-dashboard/snapshot"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// getUpgrader returns a WebSocket upgrader configured to allow all origins
func getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// streamIDFor derives a stable stream ID from the camera URL
func streamIDFor(rtspURL string) string {
	hasher := md5.New()
	hasher.Write([]byte(rtspURL))
	return fmt.Sprintf("stream_%x", hasher.Sum(nil))[:16]
}

// handleWebSocket upgrades HTTP connection to WebSocket for real-time JPEG frames
func (sm *StreamManager) handleWebSocket(c *gin.Context) {
	streamID := c.Param("streamId")

	stream := sm.Get(streamID)
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	if !stream.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stream not running"})
		return
	}

	upgrader := getUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[ws] upgrade")
		return
	}

	if _, err = sm.AddClient(streamID, conn); err != nil {
		log.Debug().Err(err).Msg("[ws] add client")
		_ = conn.Close()
	}
}

// handleMJPEG serves the stream as multipart JPEG for plain <img> tags
func (sm *StreamManager) handleMJPEG(c *gin.Context) {
	stream := sm.Get(c.Param("streamId"))
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	stream.mjpeg.ServeHTTP(c.Writer, c.Request)
}

type startRequest struct {
	StreamID string `json:"stream_id"`
	RTSPURL  string `json:"rtsp_url" binding:"required"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// handleStartStream starts a new stream with the given ID
func (sm *StreamManager) handleStartStream(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.StreamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream_id is required"})
		return
	}
	if err := camera.CheckRTSP(req.RTSPURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := sm.StartStream(req.StreamID, req.RTSPURL, req.Width, req.Height); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sm.respondStarted(c, "Stream started successfully", req.StreamID)
}

// handleStartStreamWithURL starts a stream with an ID derived from the URL
func (sm *StreamManager) handleStartStreamWithURL(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := camera.CheckRTSP(req.RTSPURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	streamID := streamIDFor(req.RTSPURL)

	if sm.Get(streamID) != nil {
		sm.respondStarted(c, "Stream already running", streamID)
		return
	}

	if err := sm.StartStream(streamID, req.RTSPURL, req.Width, req.Height); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sm.respondStarted(c, "Stream started successfully", streamID)
}

func (sm *StreamManager) respondStarted(c *gin.Context, message, streamID string) {
	stream := sm.Get(streamID)
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   message,
		"stream_id": streamID,
		"rtsp_url":  stream.rtspURL,
		"width":     stream.width,
		"height":    stream.height,
	})
}

// handleStopStream stops a stream if no clients are connected
func (sm *StreamManager) handleStopStream(c *gin.Context) {
	streamID := c.Param("streamId")

	stream := sm.Get(streamID)
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	stream.clientsMu.RLock()
	clientCount := len(stream.clients)
	stream.clientsMu.RUnlock()

	if clientCount > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error":        fmt.Sprintf("Cannot stop stream %s: %d client(s) still connected", streamID, clientCount),
			"client_count": clientCount,
		})
		return
	}

	if err := sm.StopStream(streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Stream stopped successfully",
		"stream_id": streamID,
	})
}

// handleForceStopStream stops a stream regardless of connected clients
func (sm *StreamManager) handleForceStopStream(c *gin.Context) {
	streamID := c.Param("streamId")

	if err := sm.StopStream(streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Stream force-stopped successfully",
		"stream_id": streamID,
	})
}

func (sm *StreamManager) handleGetStreamStats(c *gin.Context) {
	stats, err := sm.GetStreamStats(c.Param("streamId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (sm *StreamManager) handleListStreams(c *gin.Context) {
	sm.mu.RLock()
	streams := make([]map[string]interface{}, 0, len(sm.streams))
	for _, stream := range sm.streams {
		streams = append(streams, stream.stats())
	}
	sm.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"streams": streams})
}

// handleGetFrame returns the latest JPEG frame of the stream
func (sm *StreamManager) handleGetFrame(c *gin.Context) {
	stream := sm.Get(c.Param("streamId"))
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	if !stream.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stream not running"})
		return
	}

	frame, ts := stream.LastFrame()
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.Header("X-Frame-Timestamp", strconv.FormatInt(ts.UnixNano(), 10))
	c.Data(http.StatusOK, "image/jpeg", frame)
}

type cameraRequest struct {
	IP       string `json:"ip" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Channel  string `json:"channel"`
}

// handleSnapshot fetches one still image and saves it like the dashboard does
func (d *Dashboard) handleSnapshot(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shot, err := d.fetcher.Fetch(c.Request.Context(), req.IP, req.Username, req.Password)
	if err != nil {
		status := http.StatusBadGateway
		var se *snapshot.StatusError
		if errors.As(err, &se) {
			c.JSON(status, gin.H{"error": err.Error(), "status_code": se.StatusCode})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	d.index(c.Request.Context(), shot)

	c.JSON(http.StatusOK, shot)
}

func (d *Dashboard) handleListSnapshots(c *gin.Context) {
	if d.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	var entries []catalog.Entry
	var err error
	if host := c.Query("host"); host != "" {
		entries, err = d.catalog.ForHost(c.Request.Context(), host, limit)
	} else {
		entries, err = d.catalog.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"snapshots": entries})
}

// handleFrame decodes a single frame from the camera and returns it as JPEG
func (d *Dashboard) handleFrame(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := d.channel(req.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rtspURL := camera.BuildRTSP(req.IP, req.Username, req.Password, channel)

	img, err := d.grab(c.Request.Context(), rtspURL, d.cfg.FFmpeg)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, decoder.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Frame-Timestamp", strconv.FormatInt(time.Now().UnixNano(), 10))
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (d *Dashboard) handleHealth(c *gin.Context) {
	d.streams.mu.RLock()
	streams := len(d.streams.streams)
	d.streams.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().Unix(),
		"streams":         streams,
		"webrtc_sessions": d.sessions.len(),
	})
}
