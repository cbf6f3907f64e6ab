package main

import "time"

// Dashboard modes
const (
	ModeLive       = "live"
	ModeStream     = "stream"
	ModeFrame      = "frame"
	ModeScreenshot = "screenshot"
	ModePlayer     = "player"
)

var modes = []string{ModeLive, ModeStream, ModeFrame, ModeScreenshot, ModePlayer}

const (
	// FrameBufferSize is the maximum number of encoded frames to buffer per stream
	FrameBufferSize = 30

	// ClientBufferSize is the maximum number of frames to buffer per client
	ClientBufferSize = 10

	// JPEGQuality for frames sent to websocket and MJPEG viewers
	JPEGQuality = 80

	// HealthCheckInterval is how often to check stream health
	HealthCheckInterval = 5 * time.Second

	// MaxStallDuration without frames before a stream is reported as stalled
	MaxStallDuration = 10 * time.Second

	// WebSocketPingInterval is how often to send ping messages to clients
	WebSocketPingInterval = 54 * time.Second

	// WebSocketReadDeadline is the deadline for reading WebSocket messages
	WebSocketReadDeadline = 60 * time.Second

	// WebSocketWriteDeadline is the deadline for writing WebSocket messages
	WebSocketWriteDeadline = 10 * time.Second

	// WebSocketReadLimit is the maximum message size for incoming WebSocket messages
	WebSocketReadLimit = 512

	// ShutdownTimeout bounds the HTTP server shutdown
	ShutdownTimeout = 5 * time.Second

	// OfferTimeout bounds ICE gathering for a WebRTC answer
	OfferTimeout = 10 * time.Second
)

// Stream states reported by the stats API
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStalled  = "stalled"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// Dashboard messages
const (
	MsgFillAllFields = "Please fill all fields"
	MsgNoSnapshot    = "No snapshot received"
)
