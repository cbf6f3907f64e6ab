package main

import (
	"context"
	"html/template"
	"image"
	"sync"
	"time"

	"camera-dashboard/catalog"
	"camera-dashboard/config"
	"camera-dashboard/decoder"
	"camera-dashboard/live"
	"camera-dashboard/player"
	"camera-dashboard/snapshot"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-mjpeg"
	"github.com/pion/webrtc/v3"
)

// frameSource is the continuous decoder, replaceable in tests. Next hands
// back prev once decoding fails, Closed and Err tell why.
type frameSource interface {
	Next(prev image.Image) image.Image
	Closed() bool
	Err() error
	Close() error
}

type openFunc func(ctx context.Context, rtspURL string, opts decoder.Options) (frameSource, error)

func openDecoder(ctx context.Context, rtspURL string, opts decoder.Options) (frameSource, error) {
	src, err := decoder.Open(ctx, rtspURL, opts)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// StreamManager manages continuous camera streams with single ingest per camera
type StreamManager struct {
	streams     map[string]*Stream
	clients     map[string]map[string]*Client
	mu          sync.RWMutex
	clientIDGen int64

	opts decoder.Options
	open openFunc
}

// Stream is one decoder process with multiple consumers
type Stream struct {
	rtspURL        string
	streamID       string
	width          int
	height         int
	frameBuffer    chan []byte
	mjpeg          *mjpeg.Stream
	clients        map[string]*Client
	clientsMu      sync.RWMutex
	isRunning      bool
	status         string
	lastError      error
	cancelFunc     context.CancelFunc
	startedAt      time.Time
	lastFrameTime  time.Time
	lastFrame      []byte
	frameCount     int64
	mu             sync.RWMutex
	healthStopChan chan struct{}
	ready          chan struct{}
	done           chan struct{}
}

// Client represents a connected websocket viewer consuming a stream
type Client struct {
	id       string
	streamID string
	conn     *websocket.Conn
	send     chan []byte
	manager  *StreamManager
	closed   bool
	mu       sync.Mutex
}

// Dashboard serves the operator form and runs the per-camera actions
type Dashboard struct {
	cfg      *config.Config
	streams  *StreamManager
	fetcher  *snapshot.Fetcher
	catalog  *catalog.Catalog
	player   *player.Launcher
	sessions *sessionRegistry

	// grab is decoder.Grab, replaceable in tests
	grab func(ctx context.Context, rtspURL string, opts decoder.Options) (*image.RGBA, error)
	// answer is live.Publisher.Answer
	answer func(ctx context.Context, rtspURL string, offer webrtc.SessionDescription) (*live.Session, *webrtc.SessionDescription, error)
}

// Request is the submitted form
type Request struct {
	Username   string `form:"username"`
	Password   string `form:"password"`
	IPs        string `form:"ips"`
	Mode       string `form:"mode"`
	Channel    string `form:"channel"`
	Refresh    int    `form:"refresh"`
	Screenshot bool   `form:"screenshot"`
}

// CameraResult is what the page shows for one camera, in input order
type CameraResult struct {
	IP      string
	RTSP    string
	Mode    string
	Image   template.URL
	Caption string
	Error   string
	Warning string
	Info    string

	StreamID string
}
