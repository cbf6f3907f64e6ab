package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"image/jpeg"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"camera-dashboard/camera"
	"camera-dashboard/catalog"
	"camera-dashboard/config"
	"camera-dashboard/decoder"
	"camera-dashboard/snapshot"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewDashboard wires the camera actions, cat may be nil
func NewDashboard(cfg *config.Config, streams *StreamManager, cat *catalog.Catalog) *Dashboard {
	dir := cfg.Snapshot.Dir
	if dir == "" {
		dir = snapshot.DefaultDir
	}

	return &Dashboard{
		cfg:     cfg,
		streams: streams,
		fetcher: &snapshot.Fetcher{
			Dir:     dir,
			Port:    cfg.Snapshot.Port,
			Timeout: cfg.Snapshot.Timeout,
		},
		catalog:  cat,
		player:   &cfg.Player.Launcher,
		sessions: newSessionRegistry(),
		grab:     decoder.Grab,
		answer:   cfg.Live.Publisher.Answer,
	}
}

type page struct {
	Request    Request
	Modes      []string
	Channels   []string
	Message    string
	Results    []CameraResult
	Refresh    int
	ICEServers []string
}

func (d *Dashboard) newPage(req Request) *page {
	if req.Mode == "" {
		req.Mode = ModeLive
	}
	if req.Channel == "" {
		req.Channel = d.cfg.Camera.Channel
	}
	if req.Refresh <= 0 {
		req.Refresh = int(d.cfg.Live.Refresh / time.Second)
	}
	return &page{
		Request:    req,
		Modes:      modes,
		Channels:   []string{camera.ChannelMain, camera.ChannelSub},
		ICEServers: d.cfg.Live.ICEServers,
	}
}

func (d *Dashboard) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", d.newPage(Request{}))
}

func (d *Dashboard) handleSubmit(c *gin.Context) {
	var req Request
	if err := c.ShouldBind(&req); err != nil {
		p := d.newPage(req)
		p.Message = err.Error()
		c.HTML(http.StatusBadRequest, "index.html", p)
		return
	}

	p := d.newPage(req)

	results, err := d.Process(c.Request.Context(), p.Request)
	if err != nil {
		p.Message = err.Error()
		c.HTML(http.StatusOK, "index.html", p)
		return
	}

	p.Results = results
	if p.Request.Mode == ModeFrame {
		p.Refresh = p.Request.Refresh
	}

	c.HTML(http.StatusOK, "index.html", p)
}

// errFillAllFields is shown instead of any result
var errFillAllFields = errors.New(MsgFillAllFields)

// Process handles every camera of the request one after another, in input
// order. A failing camera never stops the rest.
func (d *Dashboard) Process(ctx context.Context, req Request) ([]CameraResult, error) {
	if req.Username == "" || req.Password == "" || req.IPs == "" {
		return nil, errFillAllFields
	}

	channel, err := d.channel(req.Channel)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeLive
	}

	var handle func(ctx context.Context, req Request, res *CameraResult)
	switch mode {
	case ModeLive:
		handle = d.doLive
	case ModeStream:
		handle = d.doStream
	case ModeFrame:
		handle = d.doFrame
	case ModeScreenshot:
		handle = d.doScreenshot
	case ModePlayer:
		handle = d.doPlayer
	default:
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}

	ips := camera.NormalizeIPs(req.IPs)
	results := make([]CameraResult, 0, len(ips))

	for _, ip := range ips {
		target := camera.Target{Host: ip, Username: req.Username, Password: req.Password, Channel: channel}
		res := CameraResult{
			IP:   ip,
			RTSP: target.RTSP(),
			Mode: mode,
		}

		log.Debug().Str("ip", ip).Str("mode", mode).Msg("[dashboard] camera")

		handle(ctx, req, &res)
		results = append(results, res)
	}

	return results, nil
}

func (d *Dashboard) channel(s string) (string, error) {
	if s == "" {
		s = d.cfg.Camera.Channel
	}
	return camera.ParseChannel(s)
}

// doLive leaves the work to the browser, it posts its offer to /api/webrtc
func (d *Dashboard) doLive(_ context.Context, _ Request, res *CameraResult) {
	res.Info = "Connecting live view"
}

// doStream shares one decoder per camera. A failed or stopped stream is
// started again, then the first frame or the failure is awaited.
func (d *Dashboard) doStream(ctx context.Context, _ Request, res *CameraResult) {
	streamID := streamIDFor(res.RTSP)

	stream := d.streams.Get(streamID)
	if stream != nil {
		switch stream.Status() {
		case StatusFailed, StatusStopped:
			log.Debug().Str("stream", streamID).Err(stream.Err()).Msg("[dashboard] restart stream")
			_ = d.streams.StopStream(streamID)
			stream = nil
		}
	}

	if stream == nil {
		if err := d.streams.StartStream(streamID, res.RTSP, 0, 0); err != nil {
			res.Error = err.Error()
			return
		}
		if stream = d.streams.Get(streamID); stream == nil {
			res.Error = "Stream failed: " + errStreamStopped.Error()
			return
		}
	}

	timeout := d.cfg.FFmpeg.Timeout
	if timeout <= 0 {
		timeout = decoder.DefaultTimeout
	}

	switch err := stream.waitReady(ctx, timeout); {
	case err == nil:
	case errors.Is(err, errStreamStarting):
		res.Info = "Waiting for the first frame"
	default:
		log.Warn().Err(err).Str("ip", res.IP).Msg("[dashboard] stream")
		res.Error = "Stream failed: " + err.Error()
		return
	}

	res.StreamID = streamID
}

func (d *Dashboard) doFrame(ctx context.Context, req Request, res *CameraResult) {
	img, err := d.grab(ctx, res.RTSP, d.cfg.FFmpeg)
	if err == nil {
		var buf bytes.Buffer
		if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err == nil {
			res.Image = template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
			res.Caption = "Live frame from " + res.IP
			return
		}
	}

	log.Warn().Err(err).Str("ip", res.IP).Msg("[dashboard] frame")
	res.Error = "Live frame failed: " + err.Error()

	// one snapshot instead of the frame
	d.doScreenshot(ctx, req, res)
}

func (d *Dashboard) doScreenshot(ctx context.Context, req Request, res *CameraResult) {
	shot, err := d.fetcher.Fetch(ctx, res.IP, req.Username, req.Password)
	if err != nil {
		log.Warn().Err(err).Str("ip", res.IP).Msg("[dashboard] snapshot")

		// a camera answering with another status only gets the warning
		var statusErr *snapshot.StatusError
		if res.Error == "" && !errors.As(err, &statusErr) {
			res.Error = err.Error()
		}
		res.Warning = MsgNoSnapshot
		return
	}

	d.index(ctx, shot)

	res.Image = template.URL(path.Join("/screenshots", filepath.Base(shot.Path)))
	res.Caption = "Snapshot from " + res.IP
}

func (d *Dashboard) doPlayer(ctx context.Context, req Request, res *CameraResult) {
	if req.Screenshot && d.cfg.Player.PrimeSnapshot {
		// the player only runs for the grace period before the snapshot
		if err := d.player.Prime(ctx, res.RTSP); err != nil {
			res.Error = err.Error()
		}
		d.doScreenshot(ctx, req, res)
		return
	}

	if _, err := d.player.Launch(res.RTSP); err != nil {
		res.Error = err.Error()
	} else {
		res.Info = "Opened in player"
	}

	if req.Screenshot {
		d.doScreenshot(ctx, req, res)
	}
}

// index records the shot in the catalog, the file is already saved so a
// catalog failure is only logged
func (d *Dashboard) index(ctx context.Context, shot *snapshot.Shot) {
	if d.catalog == nil {
		return
	}
	if _, err := d.catalog.Add(ctx, shot); err != nil {
		log.Warn().Err(err).Str("path", shot.Path).Msg("[catalog] add")
	}
}

// Close ends every WebRTC viewer
func (d *Dashboard) Close() {
	d.sessions.closeAll()
}
