package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"camera-dashboard/decoder"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-mjpeg"
	"github.com/rs/zerolog/log"
)

var (
	errStreamNotFound = errors.New("stream not found")
	errStreamStarting = errors.New("no frame yet")
	errStreamStopped  = errors.New("stream stopped")
)

// NewStreamManager creates a new instance of StreamManager
func NewStreamManager(opts decoder.Options) *StreamManager {
	return &StreamManager{
		streams: make(map[string]*Stream),
		clients: make(map[string]map[string]*Client),
		opts:    opts,
		open:    openDecoder,
	}
}

// generateClientID generates a unique client ID, sm.mu must be held
func (sm *StreamManager) generateClientID() string {
	sm.clientIDGen++
	return fmt.Sprintf("client_%d", sm.clientIDGen)
}

// StartStream starts a continuous decoder for the camera. Zero width or
// height use the configured size.
func (sm *StreamManager) StartStream(streamID, rtspURL string, width, height int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.streams[streamID]; exists {
		return fmt.Errorf("stream %s already exists", streamID)
	}

	opts := sm.opts
	if width > 0 {
		opts.Width = width
	}
	if height > 0 {
		opts.Height = height
	}
	if opts.Width <= 0 {
		opts.Width = decoder.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = decoder.DefaultHeight
	}

	ctx, cancel := context.WithCancel(context.Background())

	stream := &Stream{
		rtspURL:        rtspURL,
		streamID:       streamID,
		width:          opts.Width,
		height:         opts.Height,
		frameBuffer:    make(chan []byte, FrameBufferSize),
		mjpeg:          mjpeg.NewStream(),
		clients:        make(map[string]*Client),
		status:         StatusStarting,
		cancelFunc:     cancel,
		startedAt:      time.Now(),
		healthStopChan: make(chan struct{}),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
	}

	sm.streams[streamID] = stream
	sm.clients[streamID] = make(map[string]*Client)

	go sm.runStream(ctx, stream, opts)
	go sm.distributeFrames(stream)
	go sm.monitorStreamHealth(stream)

	log.Info().Str("stream", streamID).Str("url", rtspURL).Msg("[streams] started")
	return nil
}

// runStream owns the decoder and the frame buffer. The decoder is never
// restarted: once it fails the stream keeps its last frame and stays failed
// until it is stopped.
func (sm *StreamManager) runStream(ctx context.Context, stream *Stream, opts decoder.Options) {
	defer close(stream.done)
	defer close(stream.frameBuffer)

	src, err := sm.open(ctx, stream.rtspURL, opts)
	if err != nil {
		stream.fail(ctx, err)
		return
	}
	defer src.Close()

	stream.mu.Lock()
	stream.isRunning = true
	stream.status = StatusRunning
	stream.mu.Unlock()

	var (
		buf  bytes.Buffer
		prev image.Image
	)

	for {
		img := src.Next(prev)
		if src.Closed() {
			err = src.Err()
			if err == nil {
				err = errStreamStopped
			}
			stream.fail(ctx, err)
			return
		}
		prev = img

		buf.Reset()
		if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			log.Warn().Err(err).Str("stream", stream.streamID).Msg("[streams] encode frame")
			continue
		}

		frame := make([]byte, buf.Len())
		copy(frame, buf.Bytes())

		// drop oldest frame if the buffer is full
		select {
		case stream.frameBuffer <- frame:
		default:
			select {
			case <-stream.frameBuffer:
			default:
			}
			select {
			case stream.frameBuffer <- frame:
			default:
			}
			log.Trace().Str("stream", stream.streamID).Msg("[streams] frame buffer full, dropped oldest frame")
		}

		if err = stream.mjpeg.Update(frame); err != nil {
			log.Trace().Err(err).Str("stream", stream.streamID).Msg("[streams] mjpeg update")
		}

		stream.mu.Lock()
		stream.lastFrame = frame
		stream.lastFrameTime = time.Now()
		stream.frameCount++
		if stream.frameCount == 1 {
			close(stream.ready)
		}
		if stream.status == StatusStalled {
			stream.status = StatusRunning
		}
		stream.mu.Unlock()
	}
}

func (stream *Stream) fail(ctx context.Context, err error) {
	stream.mu.Lock()
	defer stream.mu.Unlock()

	stream.isRunning = false

	if ctx.Err() != nil {
		stream.status = StatusStopped
		return
	}

	stream.status = StatusFailed
	stream.lastError = err
	log.Warn().Err(err).Str("stream", stream.streamID).Msg("[streams] decoder stopped")
}

// distributeFrames sends frames from buffer to all connected clients
func (sm *StreamManager) distributeFrames(stream *Stream) {
	defer log.Debug().Str("stream", stream.streamID).Msg("[streams] frame distribution stopped")

	for frame := range stream.frameBuffer {
		stream.clientsMu.RLock()
		clients := make([]*Client, 0, len(stream.clients))
		for _, client := range stream.clients {
			clients = append(clients, client)
		}
		stream.clientsMu.RUnlock()

		for _, client := range clients {
			client.mu.Lock()
			if !client.closed {
				select {
				case client.send <- frame:
				default:
					log.Trace().Str("client", client.id).Msg("[streams] client buffer full, skipping frame")
				}
			}
			client.mu.Unlock()
		}
	}
}

// StopStream stops a running stream and disconnects its viewers
func (sm *StreamManager) StopStream(streamID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.stopLocked(streamID)
}

func (sm *StreamManager) stopLocked(streamID string) error {
	stream, exists := sm.streams[streamID]
	if !exists {
		return fmt.Errorf("stream %s: %w", streamID, errStreamNotFound)
	}

	// cancelling the context kills the decoder
	stream.cancelFunc()
	close(stream.healthStopChan)

	for _, client := range sm.clients[streamID] {
		client.mu.Lock()
		if !client.closed {
			client.closed = true
			close(client.send)
		}
		client.mu.Unlock()
		_ = client.conn.Close()
	}

	delete(sm.streams, streamID)
	delete(sm.clients, streamID)

	log.Info().Str("stream", streamID).Msg("[streams] stopped")
	return nil
}

// StopAll stops every stream and waits for the decoders to exit
func (sm *StreamManager) StopAll() {
	sm.mu.Lock()
	stopped := make([]*Stream, 0, len(sm.streams))
	for streamID, stream := range sm.streams {
		stopped = append(stopped, stream)
		_ = sm.stopLocked(streamID)
	}
	sm.mu.Unlock()

	for _, stream := range stopped {
		<-stream.done
	}
}

// AddClient adds a new WebSocket client to a stream
func (sm *StreamManager) AddClient(streamID string, conn *websocket.Conn) (*Client, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stream, exists := sm.streams[streamID]
	if !exists {
		return nil, fmt.Errorf("stream %s: %w", streamID, errStreamNotFound)
	}

	clientID := sm.generateClientID()
	client := &Client{
		id:       clientID,
		streamID: streamID,
		conn:     conn,
		send:     make(chan []byte, ClientBufferSize),
		manager:  sm,
	}

	stream.clientsMu.Lock()
	stream.clients[clientID] = client
	stream.clientsMu.Unlock()

	sm.clients[streamID][clientID] = client

	go client.writePump()
	go client.readPump()

	log.Debug().Str("client", clientID).Str("stream", streamID).Msg("[streams] client added")
	return client, nil
}

// RemoveClient removes a client from a stream
func (sm *StreamManager) RemoveClient(client *Client) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return
	}
	client.closed = true
	close(client.send)
	client.mu.Unlock()

	if stream, exists := sm.streams[client.streamID]; exists {
		stream.clientsMu.Lock()
		delete(stream.clients, client.id)
		stream.clientsMu.Unlock()
	}

	delete(sm.clients[client.streamID], client.id)

	log.Debug().Str("client", client.id).Str("stream", client.streamID).Msg("[streams] client removed")
}

// Get returns the stream or nil
func (sm *StreamManager) Get(streamID string) *Stream {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.streams[streamID]
}

// GetStreamStats returns statistics for a stream
func (sm *StreamManager) GetStreamStats(streamID string) (map[string]interface{}, error) {
	stream := sm.Get(streamID)
	if stream == nil {
		return nil, fmt.Errorf("stream %s: %w", streamID, errStreamNotFound)
	}
	return stream.stats(), nil
}

func (stream *Stream) stats() map[string]interface{} {
	stream.clientsMu.RLock()
	clientCount := len(stream.clients)
	stream.clientsMu.RUnlock()

	stream.mu.RLock()
	defer stream.mu.RUnlock()

	stats := map[string]interface{}{
		"stream_id":       stream.streamID,
		"rtsp_url":        stream.rtspURL,
		"width":           stream.width,
		"height":          stream.height,
		"is_running":      stream.isRunning,
		"status":          stream.status,
		"frame_count":     stream.frameCount,
		"started_at":      stream.startedAt,
		"last_frame_time": stream.lastFrameTime,
		"client_count":    clientCount,
		"buffer_size":     len(stream.frameBuffer),
	}
	if stream.lastError != nil {
		stats["error"] = stream.lastError.Error()
	}
	return stats
}

// Running reports whether the decoder is producing frames
func (stream *Stream) Running() bool {
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	return stream.isRunning
}

// Status is one of the Status constants
func (stream *Stream) Status() string {
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	return stream.status
}

// Err is why the decoder failed, nil unless the status is failed
func (stream *Stream) Err() error {
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	return stream.lastError
}

// waitReady blocks until the first frame is decoded or the decoder exits.
// It gives up with errStreamStarting after timeout.
func (stream *Stream) waitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-stream.ready:
		return nil
	case <-stream.done:
		if err := stream.Err(); err != nil {
			return err
		}
		return errStreamStopped
	case <-timer.C:
		return errStreamStarting
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastFrame is the most recent JPEG frame, nil before the first one
func (stream *Stream) LastFrame() ([]byte, time.Time) {
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	return stream.lastFrame, stream.lastFrameTime
}

// monitorStreamHealth marks a stream stalled when frames stop arriving
func (sm *StreamManager) monitorStreamHealth(stream *Stream) {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.healthStopChan:
			return
		case <-stream.done:
			return
		case now := <-ticker.C:
			stream.mu.Lock()
			last := stream.lastFrameTime
			if last.IsZero() {
				last = stream.startedAt
			}
			if stream.isRunning && stream.status == StatusRunning && now.Sub(last) > MaxStallDuration {
				stream.status = StatusStalled
				log.Warn().Str("stream", stream.streamID).Dur("since", now.Sub(last)).Msg("[streams] stalled")
			}
			stream.mu.Unlock()
		}
	}
}
