package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBin       = "ffmpeg"
	DefaultFPS       = 25
	DefaultICEServer = "stun:stun.l.google.com:19302"
)

// Publisher turns an RTSP stream into a WebRTC video track, one ffmpeg
// process per viewer
type Publisher struct {
	Bin        string   `yaml:"bin"`
	ICEServers []string `yaml:"ice_servers"`
	FPS        int      `yaml:"fps"`
}

func (p *Publisher) fps() int {
	if p.FPS <= 0 {
		return DefaultFPS
	}
	return p.FPS
}

// Args re-encodes to baseline H264 so any camera codec plays in a browser
func (p *Publisher) Args(rtspURL string) []string {
	fps := strconv.Itoa(p.fps())
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-r", fps,
		"-g", strconv.Itoa(2 * p.fps()),
		"-f", "h264",
		"-",
	}
}

func (p *Publisher) configuration() webrtc.Configuration {
	var conf webrtc.Configuration
	if len(p.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: p.ICEServers}}
	}
	return conf
}

var sessionID atomic.Int64

// Session is one viewer: a peer connection and the decoder feeding it
type Session struct {
	ID string

	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	url    string
	bin    string
	args   []string
	frame  time.Duration
	ctx    context.Context
	cancel context.CancelFunc

	start sync.Once
	stop  sync.Once
	done  chan struct{}
}

// Answer accepts a browser offer. The decoder starts once ICE connects and
// the session ends when the peer goes away, there is no reconnect.
func (p *Publisher) Answer(ctx context.Context, rtspURL string, offer webrtc.SessionDescription) (*Session, *webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(p.configuration())
	if err != nil {
		return nil, nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "camera",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}

	// interceptors need RTCP to be read
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	sessCtx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:     "webrtc_" + strconv.FormatInt(sessionID.Add(1), 10),
		pc:     pc,
		track:  track,
		url:    rtspURL,
		bin:    p.Bin,
		args:   p.Args(rtspURL),
		frame:  time.Second / time.Duration(p.fps()),
		ctx:    sessCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if s.bin == "" {
		s.bin = DefaultBin
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("id", s.ID).Str("state", state.String()).Msg("[live] connection")

		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.start.Do(func() { go s.run() })
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			// closing from inside the callback blocks pion
			go s.Close()
		}
	})

	if err = pc.SetRemoteDescription(offer); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("live: remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("live: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)

	if err = pc.SetLocalDescription(answer); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("live: local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		_ = s.Close()
		return nil, nil, ctx.Err()
	}

	return s, pc.LocalDescription(), nil
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	var err error
	s.stop.Do(func() {
		s.cancel()
		err = s.pc.Close()
		close(s.done)
		log.Debug().Str("id", s.ID).Msg("[live] closed")
	})
	return err
}

func (s *Session) run() {
	defer s.Close()

	cmd := exec.CommandContext(s.ctx, s.bin, s.args...)
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error().Err(err).Str("id", s.ID).Msg("[live] stdout pipe")
		return
	}

	if err = cmd.Start(); err != nil {
		log.Error().Err(err).Str("id", s.ID).Msg("[live] start decoder")
		return
	}

	s.pump(stdout)

	if err = cmd.Wait(); err != nil && s.ctx.Err() == nil {
		log.Warn().Err(err).Str("id", s.ID).Msg("[live] decoder exited")
	}
}

func (s *Session) pump(r io.Reader) {
	reader, err := h264reader.NewReader(r)
	if err != nil {
		log.Error().Err(err).Str("id", s.ID).Msg("[live] h264 reader")
		return
	}

	for {
		nal, err := reader.NextNAL()
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Warn().Err(err).Str("id", s.ID).Msg("[live] read nal")
			}
			return
		}

		sample := media.Sample{Data: nal.Data, Duration: SampleDuration(nal.UnitType, s.frame)}
		if err = s.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("id", s.ID).Msg("[live] write sample")
			return
		}
	}
}

// SampleDuration advances the clock on picture slices only, parameter sets
// and SEI share the timestamp of the frame they belong to
func SampleDuration(unit h264reader.NalUnitType, frame time.Duration) time.Duration {
	switch unit {
	case h264reader.NalUnitTypeCodedSliceNonIdr, h264reader.NalUnitTypeCodedSliceIdr:
		return frame
	}
	return 0
}
