package live

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	p := &Publisher{}
	args := strings.Join(p.Args("rtsp://u:p@h:554/ISAPI/Streaming/Channels/102"), " ")
	require.Equal(t,
		"-hide_banner -loglevel error -rtsp_transport tcp -i rtsp://u:p@h:554/ISAPI/Streaming/Channels/102 "+
			"-an -c:v libx264 -preset ultrafast -tune zerolatency -profile:v baseline -pix_fmt yuv420p "+
			"-r 25 -g 50 -f h264 -",
		args,
	)

	p.FPS = 10
	require.Contains(t, p.Args("x"), "10")
	require.Contains(t, p.Args("x"), "20")
}

func TestSampleDuration(t *testing.T) {
	frame := 40 * time.Millisecond
	require.Equal(t, frame, SampleDuration(h264reader.NalUnitTypeCodedSliceIdr, frame))
	require.Equal(t, frame, SampleDuration(h264reader.NalUnitTypeCodedSliceNonIdr, frame))
	require.Zero(t, SampleDuration(h264reader.NalUnitTypeSPS, frame))
	require.Zero(t, SampleDuration(h264reader.NalUnitTypePPS, frame))
}

func TestConfiguration(t *testing.T) {
	p := &Publisher{}
	require.Empty(t, p.configuration().ICEServers)

	p.ICEServers = []string{DefaultICEServer}
	conf := p.configuration()
	require.Len(t, conf.ICEServers, 1)
	require.Equal(t, []string{DefaultICEServer}, conf.ICEServers[0].URLs)
}

func TestAnswerBadOffer(t *testing.T) {
	p := &Publisher{}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "not a session description"}

	s, answer, err := p.Answer(context.Background(), "rtsp://h/1", offer)
	require.Error(t, err)
	require.Nil(t, s)
	require.Nil(t, answer)
}

func TestAnswer(t *testing.T) {
	viewer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer viewer.Close()

	_, err = viewer.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	offer, err := viewer.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, viewer.SetLocalDescription(offer))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := &Publisher{Bin: "/nonexistent/ffmpeg"}
	s, answer, err := p.Answer(ctx, "rtsp://h/1", *viewer.LocalDescription())
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.Contains(t, answer.SDP, "H264")
	require.True(t, strings.HasPrefix(s.ID, "webrtc_"))

	require.NoError(t, s.Close())
	select {
	case <-s.Done():
	default:
		t.Fatal("session is not done after close")
	}
}
