package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGrabArgs(t *testing.T) {
	opts := Options{Width: 320, Height: 180, ConnectTimeout: 3 * time.Second}
	require.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-timeout", "3000000",
		"-i", "rtsp://u:p@h:554/ISAPI/Streaming/Channels/102",
		"-frames:v", "1",
		"-vf", "scale=320:180",
		"-an", "-f", "rawvideo", "-pix_fmt", "bgr24", "-",
	}, opts.GrabArgs("rtsp://u:p@h:554/ISAPI/Streaming/Channels/102"))
}

func TestStreamArgs(t *testing.T) {
	args := Options{}.StreamArgs("rtsp://h/1")
	require.NotContains(t, args, "-frames:v")
	require.Contains(t, args, "scale=640:360")
	require.Contains(t, args, "5000000")
}

func TestFrameSize(t *testing.T) {
	require.Equal(t, 640*360*3, Options{}.FrameSize())
	require.Equal(t, 12, Options{Width: 2, Height: 2}.FrameSize())
}

func TestBGRToRGBA(t *testing.T) {
	img, err := BGRToRGBA([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []uint8{3, 2, 1, 255, 6, 5, 4, 255}, img.Pix)

	_, err = BGRToRGBA([]byte{1, 2}, 1, 1)
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "error", excerpt([]byte("\n error \n")))

	long := make([]byte, stderrExcerpt+100)
	for i := range long {
		long[i] = 'a'
	}
	long[len(long)-1] = 'z'
	got := excerpt(long)
	require.Len(t, got, stderrExcerpt)
	require.Equal(t, byte('z'), got[len(got)-1])
}

func TestProcessError(t *testing.T) {
	err := &ProcessError{ExitCode: 1, Stderr: "Connection refused"}
	require.Equal(t, "decoder: exit code 1: Connection refused", err.Error())

	err = &ProcessError{ExitCode: 255}
	require.Equal(t, "decoder: exit code 255", err.Error())
}
