package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strconv"
	"time"
)

const (
	DefaultBin            = "ffmpeg"
	DefaultWidth          = 640
	DefaultHeight         = 360
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second

	// stderrExcerpt is how much of the ffmpeg diagnostics ends up in errors
	stderrExcerpt = 512
)

var (
	ErrTimeout     = errors.New("decoder: timeout")
	ErrEmptyOutput = errors.New("decoder: empty output")
	ErrShortFrame  = errors.New("decoder: short frame")
	ErrClosed      = errors.New("decoder: source closed")
)

// Options for the ffmpeg process, zero values are replaced with defaults
type Options struct {
	Bin            string        `yaml:"bin"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (o Options) withDefaults() Options {
	if o.Bin == "" {
		o.Bin = DefaultBin
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	return o
}

// FrameSize of one bgr24 frame
func (o Options) FrameSize() int {
	o = o.withDefaults()
	return o.Width * o.Height * 3
}

func (o Options) inputArgs(rtspURL string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		// ffmpeg expects microseconds
		"-timeout", strconv.FormatInt(o.ConnectTimeout.Microseconds(), 10),
		"-i", rtspURL,
	}
}

func (o Options) outputArgs() []string {
	return []string{
		"-vf", fmt.Sprintf("scale=%d:%d", o.Width, o.Height),
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	}
}

// GrabArgs is the argument list for a single frame
func (o Options) GrabArgs(rtspURL string) []string {
	o = o.withDefaults()
	args := o.inputArgs(rtspURL)
	args = append(args, "-frames:v", "1")
	return append(args, o.outputArgs()...)
}

// StreamArgs is the argument list for a persistent frame stream
func (o Options) StreamArgs(rtspURL string) []string {
	o = o.withDefaults()
	return append(o.inputArgs(rtspURL), o.outputArgs()...)
}

// ProcessError is a non-zero exit of the decoder process
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("decoder: exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("decoder: exit code %d: %s", e.ExitCode, e.Stderr)
}

// excerpt keeps the tail of the diagnostics, ffmpeg prints the reason last
func excerpt(b []byte) string {
	if len(b) > stderrExcerpt {
		b = b[len(b)-stderrExcerpt:]
	}
	return string(bytes.TrimSpace(b))
}

// BGRToRGBA converts a raw bgr24 buffer into an image
func BGRToRGBA(buf []byte, width, height int) (*image.RGBA, error) {
	if len(buf) < width*height*3 {
		return nil, ErrShortFrame
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < width*height*3; i, j = i+3, j+4 {
		img.Pix[j] = buf[i+2]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i]
		img.Pix[j+3] = 0xFF
	}
	return img, nil
}
