package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Grab runs the decoder once and returns a single frame. The process is
// killed when opts.Timeout expires.
func Grab(ctx context.Context, rtspURL string, opts Options) (*image.RGBA, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, opts.Bin, opts.GrabArgs(rtspURL)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// don't hang on children that inherited our pipes
	cmd.WaitDelay = time.Second

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn().Dur("timeout", opts.Timeout).Msg("[decoder] grab killed")
		return nil, fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: excerpt(stderr.Bytes())}
		}
		return nil, fmt.Errorf("decoder: %w", err)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyOutput, excerpt(stderr.Bytes()))
	}

	if stdout.Len() < opts.FrameSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, stdout.Len(), opts.FrameSize())
	}

	return BGRToRGBA(stdout.Bytes(), opts.Width, opts.Height)
}
