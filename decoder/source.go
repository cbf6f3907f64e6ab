package decoder

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Source is a decoder process that stays connected to one stream and
// produces frames on demand. It never reconnects: after the first failed
// read it is closed for good.
type Source struct {
	opts   Options
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailWriter
	buf    []byte
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
	wait   sync.Once
}

// Open starts the decoder process, it doesn't wait for the first frame
func Open(ctx context.Context, rtspURL string, opts Options) (*Source, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, opts.Bin, opts.StreamArgs(rtspURL)...)
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: stdout pipe: %w", err)
	}

	stderr := &tailWriter{limit: stderrExcerpt}
	cmd.Stderr = stderr

	if err = cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: start: %w", err)
	}

	log.Debug().Int("pid", cmd.Process.Pid).Msg("[decoder] source started")

	return &Source{
		opts:   opts,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		buf:    make([]byte, opts.FrameSize()),
		cancel: cancel,
	}, nil
}

// Read blocks until the next full frame is decoded
func (s *Source) Read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		s.closed = true
		s.cancel()
		s.reap()

		if tail := s.stderr.String(); tail != "" {
			s.err = fmt.Errorf("decoder: read frame: %w: %s", err, tail)
		} else {
			s.err = fmt.Errorf("decoder: read frame: %w", err)
		}
		return nil, s.err
	}

	return BGRToRGBA(s.buf, s.opts.Width, s.opts.Height)
}

// Next returns the next frame, or prev unchanged if decoding fails
func (s *Source) Next(prev image.Image) image.Image {
	img, err := s.Read()
	if err != nil {
		return prev
	}
	return img
}

// Closed reports whether the source stopped producing frames
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Err is the reason the source stopped, nil while it is open or after Close
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Source) Close() error {
	// killing the process unblocks a pending Read
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.reap()
	}
	return nil
}

// reap waits for the process, all reads from stdout must be done before
func (s *Source) reap() {
	s.wait.Do(func() {
		err := s.cmd.Wait()
		log.Debug().Err(err).Int("pid", s.cmd.Process.Pid).Msg("[decoder] source exited")
	})
}

// tailWriter keeps the last bytes written to it
type tailWriter struct {
	limit int
	mu    sync.Mutex
	b     []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.b = append(w.b, p...)
	if len(w.b) > w.limit {
		w.b = w.b[len(w.b)-w.limit:]
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return excerpt(w.b)
}
