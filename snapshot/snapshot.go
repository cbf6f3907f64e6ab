package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"camera-dashboard/camera"

	"github.com/icholy/digest"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultDir     = "screenshots"

	TimeFormat = "2006-01-02_15-04-05"
)

// Fetcher downloads still images from the camera ISAPI endpoint
type Fetcher struct {
	Dir     string
	Port    int
	Timeout time.Duration

	// Transport is wrapped by digest auth, nil means http.DefaultTransport
	Transport http.RoundTripper
	Now       func() time.Time
}

// Shot is a snapshot saved to disk
type Shot struct {
	Host    string    `json:"host"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	TakenAt time.Time `json:"taken_at"`
}

type StatusError struct {
	Host       string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snapshot %s: unexpected status %s", e.Host, e.Status)
}

// Fetch makes exactly one authenticated request. Only a 200 response is
// written to disk, everything else is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, host, username, password string) (*Shot, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	link := camera.SnapshotURL(host, f.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &digest.Transport{
			Username:  username,
			Password:  password,
			Transport: f.Transport,
		},
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", host, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, &StatusError{Host: host, StatusCode: res.StatusCode, Status: res.Status}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: read body: %w", host, err)
	}

	return f.save(host, body)
}

func (f *Fetcher) save(host string, body []byte) (*Shot, error) {
	dir := f.Dir
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", host, err)
	}

	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}

	name := fmt.Sprintf("%s_%s.jpg", camera.SanitizeHost(host), now.Format(TimeFormat))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, body, 0644); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", host, err)
	}

	log.Debug().Str("host", host).Str("path", path).Int("size", len(body)).Msg("[snapshot] saved")

	return &Shot{Host: host, Path: path, Size: int64(len(body)), TakenAt: now}, nil
}
