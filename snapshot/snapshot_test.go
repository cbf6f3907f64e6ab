package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(req *http.Request, code int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     http.Header{"Content-Type": []string{"image/jpeg"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 10, 19, 11, 30, 5, 0, time.UTC)
}

func TestFetchOK(t *testing.T) {
	body := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'e', 'g', 0xFF, 0xD9}
	dir := filepath.Join(t.TempDir(), "screenshots")

	var requested string
	f := &Fetcher{
		Dir: dir,
		Now: fixedNow,
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requested = req.URL.String()
			return respond(req, http.StatusOK, body), nil
		}),
	}

	shot, err := f.Fetch(context.Background(), "1.2.3.4", "admin", "secret")
	require.NoError(t, err)
	require.Equal(t, "http://1.2.3.4/ISAPI/Streaming/channels/1/picture", requested)

	require.Equal(t, filepath.Join(dir, "1_2_3_4_2026-10-19_11-30-05.jpg"), shot.Path)
	require.Equal(t, int64(len(body)), shot.Size)
	require.Equal(t, "1.2.3.4", shot.Host)

	written, err := os.ReadFile(shot.Path)
	require.NoError(t, err)
	require.Equal(t, body, written)
}

func TestFetchPort(t *testing.T) {
	f := &Fetcher{
		Dir:  t.TempDir(),
		Port: 8000,
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "1.2.3.4:8000", req.URL.Host)
			return respond(req, http.StatusOK, []byte("x")), nil
		}),
	}

	_, err := f.Fetch(context.Background(), "1.2.3.4", "admin", "secret")
	require.NoError(t, err)
}

func TestFetchStatus(t *testing.T) {
	dir := t.TempDir()
	f := &Fetcher{
		Dir: dir,
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return respond(req, http.StatusNotFound, []byte("not found")), nil
		}),
	}

	shot, err := f.Fetch(context.Background(), "5.6.7.8", "admin", "secret")
	require.Nil(t, shot)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchTimeout(t *testing.T) {
	dir := t.TempDir()
	f := &Fetcher{
		Dir:     dir,
		Timeout: 50 * time.Millisecond,
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}),
	}

	start := time.Now()
	shot, err := f.Fetch(context.Background(), "1.2.3.4", "admin", "secret")
	require.Nil(t, shot)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchTransportError(t *testing.T) {
	f := &Fetcher{
		Dir: t.TempDir(),
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}

	shot, err := f.Fetch(context.Background(), "1.2.3.4", "admin", "secret")
	require.Nil(t, shot)
	require.ErrorContains(t, err, "connection refused")
}

func TestFetchDigest(t *testing.T) {
	body := []byte("digest protected jpeg")

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="IP Camera", qop="auth", nonce="4e5749a6d3c2b1a0", algorithm="MD5"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Digest ") ||
			!strings.Contains(auth, `username="admin"`) ||
			!strings.Contains(auth, `uri="/ISAPI/Streaming/channels/1/picture"`) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	f := &Fetcher{Dir: t.TempDir()}

	shot, err := f.Fetch(context.Background(), host, "admin", "12345")
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	written, err := os.ReadFile(shot.Path)
	require.NoError(t, err)
	require.Equal(t, body, written)
}
