//go:build !windows

package player

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	l := &Launcher{}
	require.Equal(t, []string{
		"rtsp://u:p@h:554/ISAPI/Streaming/Channels/101",
		"--rtsp-tcp",
		"--network-caching=300",
	}, l.Args("rtsp://u:p@h:554/ISAPI/Streaming/Channels/101"))

	l.NetworkCaching = 150
	require.Equal(t, "--network-caching=150", l.Args("x")[2])
}

func fakePlayer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vlc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestLaunch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	l := &Launcher{Bin: fakePlayer(t, `echo "$@" > `+out)}

	cmd, err := l.Launch("rtsp://h/1")
	require.NoError(t, err)
	require.NotNil(t, cmd.Process)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "rtsp://h/1 --rtsp-tcp --network-caching=300"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLaunchMissing(t *testing.T) {
	l := &Launcher{Bin: "/nonexistent/vlc"}
	_, err := l.Launch("rtsp://h/1")
	require.Error(t, err)
}

func TestPrime(t *testing.T) {
	l := &Launcher{Bin: fakePlayer(t, `exec sleep 30`), Grace: 100 * time.Millisecond}

	start := time.Now()
	require.NoError(t, l.Prime(context.Background(), "rtsp://h/1"))

	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, 5*time.Second)
}

func TestPrimeCancel(t *testing.T) {
	l := &Launcher{Bin: fakePlayer(t, `exec sleep 30`), Grace: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, l.Prime(ctx, "rtsp://h/1"))
	require.Less(t, time.Since(start), 5*time.Second)
}
