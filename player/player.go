package player

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBin            = "/Applications/VLC.app/Contents/MacOS/VLC"
	DefaultNetworkCaching = 300
	DefaultGrace          = 2 * time.Second
)

// Launcher opens streams in a desktop media player
type Launcher struct {
	Bin            string        `yaml:"bin"`
	NetworkCaching int           `yaml:"network_caching"`
	Grace          time.Duration `yaml:"grace"`
}

func (l *Launcher) bin() string {
	if l.Bin == "" {
		return DefaultBin
	}
	return l.Bin
}

func (l *Launcher) Args(rtspURL string) []string {
	caching := l.NetworkCaching
	if caching <= 0 {
		caching = DefaultNetworkCaching
	}
	return []string{
		rtspURL,
		"--rtsp-tcp",
		"--network-caching=" + strconv.Itoa(caching),
	}
}

// Launch starts the player and returns right away. The player lives on its
// own, it is only reaped when it exits.
func (l *Launcher) Launch(rtspURL string) (*exec.Cmd, error) {
	cmd := exec.Command(l.bin(), l.Args(rtspURL)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("player: %w", err)
	}

	pid := cmd.Process.Pid
	log.Debug().Int("pid", pid).Msg("[player] launched")

	go func() {
		err := cmd.Wait()
		log.Debug().Err(err).Int("pid", pid).Msg("[player] exited")
	}()

	return cmd, nil
}

// Prime opens the stream in the player for the grace period and then kills
// the player, whatever state it is in.
func (l *Launcher) Prime(ctx context.Context, rtspURL string) error {
	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.Command(l.bin(), l.Args(rtspURL)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("player: %w", err)
	}

	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	return nil
}
