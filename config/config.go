package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"camera-dashboard/camera"
	"camera-dashboard/decoder"
	"camera-dashboard/live"
	"camera-dashboard/player"
	"camera-dashboard/snapshot"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath    = "dashboard.yaml"
	DefaultListen  = ":8091"
	DefaultRefresh = 5 * time.Second

	EnvPrefix = "DASHBOARD_"
)

type Config struct {
	Listen   string          `yaml:"listen"`
	Log      Log             `yaml:"log"`
	Camera   Camera          `yaml:"camera"`
	Snapshot Snapshot        `yaml:"snapshot"`
	FFmpeg   decoder.Options `yaml:"ffmpeg"`
	Live     Live            `yaml:"live"`
	Player   Player          `yaml:"player"`
}

type Log struct {
	// Level is a zerolog level: trace, debug, info, warn, error
	Level string `yaml:"level"`
	// Format: empty (autodetect color), color, text, json
	Format string `yaml:"format"`
}

type Camera struct {
	Channel string `yaml:"channel"`
}

type Snapshot struct {
	Dir     string        `yaml:"dir"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	// Catalog is the SQLite index of saved snapshots, empty disables it
	Catalog string `yaml:"catalog"`
}

type Live struct {
	live.Publisher `yaml:",inline"`
	Refresh        time.Duration `yaml:"refresh"`
}

type Player struct {
	player.Launcher `yaml:",inline"`
	// PrimeSnapshot opens the stream in the player for a moment before
	// taking a screenshot
	PrimeSnapshot bool `yaml:"prime_snapshot"`
}

func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Log:    Log{Level: "info"},
		Camera: Camera{Channel: camera.DefaultChannel},
		Snapshot: Snapshot{
			Dir:     snapshot.DefaultDir,
			Timeout: snapshot.DefaultTimeout,
			Catalog: "screenshots/catalog.db",
		},
		FFmpeg: decoder.Options{
			Bin:            decoder.DefaultBin,
			Width:          decoder.DefaultWidth,
			Height:         decoder.DefaultHeight,
			Timeout:        decoder.DefaultTimeout,
			ConnectTimeout: decoder.DefaultConnectTimeout,
		},
		Live: Live{
			Publisher: live.Publisher{
				Bin:        decoder.DefaultBin,
				ICEServers: []string{live.DefaultICEServer},
				FPS:        live.DefaultFPS,
			},
			Refresh: DefaultRefresh,
		},
		Player: Player{
			Launcher: player.Launcher{
				Bin:            player.DefaultBin,
				NetworkCaching: player.DefaultNetworkCaching,
				Grace:          player.DefaultGrace,
			},
		},
	}
}

// Load reads the YAML file on top of the defaults, a missing file is not an
// error. Then .env files are loaded and DASHBOARD_* variables applied.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = []byte(os.ExpandEnv(string(data)))
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	channel, err := camera.ParseChannel(cfg.Camera.Channel)
	if err != nil {
		return nil, fmt.Errorf("config camera: %w", err)
	}
	cfg.Camera.Channel = channel

	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LISTEN":         &c.Listen,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
		"CHANNEL":        &c.Camera.Channel,
		"SCREENSHOT_DIR": &c.Snapshot.Dir,
		"CATALOG":        &c.Snapshot.Catalog,
		"FFMPEG":         &c.FFmpeg.Bin,
		"PLAYER":         &c.Player.Bin,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	// the live pipeline uses the same binary unless it is set explicitly
	if v, ok := os.LookupEnv(EnvPrefix + "FFMPEG"); ok {
		c.Live.Bin = v
	}

	if v, ok := os.LookupEnv(EnvPrefix + "SNAPSHOT_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config env %sSNAPSHOT_PORT: %w", EnvPrefix, err)
		}
		c.Snapshot.Port = port
	}

	return nil
}
