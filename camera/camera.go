package camera

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// ChannelMain is the primary, high resolution stream
	ChannelMain = "101"
	// ChannelSub is the secondary, low resolution stream
	ChannelSub = "102"

	DefaultChannel = ChannelSub

	RTSPPort     = 554
	SnapshotPath = "/ISAPI/Streaming/channels/1/picture"
)

var separators = regexp.MustCompile(`[,\n]+`)

// Target is a single camera as entered on the dashboard
type Target struct {
	Host     string
	Username string
	Password string
	Channel  string
}

func (t Target) RTSP() string {
	return BuildRTSP(t.Host, t.Username, t.Password, t.Channel)
}

// NormalizeIPs splits a pasted block of addresses on commas and newlines.
// Tokens are trimmed, empty tokens dropped, order kept. Nothing is validated.
func NormalizeIPs(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r", "")

	ips := make([]string, 0)
	for _, part := range separators.Split(raw, -1) {
		if ip := strings.TrimSpace(part); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// BuildRTSP returns the ISAPI streaming URL for a camera. Credentials go into
// the URL as is, RTSP has no other place for them.
func BuildRTSP(host, username, password, channel string) string {
	if channel == "" {
		channel = DefaultChannel
	}
	return fmt.Sprintf(
		"rtsp://%s:%s@%s:%d/ISAPI/Streaming/Channels/%s",
		username, password, host, RTSPPort, channel,
	)
}

// CheckRTSP accepts only rtsp and rtsps links with a host
func CheckRTSP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return fmt.Errorf("unsupported scheme %q, want rtsp", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("rtsp url without host")
	}
	return nil
}

// SnapshotURL returns the still image endpoint, port 0 keeps the default one
func SnapshotURL(host string, port int) string {
	if port > 0 {
		return fmt.Sprintf("http://%s:%d%s", host, port, SnapshotPath)
	}
	return "http://" + host + SnapshotPath
}

func ParseChannel(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultChannel, nil
	case ChannelMain, "main":
		return ChannelMain, nil
	case ChannelSub, "sub":
		return ChannelSub, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// SanitizeHost makes a host usable in file names and stream IDs
func SanitizeHost(host string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, host)
}
