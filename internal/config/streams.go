package config

import (
	"fmt"
	"net/url"
)

// RTSPPort is the well-known camera streaming and control port.
const RTSPPort = 554

// Quality names the stream variant requested from a camera.
type Quality string

const (
	QualityHigh     Quality = "hq"
	QualityStandard Quality = "sd"
)

// PathSegment returns the URL path segment for the quality tier.
func (q Quality) PathSegment() string {
	if q == QualityHigh {
		return "stream1"
	}
	return "stream2"
}

// StreamConfig is the immutable per-session snapshot of one camera slot.
// A session is built from it once; changing it means tearing the session
// down and rebuilding.
type StreamConfig struct {
	Index        int
	IP           string
	Username     string
	Password     string
	HQEnabled    bool
	AudioEnabled bool
}

// StreamURL derives the RTSP URL for the configured quality tier. It is
// empty when the IP or either credential is missing.
func (c StreamConfig) StreamURL() string {
	return c.URLForQuality(c.Quality())
}

// Quality returns the currently configured quality tier.
func (c StreamConfig) Quality() Quality {
	if c.HQEnabled {
		return QualityHigh
	}
	return QualityStandard
}

// URLForQuality derives the RTSP URL for an explicit quality tier.
func (c StreamConfig) URLForQuality(q Quality) string {
	if c.IP == "" || c.Username == "" || c.Password == "" {
		return ""
	}
	u := url.URL{
		Scheme: "rtsp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.IP, RTSPPort),
		Path:   "/" + q.PathSegment(),
	}
	return u.String()
}

// StreamConfigs derives the per-slot session snapshots, applying default
// credentials to any slot without its own.
func (c *Config) StreamConfigs() [NumCameras]StreamConfig {
	var out [NumCameras]StreamConfig
	for i := 0; i < NumCameras; i++ {
		cam := c.Cameras[i]
		user, pass := cam.Username, cam.Password
		if user == "" {
			user = c.Credentials.Username
		}
		if pass == "" {
			pass = c.Credentials.Password
		}
		out[i] = StreamConfig{
			Index:        i,
			IP:           cam.IP,
			Username:     user,
			Password:     pass,
			HQEnabled:    cam.HQEnabled,
			AudioEnabled: cam.AudioEnabled,
		}
	}
	return out
}

// ResolveURLs derives each slot's stream URL and disables later duplicates:
// when two enabled slots resolve to the same URL only the first (lowest
// index) keeps it, the rest get an empty URL and stay Disabled.
func ResolveURLs(cfgs [NumCameras]StreamConfig) [NumCameras]string {
	var urls [NumCameras]string
	seen := make(map[string]struct{}, NumCameras)
	for i, sc := range cfgs {
		u := sc.StreamURL()
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls[i] = u
	}
	return urls
}
