package telegram

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	objectPublicPath = "/storage/v1/object/public/"
	renderPublicPath = "/storage/v1/render/image/public/"
)

// MediaConfig holds image render hints for storage URLs.
type MediaConfig struct {
	Width   int
	Quality int
	Format  string
}

// DefaultMediaConfig returns default render hints.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{Width: 1280, Quality: 80, Format: "origin"}
}

// NormalizeMediaURL rewrites public storage object URLs to the image render
// endpoint so Telegram fetches a resized image. Other URLs are returned as is.
// The second result is false for empty or unparseable URLs.
func NormalizeMediaURL(raw string, cfg MediaConfig) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}

	if !strings.Contains(u.Path, objectPublicPath) {
		return raw, true
	}

	u.Path = strings.Replace(u.Path, objectPublicPath, renderPublicPath, 1)
	u.RawPath = ""

	q := u.Query()
	if cfg.Width > 0 && q.Get("width") == "" {
		q.Set("width", strconv.Itoa(cfg.Width))
	}
	if cfg.Quality > 0 && q.Get("quality") == "" {
		q.Set("quality", strconv.Itoa(cfg.Quality))
	}
	if cfg.Format != "" && q.Get("format") == "" {
		q.Set("format", cfg.Format)
	}
	u.RawQuery = q.Encode()

	return u.String(), true
}

// NormalizeMediaURLs normalizes urls and drops the invalid ones.
func NormalizeMediaURLs(urls []string, cfg MediaConfig) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if u, ok := NormalizeMediaURL(raw, cfg); ok {
			out = append(out, u)
		}
	}
	return out
}
