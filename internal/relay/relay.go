// Package relay uploads media objects to the host that serves them publicly.
package relay

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"tgmirror/internal/domain"
)

// Open builds a RelayHost from a relay URL. ftp:// uploads over FTP and
// file:// writes into a local directory served by some other process.
func Open(rawURL, baseURL string, timeout time.Duration, logger *slog.Logger) (domain.RelayHost, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ftp":
		return NewFTPHost(u, baseURL, timeout, logger), nil
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + dir
		}
		return NewDirHost(dir, baseURL)
	default:
		return nil, fmt.Errorf("unsupported relay scheme: %q", u.Scheme)
	}
}

// publicURL joins a base URL and a relay path with exactly one slash.
func publicURL(baseURL, relayPath string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(relayPath, "/")
}

// cleanRelayPath rejects paths that would escape the relay root.
func cleanRelayPath(p string) (string, error) {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid relay path %q", p)
		}
	}
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid relay path %q", p)
	}
	return clean, nil
}
