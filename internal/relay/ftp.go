package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPHost stores objects on an FTP server. Every call opens its own control
// connection, so a stalled upload never poisons later ones.
type FTPHost struct {
	addr     string
	user     string
	password string
	root     string
	baseURL  string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewFTPHost(u *url.URL, baseURL string, timeout time.Duration, logger *slog.Logger) *FTPHost {
	if logger == nil {
		logger = slog.Default()
	}
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}
	h := &FTPHost{
		addr:    addr,
		user:    "anonymous",
		root:    strings.TrimRight(u.Path, "/"),
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}
	if u.User != nil {
		h.user = u.User.Username()
		h.password, _ = u.User.Password()
	}
	return h
}

func (h *FTPHost) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(h.addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(h.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", h.addr, err)
	}
	if err := conn.Login(h.user, h.password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login %s: %w", h.addr, err)
	}
	return conn, nil
}

func (h *FTPHost) remote(p string) (string, error) {
	clean, err := cleanRelayPath(p)
	if err != nil {
		return "", err
	}
	return h.root + clean, nil
}

// Put uploads r to p, creating parent directories as needed.
func (h *FTPHost) Put(ctx context.Context, p string, r io.Reader) error {
	remote, err := h.remote(p)
	if err != nil {
		return err
	}
	conn, err := h.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := h.mkdirAll(conn, path.Dir(remote)); err != nil {
		return err
	}
	if err := conn.Stor(remote, r); err != nil {
		return fmt.Errorf("ftp stor %s: %w", remote, err)
	}
	h.logger.Debug("ftp upload complete", "path", remote)
	return nil
}

// mkdirAll creates each missing directory of dir. MakeDir failures on
// existing directories are expected and ignored.
func (h *FTPHost) mkdirAll(conn *ftp.ServerConn, dir string) error {
	if dir == "/" || dir == "." || dir == "" {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur += "/" + part
		if err := conn.MakeDir(cur); err != nil && !isStatus(err, ftp.StatusFileUnavailable) {
			return fmt.Errorf("ftp mkdir %s: %w", cur, err)
		}
	}
	return nil
}

func (h *FTPHost) Size(ctx context.Context, p string) (int64, bool, error) {
	remote, err := h.remote(p)
	if err != nil {
		return 0, false, err
	}
	conn, err := h.connect(ctx)
	if err != nil {
		return 0, false, err
	}
	defer conn.Quit()

	size, err := conn.FileSize(remote)
	if isStatus(err, ftp.StatusFileUnavailable) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ftp size %s: %w", remote, err)
	}
	return size, true, nil
}

// Delete removes p. A missing object is not an error.
func (h *FTPHost) Delete(ctx context.Context, p string) error {
	remote, err := h.remote(p)
	if err != nil {
		return err
	}
	conn, err := h.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Delete(remote); err != nil && !isStatus(err, ftp.StatusFileUnavailable) {
		return fmt.Errorf("ftp delete %s: %w", remote, err)
	}
	return nil
}

func (h *FTPHost) PublicURL(p string) string {
	return publicURL(h.baseURL, p)
}

func isStatus(err error, code int) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == code
}
