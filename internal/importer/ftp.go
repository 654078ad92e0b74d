package importer

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// downloadFTP fetches an ftp:// URL to a local file with an anonymous login.
func downloadFTP(ctx context.Context, rawURL, dest string, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "importer: parse ftp url")
	}
	if u.Path == "" {
		return eris.New("importer: ftp url has no path")
	}

	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	zap.L().Debug("downloading import source over ftp",
		zap.String("host", host), zap.String("path", u.Path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "importer: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return eris.Wrap(err, "importer: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return eris.Wrap(err, "importer: ftp retrieve")
	}
	defer resp.Close()

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "importer: create local file")
	}
	defer f.Close()

	if _, err := io.Copy(f, resp); err != nil {
		return eris.Wrap(err, "importer: download")
	}
	return nil
}
