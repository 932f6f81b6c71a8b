package tabular

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPScheme prefixes a table file fetched over FTP, such as
// ftp://drop.example.com/leads/march.xlsx. Credentials in the URL are used
// to log in, else the anonymous account.
const FTPScheme = "ftp://"

const defaultFTPTimeout = 30 * time.Second

type ftpTarget struct {
	host string
	path string
	user string
	pass string
}

func parseFTPSource(source string) (ftpTarget, error) {
	u, err := url.Parse(source)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "tabular: parse ftp source")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("tabular: expected ftp scheme, got %q", u.Scheme)
	}
	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", pass: "anonymous@"}
	if _, _, err := net.SplitHostPort(t.host); err != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	switch path.Base(t.path) {
	case ".", "..", "/":
		return ftpTarget{}, eris.Errorf("tabular: ftp source %q names no file", source)
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.pass = p
		}
	}
	return t, nil
}

// fetchFTP downloads source into dir under its own file name, so the
// extension still picks the reader. It returns the local path.
func fetchFTP(ctx context.Context, source, dir string, timeout time.Duration) (string, error) {
	t, err := parseFTPSource(source)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}
	log := zap.L().With(zap.String("host", t.host), zap.String("path", t.path))
	log.Debug("tabular: fetching over ftp")

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return "", eris.Wrapf(err, "tabular: ftp dial %s", t.host)
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(t.user, t.pass); err != nil {
		return "", eris.Wrap(err, "tabular: ftp login")
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		return "", eris.Wrapf(err, "tabular: ftp retrieve %s", t.path)
	}

	local := filepath.Join(dir, path.Base(t.path))
	f, err := os.Create(local)
	if err != nil {
		resp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "tabular: create ftp download")
	}
	n, err := io.Copy(f, resp)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if cerr := resp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", eris.Wrap(err, "tabular: save ftp download")
	}
	log.Debug("tabular: ftp fetch done", zap.Int64("bytes", n))
	return local, nil
}
