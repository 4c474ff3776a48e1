package source

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-intel/cdrscope/internal/normalize"
	"github.com/lattice-intel/cdrscope/internal/resilience"
)

// FTPOptions configures the FTP row source. Empty credentials default to
// anonymous login.
type FTPOptions struct {
	User     string
	Password string
	Timeout  time.Duration
	CSV      CSVOptions
}

// FetchCSV retrieves a CSV export over FTP and parses it into raw rows.
// Transient transfer failures are retried whole; FTP offers no resume.
func FetchCSV(ctx context.Context, ftpURL string, opts FTPOptions) ([]normalize.Row, error) {
	return resilience.DoVal(ctx, resilience.DefaultPolicy(), func(ctx context.Context) ([]normalize.Row, error) {
		rc, err := download(ctx, ftpURL, opts)
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		return ReadCSV(ctx, rc, opts.CSV)
	})
}

func download(ctx context.Context, ftpURL string, opts FTPOptions) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	user, pass := opts.User, opts.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}

	zap.L().Debug("source: ftp connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp dial %s", host)
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "source: ftp login")
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "source: ftp retrieve %s", path)
	}

	return &ftpReader{resp: resp, conn: conn}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "source: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("source: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return "", "", eris.New("source: empty path in ftp url")
	}
	return host, u.Path, nil
}

// ftpReader closes both the transfer and the control connection on Close.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "source: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "source: quit ftp connection")
	}
	return nil
}
