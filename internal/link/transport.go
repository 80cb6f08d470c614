package link

import (
	"io"
	"net"
	"os"
	"strings"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
)

// Transport is the byte pipe to the flight controller. Read deadlines
// let the message pump poll without blocking shutdown.
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Dialer opens a transport for a connection target. The default dialer
// understands serial device paths ("/dev/...", "serial:/dev/...") and
// network targets ("tcp:host:port", "udp:host:port").
type Dialer func(target string, baud int, timeout time.Duration) (Transport, error)

func dial(target string, baud int, timeout time.Duration) (Transport, error) {
	errFactory := errors.New()

	switch {
	case strings.HasPrefix(target, "tcp:"):
		conn, err := net.DialTimeout("tcp", strings.TrimPrefix(target, "tcp:"), timeout)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
		}
		return conn.(*net.TCPConn), nil

	case strings.HasPrefix(target, "udp:"):
		conn, err := net.Dial("udp", strings.TrimPrefix(target, "udp:"))
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
		}
		return conn.(*net.UDPConn), nil

	case strings.HasPrefix(target, "/dev/"), strings.HasPrefix(target, "serial:"):
		path := strings.TrimPrefix(target, "serial:")
		// The line discipline (baud, 8N1) is expected to be configured
		// on the device already; see the deployment docs.
		_ = baud
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
		}
		return f, nil

	default:
		return nil, errFactory.WithData(errors.ErrTransportOpen, target)
	}
}

// isTimeout reports whether err is a read-deadline expiry rather than a
// real transport failure.
func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
