package comm

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read,
// and write.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// backoffPolicy is the dial retry schedule.  Data servers that are starting
// up refuse connections briefly; thrashing them with immediate redials
// extends the window.
func backoffPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP,
// retrying with exponential backoff when the connection is refused.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		wasTimeout := false
		op := func() error {
			var err error
			conn, err = net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return err
				}
				// backoff would retry timeouts forever within its budget;
				// a timeout here means the host is absent, bail out
				wasTimeout = true
				return nil
			}
			return nil
		}
		err := backoff.Retry(op, backoffPolicy())
		if err == nil && !wasTimeout {
			return conn, nil
		}
		if wasTimeout {
			return nil, fmt.Errorf("connection timeout to %s", addr)
		}
		return nil, err
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf.  Used for direct bench links that bypass a data server.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}
