package comm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

var (
	// ErrNotConnected is generated when an operation is attempted on a nil
	// connection.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response.
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminator wraps a ReadWriter, appending the Tx terminator to writes and
// consuming up to (and stripping) the Rx terminator on reads.
type Terminator struct {
	rx, tx byte
	rw     io.ReadWriter
	rdr    *bufio.Reader
}

// NewTerminator returns a Terminator wrapping rw with the given Rx and Tx
// termination bytes.
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rx: rx, tx: tx, rw: rw, rdr: bufio.NewReader(rw)}
}

// Write sends b with the Tx terminator appended.
func (t *Terminator) Write(b []byte) (int, error) {
	b = append(b, t.tx)
	n, err := t.rw.Write(b)
	if n == len(b) {
		n--
	}
	return n, err
}

// Read reads up to the Rx terminator and strips it.  len(b) must be large
// enough to hold the reply, or the remainder is left for the next call.
func (t *Terminator) Read(b []byte) (int, error) {
	buf, err := t.rdr.ReadBytes(t.rx)
	if err != nil {
		return copy(b, buf), err
	}
	buf = bytes.TrimSuffix(buf, []byte{t.rx})
	return copy(b, buf), nil
}

// Timeout wraps a ReadWriter that has deadline semantics (a net.Conn),
// refreshing the deadline before each read and write.
type Timeout struct {
	conn    net.Conn
	timeout time.Duration
}

// NewTimeout wraps rw with per-operation deadlines.  rw must be backed by a
// net.Conn at some depth; if it is not, an error is returned.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	switch v := rw.(type) {
	case net.Conn:
		return &Timeout{conn: v, timeout: timeout}, nil
	case *Terminator:
		inner, err := NewTimeout(v.rw, timeout)
		if err != nil {
			return nil, err
		}
		return NewTerminator(inner, v.rx, v.tx), nil
	default:
		return nil, errors.New("comm: ReadWriter is not deadline capable")
	}
}

// Write refreshes the write deadline, then writes.
func (t *Timeout) Write(b []byte) (int, error) {
	err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.conn.Write(b)
}

// Read refreshes the read deadline, then reads.
func (t *Timeout) Read(b []byte) (int, error) {
	err := t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.conn.Read(b)
}
