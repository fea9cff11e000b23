package main

import (
	"bufio"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/perch-irc/perch/irc"
)

// Conn is a buffered connection to a client. It works identically over
// plain TCP and TLS since both satisfy net.Conn.
type Conn struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	ioWait time.Duration
	IP     net.IP
}

// NewConn initializes a Conn. ioWait of zero disables I/O deadlines;
// liveness timeouts then do all the policing.
func NewConn(conn net.Conn, ioWait time.Duration) Conn {
	return Conn{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait: ioWait,
		IP:     remoteIP(conn),
	}
}

func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Close closes the underlying connection.
func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadChunk reads whatever bytes are available into buf. Framing is the
// parser's job, not ours.
func (c Conn) ReadChunk(buf []byte) (int, error) {
	if c.ioWait > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
			return 0, errors.Wrap(err, "error setting read deadline")
		}
	}

	n, err := c.rw.Read(buf)
	if err != nil {
		return n, errors.Wrap(err, "error reading")
	}
	return n, nil
}

// WriteMessage encodes and writes a single message.
func (c Conn) WriteMessage(m irc.Message) error {
	if c.ioWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
			return errors.Wrap(err, "error setting write deadline")
		}
	}

	line := m.Encode()

	n, err := c.rw.Write(line)
	if err != nil {
		return errors.Wrap(err, "error writing")
	}
	if n != len(line) {
		return errors.New("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return errors.Wrap(err, "flush error")
	}
	return nil
}
