package msg

import (
	"fmt"
	"net"
	"time"
)

// UnixSocket is the loopback domain-socket variant used to reach the host
// watchdog. Abstract namespace, datagram semantics, write-only from the
// process monitor's point of view.
type UnixSocket struct {
	conn *net.UnixConn
	addr *net.UnixAddr
}

// DialHostwd connects a datagram client to the watchdog's abstract address.
// The leading '@' selects the abstract namespace.
func DialHostwd(name string) (*UnixSocket, error) {
	addr := &net.UnixAddr{Name: "@" + name, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("msg: hostwd dial %s: %w", name, err)
	}
	return &UnixSocket{conn: conn, addr: addr}, nil
}

// ListenUnixgram binds an abstract-namespace datagram server; used by tests
// standing in for the watchdog.
func ListenUnixgram(name string) (*net.UnixConn, error) {
	addr := &net.UnixAddr{Name: "@" + name, Net: "unixgram"}
	return net.ListenUnixgram("unixgram", addr)
}

// Write sends one datagram to the watchdog.
func (u *UnixSocket) Write(buf []byte) (int, error) {
	if u == nil || u.conn == nil {
		return 0, ErrNotWritable
	}
	u.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return u.conn.Write(buf)
}

// Close releases the socket. Nil-safe.
func (u *UnixSocket) Close() error {
	if u == nil || u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
