package pmon

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Active-monitor datagram protocol. Outbound pulses carry the process
// name, a magic number and a climbing sequence; a healthy process answers
// with the complement of the magic and the echoed sequence.
//
//	outbound: "<process> <magic:hex> <seq:dec>"
//	inbound:  "<process> <magic^0xffffffff:hex> <seq:dec>"
const (
	amonMagic    = 0x12345678
	amonMagicRsp = amonMagic ^ 0xffffffff
	amonMaxLen   = 100
)

// ErrAmonParse marks an inbound message that fails protocol checks.
var ErrAmonParse = errors.New("pmon: active monitor message rejected")

// ErrNoPulse means the response queue was empty.
var ErrNoPulse = errors.New("pmon: no pulse response queued")

// activeSocket is the loopback exchange with one actively monitored
// process.
type activeSocket struct {
	conn *net.UDPConn
	port int
}

func openActiveSocket(port int) (*activeSocket, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("pmon: active socket port %d: %w", port, err)
	}
	return &activeSocket{conn: conn, port: port}, nil
}

func (a *activeSocket) close() {
	if a != nil && a.conn != nil {
		a.conn.Close()
	}
}

// sendPulse transmits one pulse request with the given sequence.
func (a *activeSocket) sendPulse(process string, seq uint32) error {
	msg := fmt.Sprintf("%s %x %d", process, uint32(amonMagic), seq)
	_, err := a.conn.Write([]byte(msg))
	return err
}

// recvPulse drains one response if queued; ErrAmonParse covers malformed
// or wrong-magic messages, ErrNoPulse means the queue was empty.
func (a *activeSocket) recvPulse(process string) (uint32, error) {
	raw, err := a.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	ready := false
	var pollErr error
	if err := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		var n int
		n, pollErr = unix.Poll(fds, 0)
		ready = n > 0
	}); err != nil {
		return 0, err
	}
	if pollErr != nil {
		return 0, pollErr
	}
	if !ready {
		return 0, ErrNoPulse
	}
	buf := make([]byte, amonMaxLen+1)
	a.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	n, err := a.conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, ErrNoPulse
		}
		return 0, err
	}

	var name string
	var magic uint32
	var seq uint32
	if _, err := fmt.Sscanf(string(buf[:n]), "%s %x %d", &name, &magic, &seq); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAmonParse, err)
	}
	if name != process {
		return 0, fmt.Errorf("%w: name %q", ErrAmonParse, name)
	}
	if magic != amonMagicRsp {
		return 0, fmt.Errorf("%w: magic %x", ErrAmonParse, magic)
	}
	return seq, nil
}
