package event

import (
	"fmt"
	"net"
)

// UDPSender delivers encoded events to the maintenance master's event
// port, mirroring each one onto the internal feed as well.
type UDPSender struct {
	conn *net.UDPConn
	feed *Feed
}

// NewUDPSender dials the maintenance master event port on the loopback.
// The feed is optional.
func NewUDPSender(port int, feed *Feed) (*UDPSender, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("event: dial port %d: %w", port, err)
	}
	return &UDPSender{conn: conn, feed: feed}, nil
}

// Send encodes and transmits one event.
func (s *UDPSender) Send(ev *Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(data); err != nil {
		return err
	}
	if s.feed != nil {
		s.feed.Publish(ev)
	}
	return nil
}

// Close releases the sender socket.
func (s *UDPSender) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
