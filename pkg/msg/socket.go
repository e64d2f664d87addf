package msg

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrHostAddrLookup is returned when a peer name resolves on neither
	// address family.
	ErrHostAddrLookup = errors.New("msg: host address lookup failed")

	// ErrNoData is returned by Read when the socket has nothing queued.
	ErrNoData = errors.New("msg: no data")

	// ErrNotReadable and ErrNotWritable guard capability misuse.
	ErrNotReadable = errors.New("msg: socket is not readable")
	ErrNotWritable = errors.New("msg: socket is not writable")
)

// DSCP CS6 shifted into the TOS byte, and the matching skb priority, as
// required for pulse traffic.
const (
	tosCS6     = 0xc0
	soPriority = 6
)

// rmemMaxPath is consulted to clamp receive-buffer requests.
const rmemMaxPath = "/proc/sys/net/core/rmem_max"

// Capability describes what a socket variant may do.
type Capability struct {
	CanRead      bool
	CanWrite     bool
	CanMulticast bool
}

// Socket is an address-family-agnostic UDP endpoint. RX and TX variants are
// built by BindRx and BindTx; both share this one type with a capability
// set rather than a type hierarchy.
type Socket struct {
	conn  *net.UDPConn
	caps  Capability
	iface string
	addr  *net.UDPAddr // bind address for rx, destination for tx
	v6    bool
}

// Addr returns the socket's primary address (bind address for RX sockets,
// destination for TX sockets).
func (s *Socket) Addr() *net.UDPAddr {
	return s.addr
}

// Caps returns the socket capability set.
func (s *Socket) Caps() Capability {
	return s.caps
}

// Close releases the underlying descriptor. Safe on a nil socket so that
// reinit paths need no guards.
func (s *Socket) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Resolve looks up a host address, IPv6 first with IPv4 fallback.
func Resolve(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHostAddrLookup, host)
	}
	var v4 net.IP
	for _, ip := range ips {
		if ip.To4() == nil {
			return ip, nil
		}
		if v4 == nil {
			v4 = ip
		}
	}
	if v4 == nil {
		return nil, fmt.Errorf("%w: %s", ErrHostAddrLookup, host)
	}
	return v4, nil
}

// BindRx opens a receive socket on addr:port. With allowAny the socket binds
// the wildcard address instead. With mcast the socket joins addr as a
// multicast group on iface.
func BindRx(addr string, port int, iface string, allowAny, mcast bool) (*Socket, error) {
	ip, err := Resolve(addr)
	if err != nil {
		return nil, err
	}
	v6 := ip.To4() == nil

	bindIP := ip
	if allowAny || mcast {
		bindIP = net.IPv4zero
		if v6 {
			bindIP = net.IPv6zero
		}
	}

	conn, err := listenReuse(&net.UDPAddr{IP: bindIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("msg: rx bind %s:%d: %w", addr, port, err)
	}

	s := &Socket{
		conn:  conn,
		caps:  Capability{CanRead: true, CanMulticast: mcast},
		iface: iface,
		addr:  &net.UDPAddr{IP: ip, Port: port},
		v6:    v6,
	}
	if mcast {
		if err := s.joinGroup(ip, iface); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return s, nil
}

// BindTx opens a transmit socket destined for addr:port. A non-empty iface
// forces egress through that device.
func BindTx(addr string, port int, iface string) (*Socket, error) {
	ip, err := Resolve(addr)
	if err != nil {
		return nil, err
	}
	v6 := ip.To4() == nil

	local := &net.UDPAddr{IP: net.IPv4zero}
	if v6 {
		local.IP = net.IPv6zero
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("msg: tx bind for %s:%d: %w", addr, port, err)
	}

	s := &Socket{
		conn:  conn,
		caps:  Capability{CanWrite: true},
		iface: iface,
		addr:  &net.UDPAddr{IP: ip, Port: port},
		v6:    v6,
	}
	if iface != "" {
		if err := s.bindToDevice(iface); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return s, nil
}

// Read performs a non-blocking receive. ErrNoData means the queue was empty.
func (s *Socket) Read(buf []byte) (int, *net.UDPAddr, error) {
	if !s.caps.CanRead {
		return 0, nil, ErrNotReadable
	}
	ready := false
	if err := s.control(func(fd int) error {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		ready = n > 0
		return err
	}); err != nil {
		return 0, nil, err
	}
	if !ready {
		return 0, nil, ErrNoData
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		return 0, nil, err
	}
	n, peer, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, ErrNoData
		}
		return 0, nil, err
	}
	return n, peer, nil
}

// Write sends buf to the socket's destination, or to override when given.
func (s *Socket) Write(buf []byte, override *net.UDPAddr) (int, error) {
	if !s.caps.CanWrite {
		return 0, ErrNotWritable
	}
	dst := s.addr
	if override != nil {
		dst = override
	}
	return s.conn.WriteToUDP(buf, dst)
}

// SetPriority marks the socket for expedited forwarding: DSCP CS6 plus
// SO_PRIORITY 6 so pulse traffic survives congested links.
func (s *Socket) SetPriority() error {
	return s.control(func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, soPriority); err != nil {
			return err
		}
		if s.v6 {
			return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tosCS6)
		}
		return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tosCS6)
	})
}

// SetRcvBuf requests a receive buffer of size bytes, clamped to the system
// rmem_max ceiling.
func (s *Socket) SetRcvBuf(size int) error {
	if max := readRmemMax(); max > 0 && size > max {
		size = max
	}
	return s.control(func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	})
}

func (s *Socket) bindToDevice(iface string) error {
	return s.control(func(fd int) error {
		return unix.BindToDevice(fd, iface)
	})
}

func (s *Socket) joinGroup(group net.IP, iface string) error {
	return s.control(func(fd int) error {
		if s.v6 {
			mreq := &unix.IPv6Mreq{}
			copy(mreq.Multiaddr[:], group.To16())
			if iface != "" {
				if ifi, err := net.InterfaceByName(iface); err == nil {
					mreq.Interface = uint32(ifi.Index)
				}
			}
			return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
		}
		mreq := &unix.IPMreqn{}
		copy(mreq.Multiaddr[:], group.To4())
		if iface != "" {
			if ifi, err := net.InterfaceByName(iface); err == nil {
				mreq.Ifindex = int32(ifi.Index)
			}
		}
		return unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	})
}

func (s *Socket) control(fn func(fd int) error) error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}

// listenReuse binds a UDP listener with SO_REUSEADDR so a restarting daemon
// does not trip over a lingering socket.
func listenReuse(laddr *net.UDPAddr) (*net.UDPConn, error) {
	fd, err := unix.Socket(family(laddr.IP), unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sockaddr(laddr)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "udp")
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	uc, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("msg: unexpected conn type %T", conn)
	}
	return uc, nil
}

func family(ip net.IP) int {
	if ip.To4() == nil {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

func sockaddr(a *net.UDPAddr) unix.Sockaddr {
	if a.IP.To4() == nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: a.Port}
	copy(sa.Addr[:], a.IP.To4())
	return sa
}

func readRmemMax() int {
	data, err := os.ReadFile(rmemMaxPath)
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return v
}
