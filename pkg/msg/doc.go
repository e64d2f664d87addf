/*
Package msg is the address-family-agnostic datagram messaging layer.

One Socket type serves both directions, distinguished by a capability set
rather than a type hierarchy: BindRx builds readers (optionally joining a
multicast group on a named interface), BindTx builds writers (optionally
device-bound for forced egress). Reads are non-blocking; an empty queue
returns ErrNoData so single-threaded main loops can drain and move on.

Pulse sockets are marked with DSCP CS6 and SO_PRIORITY 6 so heartbeat
traffic survives congested links. Address resolution tries IPv6 first
and falls back to IPv4.

The host watchdog is reached over an abstract-namespace unix datagram
socket; see DialHostwd.
*/
package msg
