/*
Package event carries maintenance events to the master and to in-process
subscribers.

The wire format is a fixed header, a command word, parameter words (the
first names the originating interface) and a JSON trailer with hostname
and service. The Feed mirrors sent events to in-process observers; the
single publisher is the daemon main loop, so delivery is synchronous and
a lagging observer drops events rather than stalling the loop.
*/
package event
