/*
Package alarm translates symbolic alarm requests into deduplicated
set/clear operations against fault management.

The Manager caches the last severity forwarded per (host, id, entity):
re-raising at an unchanged severity is a no-op, and clears are suppressed
when there is nothing to clear. Entity instances follow the
host=<hostname>[.process=<name>] convention.

Symbolic requests can also arrive as JSON batches over a loopback UDP
port; see Queue. Bad entries are dropped individually, never the batch.
*/
package alarm
