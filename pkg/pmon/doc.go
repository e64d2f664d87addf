/*
Package pmon implements the local process monitor.

The supervisor owns one Process record per /etc/pmon.d profile and drives
three monitoring modes from the daemon main loop:

Passive: the pidfile pid is checked each audit; a dead pid enters the
recovery state machine, which respawns through the configured service or
init script, waits out the startup window, and debounces the fresh pid
before declaring success. Restart attempts are budgeted; consuming the
budget raises the configured alarm, and quorum members escalate to the
host watchdog when recovery is exhausted.

Active: the process additionally answers loopback pulse datagrams. A
threshold of back-to-back misses is a failure handed to the passive
machine for restart. Newly started processes get a grace window before
misses count.

Status: supervision runs the profile's script with a status argument
every period, and with the start argument when status fails. Explicit
start/stop/restart commands are rejected for status-mode processes.

Child processes are forked through the Spawner, which reaps on its own
goroutine and publishes exit results over a channel; the main loop folds
those into the owning Process and rings its timer. The kernel
death-notification facility is used when available, with a pidfile
polling fallback on stock kernels.
*/
package pmon
