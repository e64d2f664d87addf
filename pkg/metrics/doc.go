/*
Package metrics exposes prometheus collectors for both daemons: pulse
traffic and miss gauges on the heartbeat side, restart and failure
counters on the process monitor side, plus alarm and reload counters.
Serve publishes the standard promhttp endpoint; the daemons run fine
with metrics disabled.
*/
package metrics
