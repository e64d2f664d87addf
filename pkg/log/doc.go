/*
Package log provides structured logging for the node health daemons on
top of zerolog.

Init builds the root logger once at startup, tagging every line with the
daemon name and rendering durations as integer milliseconds (the native
unit of heartbeat work). Components derive child loggers:

	log.Init("hbsagent", log.Config{Level: "info", JSONOutput: true})

	engineLog := log.WithComponent("pulse-engine")
	engineLog.Info().Str("network", "mgmnt").Msg("pulse period started")

Hot error paths (datagram drops, send failures) use a Throttle so a
flapping interface cannot flood the journal:

	var dropLog = log.NewThrottle(100)
	dropLog.Warn(logger, "pulse response with bad magic dropped")

The throttle passes the first occurrence and then one in every N,
carrying the running repeat count; Reset reopens the gate when the
failing operation succeeds again.
*/
package log
