/*
Package hbs implements the heartbeat pulse engine that runs on controller
nodes.

Every pulse period the active controller multicasts one pulse request per
provisioned network (management and, when configured, cluster). Peers
answer with a pulse response carrying status flags; the engine drains the
response sockets between period boundaries and credits each arrival
against the per-peer outstanding set.

# Architecture

	┌──────────────────── PULSE ENGINE ───────────────────────┐
	│                                                          │
	│  Tick ──▶ miss accounting ──▶ severity ladder ──▶ TX    │
	│                │                    │                    │
	│                ▼                    ▼                    │
	│         MNFA hold-off        events + alarms             │
	│                                                          │
	│  DrainResponses ──▶ filter (magic / controller / self)  │
	│                ──▶ sequence check ──▶ credit peer        │
	└──────────────────────────────────────────────────────────┘

A peer that misses consecutive periods climbs the severity ladder:

	CLEAR ──misses≥minor──▶ MINOR ──misses≥degrade──▶ DEGRADE ──misses≥failure──▶ FAILED

Any accepted response resets the miss counter; each subsequent clean
period lowers the severity one step, clearing events and alarms on the
way down. When several peers trip the failure threshold in the same
period the engine enters multi-node failure avoidance, and the
maintenance master may command a backoff that multiplies the pulse
period until recovery.

The engine also answers service manager queries with a cluster-view
snapshot and watches the SM liveness pulse; see SMServer.

All engine state is owned by the daemon main loop. Sockets are reached
through the narrow PulseSocket interface so tests drive the engine with
in-memory fakes.
*/
package hbs
