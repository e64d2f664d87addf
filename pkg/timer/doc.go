/*
Package timer provides the logical timer service used by the daemons'
state machines.

Each logical timer delivers a ring flag at its requested instant; state
machines poll Expired at their own pace and Reset when consumed.
Re-arming an armed timer cancels the previous expiry, stops are
idempotent, and rings from a cancelled arm generation are recorded to a
diagnostic counter instead of being dispatched. The service keeps a
process-wide active count and refuses durations beyond a fixed ceiling.
*/
package timer
