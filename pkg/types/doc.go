// Package types holds the shared vocabulary of the node health
// subsystem: the alarm severity ladder, the admin/oper/avail state
// triple shadowed from the maintenance master, and the monitored
// network identifiers.
package types
