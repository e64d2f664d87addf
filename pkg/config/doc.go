/*
Package config loads the maintenance INI surfaces: the agent tuning in
/etc/mtc/mtc.conf (with the .mtc.ini overlay), the process monitor tuning
in /etc/mtc/pmond.conf, and the per-process profiles under /etc/pmon.d.
Required keys are fatal at startup and loggable during reload; tuning
values are clamped to their documented ranges. A fsnotify-based Watcher
flags profile changes for a deferred reload at the next audit.
*/
package config
