package pmon

import (
	"github.com/cuemby/nodehealth/pkg/alarm"
	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/metrics"
)

// RestartInProgress reports whether any process is mid commanded-restart;
// a pending reload is postponed one audit while true.
func (s *Supervisor) RestartInProgress() bool {
	for _, p := range s.Processes() {
		if p.Restart {
			return true
		}
	}
	return false
}

// Reload replaces the process profile from dir with fresh-slate alarm
// policy: every saved process alarm is cleared so the new profile decides
// severity from its own observations.
func (s *Supervisor) Reload(dir string) error {
	s.logger.Info().Str("dir", dir).Msg("reloading process profile")

	// saved alarms first, so orphans can be cleared after the re-read
	saved := s.alarms.QueryAll(s.hostname, alarm.IDPmonProcess)

	cfgs, err := config.LoadProcessDir(dir)
	if err != nil {
		// keep running on the old profile; the watcher will re-flag on
		// the next change
		s.logger.Error().Err(err).Msg("profile re-read failed, keeping previous profile")
		return err
	}

	// quiesce the old profile
	for _, p := range s.Processes() {
		s.timers.Stop(p.Timer)
		p.Sock.close()
		p.Sock = nil
		s.unregister(p)
		s.spawner.KillChild(p)
	}

	s.procs = make(map[string]*Process)
	s.order = nil
	s.Load(cfgs)

	// re-register live processes with the kernel
	for _, p := range s.Processes() {
		if p.Pid != 0 && !p.Registered {
			s.register(p)
		}
	}

	// fresh slate: clear saved alarms whether or not the process survived
	// the reload
	for _, rec := range saved {
		s.alarms.Clear(rec.Host, rec.ID, rec.Entity)
	}

	metrics.ConfigReloads.Inc()
	return nil
}
