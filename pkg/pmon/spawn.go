package pmon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Systemd unit search path for recovery-method selection.
var systemdServiceFileDirs = []string{
	"/usr/lib/systemd/system",
	"/etc/systemd/system",
}

// systemctl is the unit control command used for service recovery.
var systemctl = "/usr/bin/systemctl"

// ChildExit is the reaped outcome of one recovery child. The reaper
// goroutine posts it; the main loop folds it into the process record and
// rings the process timer. Nothing else crosses that boundary.
type ChildExit struct {
	Process  string
	Pid      int
	ExitCode int
	RanFor   time.Duration
}

// Spawner forks recovery commands with file-descriptor hygiene: its own
// process group, cwd at /, stdio on /dev/null.
type Spawner struct {
	logger zerolog.Logger
	exits  chan ChildExit
}

// NewSpawner creates a spawner delivering reap results on its channel.
func NewSpawner() *Spawner {
	return &Spawner{
		logger: log.WithComponent("spawn"),
		exits:  make(chan ChildExit, 64),
	}
}

// Exits is the reap channel drained by the supervisor main loop.
func (s *Spawner) Exits() <-chan ChildExit {
	return s.exits
}

// Spawn forks command with argv. Exactly one child per call; the returned
// pid is the child handle the caller must track.
func (s *Spawner) Spawn(process, command string, argv ...string) (int, error) {
	cmd := exec.Command(command, argv...)
	cmd.Dir = "/"
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = 1
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
		}
		s.exits <- ChildExit{
			Process:  process,
			Pid:      pid,
			ExitCode: code,
			RanFor:   time.Since(started),
		}
	}()
	return pid, nil
}

// KillChild terminates a lingering recovery child and its process group.
// Idempotent: a dead or unknown pid is a no-op.
func (s *Spawner) KillChild(p *Process) {
	if p.ChildPid <= 0 {
		return
	}
	unix.Kill(-p.ChildPid, unix.SIGKILL)
	unix.Kill(p.ChildPid, unix.SIGKILL)
	p.ChildPid = 0
}

// KillPid terminates a monitored pid. Used by stop handling.
func KillPid(pid int) {
	if pid <= 0 {
		return
	}
	unix.Kill(pid, unix.SIGKILL)
}

// RecoveryCommand selects how a process is restarted:
// a configured systemd service first, else the init script's unit file if
// one exists under the systemd unit dirs, else the raw init script.
func RecoveryCommand(cfg *config.Process, restart bool) (command string, argv []string) {
	if cfg.Service != "" {
		return systemctl, []string{unitAction(restart), unitName(cfg.Service)}
	}
	if cfg.Script != "" {
		unit := unitName(filepath.Base(cfg.Script))
		for _, dir := range systemdServiceFileDirs {
			if _, err := os.Stat(filepath.Join(dir, unit)); err == nil {
				return systemctl, []string{unitAction(restart), unit}
			}
		}
		if restart {
			return cfg.Script, []string{"restart"}
		}
		return cfg.Script, []string{"start"}
	}
	return "", nil
}

func unitName(name string) string {
	if strings.Contains(name, ".service") {
		return name
	}
	return name + ".service"
}

func unitAction(restart bool) string {
	if restart {
		return "restart"
	}
	return "start"
}
