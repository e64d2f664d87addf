package pmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryCommandSelection(t *testing.T) {
	unitDir := t.TempDir()
	oldDirs := systemdServiceFileDirs
	systemdServiceFileDirs = []string{unitDir}
	t.Cleanup(func() { systemdServiceFileDirs = oldDirs })

	require.NoError(t, os.WriteFile(filepath.Join(unitDir, "withunit.service"), nil, 0644))

	tests := []struct {
		name        string
		cfg         config.Process
		restart     bool
		wantCommand string
		wantArgv    []string
	}{
		{
			name:        "configured service wins",
			cfg:         config.Process{Service: "sshd"},
			wantCommand: systemctl,
			wantArgv:    []string{"start", "sshd.service"},
		},
		{
			name:        "service restart",
			cfg:         config.Process{Service: "sshd"},
			restart:     true,
			wantCommand: systemctl,
			wantArgv:    []string{"restart", "sshd.service"},
		},
		{
			name:        "script with matching unit file",
			cfg:         config.Process{Script: "/etc/init.d/withunit"},
			wantCommand: systemctl,
			wantArgv:    []string{"start", "withunit.service"},
		},
		{
			name:        "raw script fallback",
			cfg:         config.Process{Script: "/etc/init.d/nounit"},
			wantCommand: "/etc/init.d/nounit",
			wantArgv:    []string{"start"},
		},
		{
			name:        "raw script restart",
			cfg:         config.Process{Script: "/etc/init.d/nounit"},
			restart:     true,
			wantCommand: "/etc/init.d/nounit",
			wantArgv:    []string{"restart"},
		},
		{
			name:        "no recovery method",
			cfg:         config.Process{},
			wantCommand: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, argv := RecoveryCommand(&tt.cfg, tt.restart)
			assert.Equal(t, tt.wantCommand, command)
			assert.Equal(t, tt.wantArgv, argv)
		})
	}
}

func TestSpawnReportsExit(t *testing.T) {
	s := NewSpawner()

	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{"clean exit", []string{"-c", "exit 0"}, 0},
		{"failing exit", []string{"-c", "exit 3"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := s.Spawn("test-proc", "/bin/sh", tt.args...)
			require.NoError(t, err)
			require.NotZero(t, pid)

			select {
			case exit := <-s.Exits():
				assert.Equal(t, "test-proc", exit.Process)
				assert.Equal(t, pid, exit.Pid)
				assert.Equal(t, tt.wantCode, exit.ExitCode)
				assert.Greater(t, exit.RanFor, time.Duration(0))
			case <-time.After(5 * time.Second):
				t.Fatal("child exit never reported")
			}
		})
	}
}

func TestSpawnBadCommand(t *testing.T) {
	s := NewSpawner()
	_, err := s.Spawn("ghost", "/definitely/not/a/command")
	assert.Error(t, err)
}

func TestKillChildIdempotent(t *testing.T) {
	s := NewSpawner()
	p := &Process{Cfg: &config.Process{Name: "x"}}
	s.KillChild(p) // no child: no-op
	assert.Zero(t, p.ChildPid)

	pid, err := s.Spawn("x", "/bin/sh", "-c", "sleep 30")
	require.NoError(t, err)
	p.ChildPid = pid
	s.KillChild(p)
	s.KillChild(p)
	assert.Zero(t, p.ChildPid)

	select {
	case exit := <-s.Exits():
		assert.NotZero(t, exit.ExitCode, "killed child reports failure")
	case <-time.After(5 * time.Second):
		t.Fatal("killed child never reaped")
	}
}
