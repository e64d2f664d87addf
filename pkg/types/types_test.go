package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityLadderOrder(t *testing.T) {
	assert.Less(t, int(SeverityClear), int(SeverityWarning))
	assert.Less(t, int(SeverityWarning), int(SeverityMinor))
	assert.Less(t, int(SeverityMinor), int(SeverityMajor))
	assert.Less(t, int(SeverityMajor), int(SeverityCritical))
}

func TestSeverityStringParseRoundTrip(t *testing.T) {
	for _, sev := range []Severity{SeverityClear, SeverityWarning, SeverityMinor, SeverityMajor, SeverityCritical} {
		assert.Equal(t, sev, ParseSeverity(sev.String()))
	}
	assert.Equal(t, SeverityClear, ParseSeverity("garbage"))
}

func TestHostStateMonitorable(t *testing.T) {
	tests := []struct {
		name  string
		state HostState
		want  bool
	}{
		{"unlocked enabled", HostState{Admin: AdminUnlocked, Oper: OperEnabled}, true},
		{"locked", HostState{Admin: AdminLocked, Oper: OperEnabled}, false},
		{"disabled", HostState{Admin: AdminUnlocked, Oper: OperDisabled}, false},
		{"empty", HostState{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Monitorable())
		})
	}
}

func TestNetworkNames(t *testing.T) {
	assert.Equal(t, "mgmnt", NetworkMgmnt.String())
	assert.Equal(t, "clstr", NetworkClstr.String())
}
