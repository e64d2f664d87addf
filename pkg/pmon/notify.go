package pmon

import (
	"errors"
	"unsafe"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Kernel death-notification registration. On kernels carrying the
// task-state notification patch, prctl delivers a signal when a registered
// pid exits or is killed; stock kernels answer EINVAL and the monitor
// falls back to pidfile polling at audit boundaries.

const (
	prDoNotifyTaskState = 17

	notifyEventExited = 0x1
	notifyEventKilled = 0x2
)

type taskStateNotify struct {
	pid    int32
	events uint32
	sig    int32
}

// Notifier registers monitored pids for kernel death notification.
type Notifier struct {
	logger  zerolog.Logger
	polling bool
}

// NewNotifier probes kernel support once at startup.
func NewNotifier() *Notifier {
	n := &Notifier{logger: log.WithComponent("notify")}
	if err := n.register(int32(unix.Getpid()), 0); errors.Is(err, unix.EINVAL) {
		n.polling = true
		n.logger.Warn().Msg("kernel task-state notification unsupported, falling back to pidfile polling")
	}
	return n
}

// Polling reports whether the kernel facility is unavailable and the
// supervisor must poll pidfiles instead.
func (n *Notifier) Polling() bool {
	return n.polling
}

// Register subscribes to exit/kill events for pid. A no-op in polling mode.
func (n *Notifier) Register(pid int) error {
	if n.polling || pid <= 0 {
		return nil
	}
	if err := n.register(int32(pid), notifyEventExited|notifyEventKilled); err != nil {
		return err
	}
	return nil
}

// Unregister drops the subscription for pid. Idempotent.
func (n *Notifier) Unregister(pid int) {
	if n.polling || pid <= 0 {
		return
	}
	n.register(int32(pid), 0)
}

func (n *Notifier) register(pid int32, events uint32) error {
	info := taskStateNotify{pid: pid, events: events, sig: int32(unix.SIGCHLD)}
	_, _, errno := unix.Syscall(unix.SYS_PRCTL,
		uintptr(prDoNotifyTaskState),
		uintptr(unsafe.Pointer(&info)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
