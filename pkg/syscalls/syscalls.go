// Package syscalls is the dispatch layer between a user thread's trap
// (pkg/uthread) and the kernel services it names (spec.md §4.10):
// Exit, Debug, heap sizing/growth, and thread creation.
//
// Handlers are plain Go functions returning an async.Future, the same
// shape gVisor's pkg/sentry/syscalls uses for kernel.SyscallFn, except
// there is no raw syscall number here — wire.SyscallKind already is the
// stable discriminant. Table exists for the same reason gVisor keeps
// one: a single place naming every syscall and its support level, used
// for logging and documentation rather than for dispatch itself (Exit
// never reaches a handler; pkg/uthread resolves it directly).
package syscalls

import (
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/async"
	"github.com/moondust-os/moondust/pkg/wire"
)

// SupportLevel mirrors gVisor's kernel.SupportLevel constants.
type SupportLevel int

const (
	SupportFull SupportLevel = iota
	SupportPartial
	SupportUnimplemented
)

func (s SupportLevel) String() string {
	switch s {
	case SupportFull:
		return "full"
	case SupportPartial:
		return "partial"
	default:
		return "unimplemented"
	}
}

// Syscall documents one dispatchable variant.
type Syscall struct {
	Name         string
	Kind         wire.SyscallKind
	SupportLevel SupportLevel
	Note         string
}

// Supported documents a fully implemented syscall.
func Supported(name string, kind wire.SyscallKind) Syscall {
	return Syscall{Name: name, Kind: kind, SupportLevel: SupportFull, Note: "Fully supported."}
}

// Table is the registry of every dispatchable syscall, keyed by name for
// introspection (strace-style logging, documentation generation).
var Table = []Syscall{
	Supported("exit", wire.KindExit),
	Supported("debug", wire.KindDebug),
	Supported("heap_get_current_size", wire.KindHeapGetSize),
	Supported("heap_increase_by", wire.KindHeapIncreaseBy),
	Supported("process_create_thread", wire.KindCreateThread),
}

// readyFuture resolves to value on its first poll; handlers that never
// need to suspend (every one of ours except CreateThread's spawn, which
// itself never blocks either) return this instead of hand-rolling a
// trivial Future each time.
type readyFuture struct{ value wire.SyscallReply }

func (r readyFuture) Poll(async.Waker) (wire.SyscallReply, async.Poll) { return r.value, async.Ready }

func ready(r wire.SyscallReply) async.Future[wire.SyscallReply] { return readyFuture{r} }

// fail is a small helper so handler bodies read like the dispatch table.
func fail(err error) async.Future[wire.SyscallReply] {
	klog.Debugf("syscalls: handler failed: %v", err)
	return ready(wire.Fail(err))
}
