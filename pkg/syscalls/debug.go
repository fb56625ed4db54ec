package syscalls

import (
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/async"
	"github.com/moondust-os/moondust/pkg/uthread"
	"github.com/moondust-os/moondust/pkg/wire"
)

// debug implements both wire.SyscallRequest Debug variants: a trusted
// DebugStr fast path for kernel-internal callers (the boot demo, tests),
// and a DebugPtr/DebugLen path for a real thread's user pointer. Per
// spec.md §4.10's sanitization rule, the pointer is checked against the
// thread's mapped-range tree before it is dereferenced; DebugStr bypasses
// that check entirely and must never be fed untrusted input.
func (p *Process) debug(t *uthread.Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
	if req.DebugPtr != 0 {
		return p.debugFromUserPointer(t, req)
	}
	return p.debugFromTrustedString(t, req.DebugStr)
}

func (p *Process) debugFromTrustedString(t *uthread.Thread, msg string) async.Future[wire.SyscallReply] {
	klog.WithField("thread", t.ID).Infof("user debug: %s", msg)
	return ready(wire.NoVal())
}

func (p *Process) debugFromUserPointer(t *uthread.Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
	b, err := t.PageTable.Bytes(req.DebugPtr, req.DebugLen, false)
	if err != nil {
		return fail(err)
	}
	klog.WithField("thread", t.ID).Infof("user debug: %s", string(b))
	return ready(wire.NoVal())
}
