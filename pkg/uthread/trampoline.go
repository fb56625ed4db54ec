package uthread

import "github.com/moondust-os/moondust/pkg/wire"

// Syscall is the program-image goroutine's trampoline: the Go-native
// stand-in for executing a SYSCALL instruction. It captures the
// request, publishes it onto the thread (the Go equivalent of the naked
// entry stub saving SAVED_REGS and jumping back into poll at the
// "resume point"), wakes the thread's waker so the executor re-polls it,
// and then blocks until the handler's reply is ready — this block *is*
// the long jump back to the return island: it suspends the program
// goroutine without touching the OS thread the executor runner is using.
//
// A KindExit request never returns: there is no reply to wait for, and
// the thread future resolves Ready directly from the Syscall state
// without ever unblocking this call, matching spec.md's cancellation
// note that the program goroutine is leaked-and-blocked-forever once the
// process is exiting.
func (t *Thread) Syscall(req wire.SyscallRequest) wire.SyscallReply {
	if req.Kind == wire.KindExit {
		t.trap(req, nil)
		select {}
	}

	doneCh := make(chan struct{})
	t.trap(req, doneCh)
	<-doneCh

	t.mu.Lock()
	reply := t.syscall.reply
	t.mu.Unlock()
	return reply
}

// trap installs req as the thread's pending syscall and wakes whoever is
// polling the thread future.
func (t *Thread) trap(req wire.SyscallRequest, doneCh chan struct{}) {
	t.mu.Lock()
	t.state = stateSyscall
	t.syscall = &syscallState{req: req, doneCh: doneCh}
	w := t.waker
	t.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}
