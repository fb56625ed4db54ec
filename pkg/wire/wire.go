// Package wire defines the request/reply shapes that cross the
// simulated user/kernel boundary in pkg/uthread (spec.md §4.9's
// SyscallState and §4.10's dispatch table).
//
// There is no real wire format here: the "boundary" a syscall crosses in
// this rewrite is a Go channel between two goroutines in the same
// process, not a network or IPC boundary, so there is nothing to
// serialize — SyscallRequest and SyscallReply are passed by value the
// way any other in-process Go call would pass them. See DESIGN.md for
// why this rules out the protobuf path gVisor's own checkpoint/restore
// code takes for its wire format.
package wire

// Registers is the logical register snapshot captured on every
// user→kernel transition and re-applied on every kernel→user
// transition, per spec.md §3. In this rewrite there is no real CPU
// register file to save; RIP/RSP/RBP/RFlags and the general-purpose
// slots are the program-image goroutine's logical view of its own
// call/argument state. Result is not written by the kernel: a completed
// syscall's reply is handed back as Thread.Syscall's return value.
type Registers struct {
	RIP, RSP, RBP, RFlags uint64
	RAX, RBX, RCX, RDX    uint64
	RSI, RDI              uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	Result                uint64
}

// SyscallKind tags which variant of SyscallRequest is populated.
type SyscallKind int

const (
	KindExit SyscallKind = iota
	KindDebug
	KindHeapGetSize
	KindHeapIncreaseBy
	KindCreateThread
)

func (k SyscallKind) String() string {
	switch k {
	case KindExit:
		return "Exit"
	case KindDebug:
		return "Debug"
	case KindHeapGetSize:
		return "Heap.GetCurrentHeapSize"
	case KindHeapIncreaseBy:
		return "Heap.IncreaseHeapBy"
	case KindCreateThread:
		return "Process.CreateThread"
	default:
		return "unknown"
	}
}

// SyscallRequest is the tagged union spec.md §3 calls syscall_info. Only
// the fields relevant to Kind are meaningful.
type SyscallRequest struct {
	Kind SyscallKind

	// Exit
	ExitCode uint8

	// Debug: either a user pointer/length pair or an already-resolved
	// string (the "Debug{str_ref}" variant, used by kernel-internal
	// callers that already hold a Go string rather than a user pointer).
	DebugPtr uintptr
	DebugLen uintptr
	DebugStr string

	// Heap.IncreaseHeapBy
	HeapGrowBy uintptr

	// Process.CreateThread
	ThreadEntryPoint uintptr
	ThreadStackSize  uintptr
	ThreadExtraData  uint64
}

// ReplyKind tags which field of SyscallReply is populated.
type ReplyKind int

const (
	ReplyNoVal ReplyKind = iota
	ReplySuccessWithVal
	ReplySuccessWithVal2
	ReplyFail
)

// SyscallReply is what a handler's Future resolves to; Thread.Poll
// stores it on the thread and then unblocks the trapped goroutine.
type SyscallReply struct {
	Kind ReplyKind
	Val  uint64
	Val2 uint64
	Err  error
}

// NoVal builds a reply carrying no value, for handlers like Debug that
// only need to signal completion.
func NoVal() SyscallReply { return SyscallReply{Kind: ReplyNoVal} }

// SuccessWithVal builds a single-value success reply.
func SuccessWithVal(v uint64) SyscallReply {
	return SyscallReply{Kind: ReplySuccessWithVal, Val: v}
}

// SuccessWithVal2 builds a two-value success reply (e.g. a heap's new
// [start, end) bounds).
func SuccessWithVal2(v1, v2 uint64) SyscallReply {
	return SyscallReply{Kind: ReplySuccessWithVal2, Val: v1, Val2: v2}
}

// Fail builds a failure reply carrying err.
func Fail(err error) SyscallReply {
	return SyscallReply{Kind: ReplyFail, Err: err}
}
