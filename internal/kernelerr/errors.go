// Package kernelerr defines the sentinel error values returned across the
// kernel's recoverable error paths (spec §7), plus the one helper reserved
// for invariant violations, which are fatal and never returned to a
// caller.
package kernelerr

import (
	"errors"
	"fmt"

	"github.com/moondust-os/moondust/internal/klog"
)

var (
	// ErrOutOfMemory is returned when no physical or virtual allocation of
	// the requested size/alignment is available.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrUnaligned is returned when an address or size does not meet a
	// required page alignment.
	ErrUnaligned = errors.New("address or size not page-aligned")

	// ErrNotMapped is returned when a byte-view lookup (PageTable.Bytes)
	// targets a range that is not covered by a single mapping. Unmap of an
	// absent range succeeds silently, and VirtToPhys reports absence with
	// a bool instead.
	ErrNotMapped = errors.New("range not mapped")

	// ErrAlreadyMapped is returned when map targets a range that overlaps
	// an existing mapping.
	ErrAlreadyMapped = errors.New("range already mapped")

	// ErrPermissionDenied is returned when a user-supplied pointer fails
	// validation against the thread's mapped-range tree.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrExhausted is returned when a heap or stack quota is hit.
	ErrExhausted = errors.New("quota exhausted")

	// ErrInvalidState is returned when a syscall variant is inconsistent
	// with the issuing thread's state.
	ErrInvalidState = errors.New("invalid thread state for operation")
)

// InvariantViolation panics with the given message. It is reserved for bugs
// — conditions that spec.md declares impossible absent a programming
// error, such as polling an already-Running thread or dropping a page
// table that is still CPU-active. When raised inside a task's poll,
// pkg/executor recovers the panic and drops only that task; raised
// anywhere else, it is an ordinary unrecovered panic and ends the process.
func InvariantViolation(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	klog.Warningf("invariant violation: %s", msg)
	panic("kernelerr: invariant violation: " + msg)
}
