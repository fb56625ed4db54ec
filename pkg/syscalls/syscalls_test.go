package syscalls

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/wire"
)

func TestTableCoversEveryDispatchedKind(t *testing.T) {
	seen := make(map[wire.SyscallKind]bool)
	for _, s := range Table {
		seen[s.Kind] = true
		assert.Equal(t, s.SupportLevel, SupportFull)
	}
	for _, k := range []wire.SyscallKind{
		wire.KindExit, wire.KindDebug, wire.KindHeapGetSize,
		wire.KindHeapIncreaseBy, wire.KindCreateThread,
	} {
		assert.Assert(t, seen[k], "missing table entry for %v", k)
	}
}
