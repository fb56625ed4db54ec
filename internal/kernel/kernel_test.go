package kernel

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/internal/bootconfig"
)

func testConfig() *bootconfig.Config {
	cfg := bootconfig.Default()
	cfg.PriorityLevels = 2
	cfg.MemRegions = []bootconfig.MemRegion{{Start: 0, Size: 32 << 20, Kind: bootconfig.MemFree}}
	return cfg
}

func TestBootBringsUpEverySubsystem(t *testing.T) {
	k, err := Boot(context.Background(), testConfig())
	assert.NilError(t, err)
	defer k.Shutdown()

	assert.Assert(t, k.Arena != nil)
	assert.Assert(t, k.Region != nil)
	assert.Assert(t, k.Heap != nil)
	assert.Assert(t, k.Executor != nil)
	assert.Equal(t, k.Executor.Levels(), 2)
}

func TestRunDemoProcessCompletesWithinDeadline(t *testing.T) {
	k, err := Boot(context.Background(), testConfig())
	assert.NilError(t, err)
	defer k.Shutdown()

	resultCh := make(chan uint8, 1)
	go func() { resultCh <- k.RunDemoProcess(1) }()

	select {
	case code := <-resultCh:
		assert.Equal(t, code, uint8(42))
	case <-time.After(5 * time.Second):
		t.Fatal("demo process did not complete in time")
	}
}
