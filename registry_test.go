package joinabletask

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_SnapshotReturnsLiveTasks(t *testing.T) {
	c, _ := newTestContext(t)
	a := c.newFreeFloatingTask(nil)
	b := c.newFreeFloatingTask(nil)

	snap := c.registry.Snapshot()
	require.Contains(t, snap, a)
	require.Contains(t, snap, b)
}

// TestRegistry_ScavengesCollectedTasks covers SPEC_FULL §2 C9: a Task that
// has no remaining strong references anywhere (no handle, no closure
// membership, nothing on the call stack) is not kept alive merely by being
// registered, and its dead slot is eventually reclaimed.
func TestRegistry_ScavengesCollectedTasks(t *testing.T) {
	c, _ := newTestContext(t)
	before := c.registry.Len()

	func() {
		doomed := c.newFreeFloatingTask(nil)
		require.Contains(t, c.registry.Snapshot(), doomed)
	}()

	for i := 0; i < 10; i++ {
		runtime.GC()
		c.registry.Snapshot() // opportunistically scavenges dead slots
		if c.registry.Len() == before {
			return
		}
	}
	t.Fatalf("registry still holds %d entries after repeated GC cycles, want %d", c.registry.Len(), before)
}

func TestRegistry_Len_TracksRegistrations(t *testing.T) {
	c, _ := newTestContext(t)
	before := c.registry.Len()
	c.newFreeFloatingTask(nil)
	c.newFreeFloatingTask(nil)
	require.Equal(t, before+2, c.registry.Len())
}
