package mm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/config"
)

func Test_Kmalloc_InitialisesLazily(t *testing.T) {
	resetDefault(t)
	t.Setenv(config.EnvLayout, "")

	p, err := Kmalloc(64)
	require.NoError(t, err)
	require.NotEqual(t, buddy.Nil, p)

	def := config.Default()
	require.Equal(t, def.Kernel.Size(), Capacity(Kernel))
	require.Equal(t, def.Kernel.Size()-128, KSpace())
	require.Equal(t, def.User.Size(), Space())

	require.NoError(t, Kfree(p))
	require.Equal(t, def.Kernel.Size(), KSpace())
}

func Test_InitHeap_Idempotent(t *testing.T) {
	resetDefault(t)

	require.NoError(t, InitHeapWith(smallLayout()))
	first, err := Default()
	require.NoError(t, err)

	p, err := Malloc(10)
	require.NoError(t, err)

	// Neither a second InitHeap nor a different layout rebuilds the heaps.
	require.NoError(t, InitHeap())
	require.NoError(t, InitHeapWith(config.Default()))
	again, err := Default()
	require.NoError(t, err)
	require.Same(t, first, again)
	require.Equal(t, 4096-16, Space())

	require.NoError(t, Free(p))
	require.Equal(t, 4096, FreeCapacity(User))
}

func Test_InitHeap_FromEnv(t *testing.T) {
	resetDefault(t)

	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel: {max_order: 9, backing: go}\nuser: {max_order: 11, backing: go}\n"), 0o600))
	t.Setenv(config.EnvLayout, path)

	require.NoError(t, InitHeap())
	require.Equal(t, 512, Capacity(Kernel))
	require.Equal(t, 2048, Capacity(User))
}

func Test_InitHeap_ErrorIsSticky(t *testing.T) {
	resetDefault(t)
	t.Setenv(config.EnvLayout, filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, InitHeap())
	_, err := Kmalloc(1)
	require.Error(t, err)
	_, err = Malloc(1)
	require.Error(t, err)
	require.Error(t, Kfree(0x20000004))
	require.Error(t, Free(0x20020004))
	require.Zero(t, Space())
	require.Zero(t, KSpace())
	require.Zero(t, Capacity(User))
}

func Test_Kfree_Nil(t *testing.T) {
	resetDefault(t)
	require.NoError(t, InitHeapWith(smallLayout()))

	require.NoError(t, Kfree(buddy.Nil))
	require.NoError(t, Free(buddy.Nil))
	require.Equal(t, 1024, KSpace())
}

// Test_Scenario_ReuseThroughFacade replays allocate A, allocate B, free A,
// allocate C on the kernel heap.
func Test_Scenario_ReuseThroughFacade(t *testing.T) {
	resetDefault(t)
	require.NoError(t, InitHeapWith(smallLayout()))

	a, err := Kmalloc(12)
	require.NoError(t, err)
	b, err := Kmalloc(12)
	require.NoError(t, err)
	require.NoError(t, Kfree(a))
	c, err := Kmalloc(12)
	require.NoError(t, err)

	require.Equal(t, a, c)
	require.Equal(t, 1024-32, KSpace())

	require.NoError(t, Kfree(b))
	require.NoError(t, Kfree(c))
	require.Equal(t, 1024, KSpace())
}
