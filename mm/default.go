package mm

import (
	"sync"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/config"
)

var (
	initOnce   sync.Once
	defaultSys *System
	initErr    error
)

// InitHeap builds the default System from config.FromEnv. It is idempotent:
// only the first call, here or in InitHeapWith, does any work.
func InitHeap() error {
	return initDefault(config.FromEnv)
}

// InitHeapWith builds the default System from layout unless it already exists.
func InitHeapWith(layout config.Layout) error {
	return initDefault(func() (config.Layout, error) { return layout, nil })
}

func initDefault(load func() (config.Layout, error)) error {
	initOnce.Do(func() {
		layout, err := load()
		if err != nil {
			initErr = err
			return
		}
		defaultSys, initErr = New(layout)
	})
	return initErr
}

// Default returns the process-wide System, initialising it on first use.
func Default() (*System, error) {
	if err := InitHeap(); err != nil {
		return nil, err
	}
	return defaultSys, nil
}

// Kmalloc allocates size bytes from the kernel heap.
func Kmalloc(size uint32) (buddy.Ptr, error) {
	sys, err := Default()
	if err != nil {
		return buddy.Nil, err
	}
	return sys.Alloc(Kernel, size)
}

// Kfree releases a pointer obtained from Kmalloc. Kfree(Nil) is a no-op.
func Kfree(p buddy.Ptr) error {
	if p == buddy.Nil {
		return nil
	}
	sys, err := Default()
	if err != nil {
		return err
	}
	return sys.Free(Kernel, p)
}

// Malloc allocates size bytes from the user heap.
func Malloc(size uint32) (buddy.Ptr, error) {
	sys, err := Default()
	if err != nil {
		return buddy.Nil, err
	}
	return sys.Alloc(User, size)
}

// Free releases a pointer obtained from Malloc. Free(Nil) is a no-op.
func Free(p buddy.Ptr) error {
	if p == buddy.Nil {
		return nil
	}
	sys, err := Default()
	if err != nil {
		return err
	}
	return sys.Free(User, p)
}

// Capacity returns the configured size of the selected default heap.
func Capacity(sel Selector) int {
	sys, err := Default()
	if err != nil {
		return 0
	}
	return sys.Capacity(sel)
}

// FreeCapacity returns the free bytes of the selected default heap.
func FreeCapacity(sel Selector) int {
	sys, err := Default()
	if err != nil {
		return 0
	}
	return sys.FreeCapacity(sel)
}

// Space returns the free bytes of the user heap.
func Space() int { return FreeCapacity(User) }

// KSpace returns the free bytes of the kernel heap.
func KSpace() int { return FreeCapacity(Kernel) }
