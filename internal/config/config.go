// Package config describes where the kernel and user heaps live and how they
// are carved up. A Layout is read from YAML or taken from the board defaults.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/region"
)

// EnvLayout names the environment variable holding a layout file path.
const EnvLayout = "KHEAP_CONFIG"

// ErrInvalid indicates a layout that fails validation.
var ErrInvalid = errors.New("config: invalid layout")

// HeapLayout places and sizes one heap.
type HeapLayout struct {
	Base     uint32         `yaml:"base"`
	MinOrder uint8          `yaml:"min_order"`
	MaxOrder uint8          `yaml:"max_order"`
	Backing  region.Backing `yaml:"backing,omitempty"`
}

// Size returns the region size in bytes.
func (l HeapLayout) Size() int { return 1 << l.MaxOrder }

// Layout is the full memory layout of the kernel's two heaps.
type Layout struct {
	Kernel    HeapLayout `yaml:"kernel"`
	User      HeapLayout `yaml:"user"`
	Profiling bool       `yaml:"profiling,omitempty"`
}

// Default returns the board layout: a 32 KiB kernel heap at the start of SRAM
// and a 128 KiB user heap right after it, both with 16-byte minimum blocks.
func Default() Layout {
	return Layout{
		Kernel: HeapLayout{Base: 0x20000000, MinOrder: 4, MaxOrder: 15, Backing: region.BackingMmap},
		User:   HeapLayout{Base: 0x20020000, MinOrder: 4, MaxOrder: 17, Backing: region.BackingMmap},
	}
}

// Load reads and validates a YAML layout file. Fields missing from the file
// keep their Default values.
func Load(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// FromEnv loads the layout named by KHEAP_CONFIG, or returns Default when the
// variable is unset.
func FromEnv() (Layout, error) {
	path := os.Getenv(EnvLayout)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes a YAML layout over the defaults and validates it.
func Parse(data []byte) (Layout, error) {
	l := Default()
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Marshal encodes the layout as YAML.
func (l Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

// Validate checks order bounds, base alignment, backing kind and that the two
// regions do not overlap.
func (l Layout) Validate() error {
	if err := l.Kernel.validate("kernel"); err != nil {
		return err
	}
	if err := l.User.validate("user"); err != nil {
		return err
	}

	kStart, kEnd := uint64(l.Kernel.Base), uint64(l.Kernel.Base)+uint64(l.Kernel.Size())
	uStart, uEnd := uint64(l.User.Base), uint64(l.User.Base)+uint64(l.User.Size())
	if kStart < uEnd && uStart < kEnd {
		return fmt.Errorf("%w: kernel [%#x,%#x) and user [%#x,%#x) overlap", ErrInvalid, kStart, kEnd, uStart, uEnd)
	}
	return nil
}

func (l HeapLayout) validate(name string) error {
	switch {
	case buddy.Order(l.MinOrder) < buddy.MinimumOrder:
		return fmt.Errorf("%w: %s min_order %d below %d", ErrInvalid, name, l.MinOrder, buddy.MinimumOrder)
	case buddy.Order(l.MaxOrder) > buddy.MaximumOrder:
		return fmt.Errorf("%w: %s max_order %d above %d", ErrInvalid, name, l.MaxOrder, buddy.MaximumOrder)
	case l.MinOrder > l.MaxOrder:
		return fmt.Errorf("%w: %s min_order %d above max_order %d", ErrInvalid, name, l.MinOrder, l.MaxOrder)
	case l.Base&uint32(l.Size()-1) != 0:
		return fmt.Errorf("%w: %s base %#x not aligned to its size %d", ErrInvalid, name, l.Base, l.Size())
	}
	switch l.Backing {
	case "", region.BackingMmap, region.BackingGo:
	default:
		return fmt.Errorf("%w: %s backing %q", ErrInvalid, name, l.Backing)
	}
	return nil
}
