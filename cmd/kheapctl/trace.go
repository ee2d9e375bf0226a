package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/mm"
)

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Replay an allocation trace against both heaps",
	Long: `The trace command replays a script of allocations and frees against
freshly initialised heaps. One operation per line:

  alloc <name> <kernel|user> <size>   allocate and bind the pointer to name
  free <name> [kernel|user]           free the pointer bound to name, through
                                      its own heap or the one given
  check                               verify heap invariants
  space                               print free bytes of both heaps

Blank lines and text after '#' are ignored. A failed allocation binds the
name to the nil pointer; freeing it later is a no-op. A name stays bound
after it is freed, so freeing it again replays a double free; allocating
into a freed name rebinds it. Use "-" to read the trace from stdin.

Example:
  kheapctl trace boot.trace
  kheapctl trace boot.trace --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrace(args[0])
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
}

type traceKind int

const (
	traceAlloc traceKind = iota
	traceFree
	traceCheck
	traceSpace
)

// traceOp is one parsed trace line.
type traceOp struct {
	Line     int
	Kind     traceKind
	Name     string
	Heap     mm.Selector
	Size     uint32
	Explicit bool // free names its heap
}

// parseTrace reads trace operations, reporting the first malformed line.
func parseTrace(r io.Reader) ([]traceOp, error) {
	var ops []traceOp
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		op := traceOp{Line: line}
		switch fields[0] {
		case "alloc":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: usage: alloc <name> <heap> <size>", line)
			}
			sel, err := mm.ParseSelector(fields[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			size, err := strconv.ParseUint(fields[3], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad size %q", line, fields[3])
			}
			op.Kind, op.Name, op.Heap, op.Size = traceAlloc, fields[1], sel, uint32(size)
		case "free":
			if len(fields) != 2 && len(fields) != 3 {
				return nil, fmt.Errorf("line %d: usage: free <name> [heap]", line)
			}
			op.Kind, op.Name = traceFree, fields[1]
			if len(fields) == 3 {
				sel, err := mm.ParseSelector(fields[2])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				op.Heap, op.Explicit = sel, true
			}
		case "check", "space":
			if len(fields) != 1 {
				return nil, fmt.Errorf("line %d: %s takes no arguments", line, fields[0])
			}
			op.Kind = traceCheck
			if fields[0] == "space" {
				op.Kind = traceSpace
			}
		default:
			return nil, fmt.Errorf("line %d: unknown operation %q", line, fields[0])
		}
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// binding is a named pointer from an alloc line.
type binding struct {
	heap  mm.Selector
	ptr   buddy.Ptr
	freed bool
}

// traceResult summarises a replay.
type traceResult struct {
	Ops          int          `json:"ops"`
	Allocs       int          `json:"allocs"`
	Failures     int          `json:"failures"`
	Frees        int          `json:"frees"`
	InvalidFrees int          `json:"invalid_frees"`
	Checks       int          `json:"checks"`
	Live         int          `json:"live"`
	Heaps        []heapReport `json:"heaps"`
}

// replayer applies trace operations to a System.
type replayer struct {
	sys    *mm.System
	names  map[string]binding
	result traceResult
}

func newReplayer(sys *mm.System) *replayer {
	return &replayer{sys: sys, names: make(map[string]binding)}
}

// apply runs one operation. Allocation failures and rejected frees are
// counted; malformed scripts and invariant violations are returned.
func (r *replayer) apply(op traceOp) error {
	r.result.Ops++
	switch op.Kind {
	case traceAlloc:
		if b, ok := r.names[op.Name]; ok && !b.freed && b.ptr != buddy.Nil {
			return fmt.Errorf("line %d: %q is already bound", op.Line, op.Name)
		}
		p, err := r.sys.Alloc(op.Heap, op.Size)
		if err != nil {
			if !errors.Is(err, buddy.ErrOutOfMemory) {
				return fmt.Errorf("line %d: %w", op.Line, err)
			}
			r.result.Failures++
			printVerbose("%4d  alloc %-12s %-6s %8d  -> failed: %v\n", op.Line, op.Name, op.Heap, op.Size, err)
		} else {
			r.result.Allocs++
			printVerbose("%4d  alloc %-12s %-6s %8d  -> %#08x\n", op.Line, op.Name, op.Heap, op.Size, uint32(p))
		}
		r.names[op.Name] = binding{heap: op.Heap, ptr: p}

	case traceFree:
		b, ok := r.names[op.Name]
		if !ok {
			return fmt.Errorf("line %d: free of unbound name %q", op.Line, op.Name)
		}
		if b.ptr == buddy.Nil {
			return nil
		}
		heap := b.heap
		if op.Explicit {
			heap = op.Heap
		}
		if err := r.sys.Free(heap, b.ptr); err != nil {
			if !errors.Is(err, buddy.ErrInvalidFree) {
				return fmt.Errorf("line %d: %w", op.Line, err)
			}
			r.result.InvalidFrees++
			logger.Debug("trace free rejected", "line", op.Line, "name", op.Name, "error", err)
			printVerbose("%4d  free  %-12s -> rejected: %v\n", op.Line, op.Name, err)
			return nil
		}
		r.result.Frees++
		b.freed = true
		r.names[op.Name] = b
		printVerbose("%4d  free  %-12s\n", op.Line, op.Name)

	case traceCheck:
		r.result.Checks++
		for _, h := range r.sys.Heaps() {
			if err := h.Check(); err != nil {
				return fmt.Errorf("line %d: %w", op.Line, err)
			}
		}
		printVerbose("%4d  check ok\n", op.Line)

	case traceSpace:
		printInfo("%4d  space kernel=%s user=%s\n", op.Line,
			formatBytes(r.sys.FreeCapacity(mm.Kernel)), formatBytes(r.sys.FreeCapacity(mm.User)))
	}
	return nil
}

// run applies every operation in order and finishes with an invariant check.
func (r *replayer) run(ops []traceOp) (traceResult, error) {
	for _, op := range ops {
		if err := r.apply(op); err != nil {
			return r.result, err
		}
	}
	for _, h := range r.sys.Heaps() {
		if err := h.Check(); err != nil {
			return r.result, err
		}
	}
	for _, b := range r.names {
		if b.ptr != buddy.Nil && !b.freed {
			r.result.Live++
		}
	}
	for _, h := range r.sys.Heaps() {
		r.result.Heaps = append(r.result.Heaps, reportHeap(h, false))
	}
	return r.result, nil
}

func runTrace(path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		in = f
	}

	ops, err := parseTrace(in)
	if err != nil {
		return err
	}
	printVerbose("Parsed %d operations\n", len(ops))

	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	res, err := newReplayer(sys).run(ops)
	if err != nil {
		logger.Error("trace aborted", "file", path, "ops", res.Ops, "error", err)
		return err
	}

	if jsonOut {
		return printJSON(res)
	}

	printInfo("Replayed %d operations: %d allocs, %d failed, %d frees, %d rejected, %d live\n",
		res.Ops, res.Allocs, res.Failures, res.Frees, res.InvalidFrees, res.Live)
	td := pterm.TableData{{"Heap", "Capacity", "Free", "Used"}}
	for _, h := range res.Heaps {
		td = append(td, []string{h.Heap, formatBytes(h.Capacity), formatBytes(h.Free), formatBytes(h.Used)})
	}
	return printTable(td)
}
