package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/internal/config"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/internal/region"
	"github.com/joshuapare/kheap/mm"
)

const sampleTrace = `# boot sequence
alloc a kernel 12
alloc b user 100     # order 7
alloc big kernel 5000

free a
free a               # double free
free b kernel        # wrong heap
free b
free big             # never allocated
check
`

func newTraceSystem(t *testing.T) *mm.System {
	t.Helper()
	l := config.Layout{
		Kernel: config.HeapLayout{Base: 0x20000000, MinOrder: 4, MaxOrder: 10, Backing: region.BackingGo},
		User:   config.HeapLayout{Base: 0x20001000, MinOrder: 4, MaxOrder: 12, Backing: region.BackingGo},
	}
	sys, err := mm.New(l)
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestParseTrace(t *testing.T) {
	ops, err := parseTrace(strings.NewReader(sampleTrace))
	require.NoError(t, err)
	require.Len(t, ops, 9)

	require.Equal(t, traceOp{Line: 2, Kind: traceAlloc, Name: "a", Heap: mm.Kernel, Size: 12}, ops[0])
	require.Equal(t, traceOp{Line: 3, Kind: traceAlloc, Name: "b", Heap: mm.User, Size: 100}, ops[1])
	require.Equal(t, traceOp{Line: 6, Kind: traceFree, Name: "a"}, ops[3])
	require.Equal(t, traceOp{Line: 8, Kind: traceFree, Name: "b", Heap: mm.Kernel, Explicit: true}, ops[5])
	require.Equal(t, traceCheck, ops[8].Kind)
}

func TestParseTrace_HexSize(t *testing.T) {
	ops, err := parseTrace(strings.NewReader("alloc x u 0x100\nspace\n"))
	require.NoError(t, err)
	require.Equal(t, uint32(256), ops[0].Size)
	require.Equal(t, traceSpace, ops[1].Kind)
}

func TestParseTrace_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "short alloc", input: "alloc x\n", wantErr: "line 1: usage: alloc"},
		{name: "unknown heap", input: "\nalloc x stack 4\n", wantErr: "line 2: mm: unknown heap"},
		{name: "negative size", input: "alloc x kernel -1\n", wantErr: `line 1: bad size "-1"`},
		{name: "huge size", input: "alloc x kernel 0x100000000\n", wantErr: "bad size"},
		{name: "free arity", input: "free\n", wantErr: "usage: free"},
		{name: "check arity", input: "check now\n", wantErr: "check takes no arguments"},
		{name: "unknown op", input: "# hi\nrealloc x 4\n", wantErr: `line 2: unknown operation "realloc"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTrace(strings.NewReader(tt.input))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReplay_Sample(t *testing.T) {
	sys := newTraceSystem(t)
	ops, err := parseTrace(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	res, err := newReplayer(sys).run(ops)
	require.NoError(t, err)

	require.Equal(t, 9, res.Ops)
	require.Equal(t, 2, res.Allocs)
	require.Equal(t, 1, res.Failures, "5000 bytes does not fit a 1 KiB heap")
	require.Equal(t, 2, res.Frees)
	require.Equal(t, 2, res.InvalidFrees, "double free and wrong-heap free are rejected")
	require.Equal(t, 1, res.Checks)
	require.Equal(t, 0, res.Live)

	require.Len(t, res.Heaps, 2)
	for _, h := range res.Heaps {
		require.Equal(t, h.Capacity, h.Free, "%s heap whole again", h.Heap)
	}
}

func TestReplay_LiveAndRebind(t *testing.T) {
	sys := newTraceSystem(t)
	ops, err := parseTrace(strings.NewReader(`
alloc a kernel 1
alloc b kernel 1
free a
alloc a user 60
`))
	require.NoError(t, err)

	res, err := newReplayer(sys).run(ops)
	require.NoError(t, err)
	require.Equal(t, 2, res.Live)
	require.Equal(t, 1024-16, sys.FreeCapacity(mm.Kernel))
	require.Equal(t, 4096-64, sys.FreeCapacity(mm.User))
}

func TestReplay_ScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "free unbound", input: "free ghost\n", wantErr: `line 1: free of unbound name "ghost"`},
		{name: "rebind live", input: "alloc a k 4\nalloc a u 4\n", wantErr: `line 2: "a" is already bound`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := newTraceSystem(t)
			ops, err := parseTrace(strings.NewReader(tt.input))
			require.NoError(t, err)

			_, err = newReplayer(sys).run(ops)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTraceCommand(t *testing.T) {
	useTestLayout(t)
	path := writeFile(t, "boot.trace", sampleTrace+"space\n")

	output, err := captureOutput(t, func() error { return runTrace(path) })
	require.NoError(t, err)
	assertContains(t, output, []string{
		"space kernel=1,024 B user=4,096 B",
		"Replayed 10 operations: 2 allocs, 1 failed, 2 frees, 2 rejected, 0 live",
		"kernel",
	})
}

func TestTraceCommand_JSON(t *testing.T) {
	useTestLayout(t)
	jsonOut = true
	path := writeFile(t, "boot.trace", sampleTrace)

	output, err := captureOutput(t, func() error { return runTrace(path) })
	require.NoError(t, err)
	assertJSON(t, output)
	assertContains(t, output, []string{`"invalid_frees": 2`, `"failures": 1`})
}

func TestTraceCommand_Verbose(t *testing.T) {
	useTestLayout(t)
	verbose = true
	path := writeFile(t, "boot.trace", "alloc a kernel 12\nfree a\nfree a\n")

	output, err := captureOutput(t, func() error { return runTrace(path) })
	require.NoError(t, err)
	assertContains(t, output, []string{"Parsed 3 operations", "-> 0x20000004", "rejected"})
}

func TestTraceCommand_MissingFile(t *testing.T) {
	useTestLayout(t)
	_, err := captureOutput(t, func() error { return runTrace("/nonexistent/boot.trace") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to open trace")
}

func TestTraceCommand_Logging(t *testing.T) {
	useTestLayout(t)
	quiet = true

	var logs bytes.Buffer
	require.NoError(t, logger.Init(logger.Options{Enabled: true, Output: &logs, Level: slog.LevelDebug}))
	t.Cleanup(func() { require.NoError(t, logger.Init(logger.Options{})) })

	path := writeFile(t, "bad.trace", "alloc a kernel 12\nfree a\nfree a\nfree ghost\n")
	_, err := captureOutput(t, func() error { return runTrace(path) })
	require.Error(t, err)

	assertContains(t, logs.String(), []string{
		"level=DEBUG msg=\"trace free rejected\" line=3 name=a",
		"level=ERROR msg=\"trace aborted\"",
		"ops=4",
	})
}
