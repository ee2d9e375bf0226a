package main

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/mm"
)

func TestStressHeaps(t *testing.T) {
	sels, err := stressHeaps("both")
	require.NoError(t, err)
	require.Equal(t, []mm.Selector{mm.Kernel, mm.User}, sels)

	sels, err = stressHeaps("user")
	require.NoError(t, err)
	require.Equal(t, []mm.Selector{mm.User}, sels)

	_, err = stressHeaps("stack")
	require.ErrorIs(t, err, mm.ErrUnknownHeap)
}

func TestStressCommand(t *testing.T) {
	for _, heap := range []string{"both", "kernel", "user"} {
		t.Run(heap, func(t *testing.T) {
			useTestLayout(t)
			opts := stressOptions{Workers: 4, Ops: 2000, Seed: 7, MaxSize: 200, Heap: heap}

			output, err := captureOutput(t, func() error { return runStress(context.Background(), opts) })
			require.NoError(t, err)
			assertContains(t, output, []string{"both heaps whole and consistent", "Splits"})
		})
	}
}

func TestStressCommand_JSON(t *testing.T) {
	useTestLayout(t)
	jsonOut = true
	opts := stressOptions{Workers: 2, Ops: 500, Seed: 3, MaxSize: 2000, Heap: "both"}

	output, err := captureOutput(t, func() error { return runStress(context.Background(), opts) })
	require.NoError(t, err)

	var res stressResult
	require.NoError(t, json.Unmarshal([]byte(output), &res))
	require.Equal(t, 2, res.Workers)
	require.Len(t, res.Heaps, 2)
	require.Positive(t, res.Counters["kernel_allocs"]+res.Counters["user_allocs"])
	require.Equal(t, res.Counters["kernel_merges"], res.Counters["kernel_splits"],
		"a heap that is whole again has undone every split")
	for _, h := range res.Heaps {
		require.Equal(t, h.Capacity, h.Free)
	}
}

func TestStressCommand_MetricsServer(t *testing.T) {
	useTestLayout(t)
	quiet = true
	opts := stressOptions{Workers: 2, Ops: 200, Seed: 1, MaxSize: 64, Heap: "both", MetricsAddr: "127.0.0.1:0"}

	_, err := captureOutput(t, func() error { return runStress(context.Background(), opts) })
	require.NoError(t, err)
}

func TestStressCommand_BadOptions(t *testing.T) {
	useTestLayout(t)

	_, err := captureOutput(t, func() error {
		return runStress(context.Background(), stressOptions{Workers: 0, Ops: 1, Heap: "both"})
	})
	require.Error(t, err)

	_, err = captureOutput(t, func() error {
		return runStress(context.Background(), stressOptions{Workers: 1, Ops: 1, Heap: "flash"})
	})
	require.ErrorIs(t, err, mm.ErrUnknownHeap)

	_, err = captureOutput(t, func() error {
		return runStress(context.Background(), stressOptions{Workers: 1, Ops: 1, MaxSize: math.MaxUint32, Heap: "both"})
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "max-size")
}

func TestStressCommand_Cancelled(t *testing.T) {
	useTestLayout(t)
	quiet = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Workers stop early but still release what they hold.
	_, err := captureOutput(t, func() error {
		return runStress(ctx, stressOptions{Workers: 2, Ops: 100000, Seed: 1, MaxSize: 64, Heap: "both"})
	})
	require.NoError(t, err)
}

func TestStressFlags(t *testing.T) {
	var o stressOptions
	fs := pflag.NewFlagSet("stress", pflag.ContinueOnError)
	addStressFlags(fs, &o)

	require.NoError(t, fs.Parse([]string{"-w", "8", "--ops=100", "--heap", "kernel", "--metrics-addr", ":9102", "--linger", "2s"}))
	require.Equal(t, 8, o.Workers)
	require.Equal(t, 100, o.Ops)
	require.Equal(t, "kernel", o.Heap)
	require.Equal(t, ":9102", o.MetricsAddr)
	require.Equal(t, 2*time.Second, o.Linger)
}
