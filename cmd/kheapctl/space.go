package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/mm"
)

var spaceOrders bool

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Show capacity and free space of both heaps",
	Long: `The space command brings up both heaps from the layout and reports their
capacity, free and used bytes. With --orders it also lists how many free
blocks sit on each order's free list.

Example:
  kheapctl space
  kheapctl space --orders
  kheapctl space --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSpace()
	},
}

func init() {
	spaceCmd.Flags().BoolVar(&spaceOrders, "orders", false, "List free blocks per order")
	rootCmd.AddCommand(spaceCmd)
}

// heapReport is the JSON shape of one heap in space and trace output.
type heapReport struct {
	Heap       string      `json:"heap"`
	Base       string      `json:"base"`
	MinOrder   int         `json:"min_order"`
	MaxOrder   int         `json:"max_order"`
	Capacity   int         `json:"capacity"`
	Free       int         `json:"free"`
	Used       int         `json:"used"`
	MaxRequest uint32      `json:"max_request"`
	FreeBlocks []orderLine `json:"free_blocks,omitempty"`
}

type orderLine struct {
	Order int `json:"order"`
	Size  int `json:"size"`
	Count int `json:"count"`
}

func runSpace() error {
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()
	return printSpace(sys)
}

func reportHeap(h *buddy.Heap, withOrders bool) heapReport {
	r := heapReport{
		Heap:       h.Name(),
		Base:       fmt.Sprintf("%#08x", h.Base()),
		MinOrder:   int(h.MinOrder()),
		MaxOrder:   int(h.MaxOrder()),
		Capacity:   h.Capacity(),
		Free:       h.FreeCapacity(),
		MaxRequest: h.MaxRequest(),
	}
	r.Used = r.Capacity - r.Free
	if withOrders {
		for _, oc := range h.FreeBlocks() {
			r.FreeBlocks = append(r.FreeBlocks, orderLine{Order: int(oc.Order), Size: oc.Order.Size(), Count: oc.Count})
		}
	}
	return r
}

func printSpace(sys *mm.System) error {
	reports := make([]heapReport, 0, 2)
	for _, h := range sys.Heaps() {
		reports = append(reports, reportHeap(h, spaceOrders))
	}

	if jsonOut {
		return printJSON(reports)
	}

	td := pterm.TableData{{"Heap", "Base", "Orders", "Capacity", "Free", "Used"}}
	for _, r := range reports {
		td = append(td, []string{
			r.Heap,
			r.Base,
			fmt.Sprintf("%d..%d", r.MinOrder, r.MaxOrder),
			formatBytes(r.Capacity),
			formatBytes(r.Free),
			formatBytes(r.Used),
		})
	}
	if err := printTable(td); err != nil {
		return err
	}

	if !spaceOrders {
		return nil
	}
	for _, r := range reports {
		printInfo("\nFree blocks (%s):\n", r.Heap)
		ot := pterm.TableData{{"Order", "Block", "Count", "Bytes"}}
		for _, l := range r.FreeBlocks {
			if l.Count == 0 {
				continue
			}
			ot = append(ot, []string{
				fmt.Sprint(l.Order),
				formatBytes(l.Size),
				fmt.Sprint(l.Count),
				formatBytes(l.Size * l.Count),
			})
		}
		if err := printTable(ot); err != nil {
			return err
		}
	}
	return nil
}
