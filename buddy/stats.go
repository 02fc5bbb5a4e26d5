package buddy

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/memkit/memarena"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// OrderStats describes the state of a single order's free list.
type OrderStats struct {
	Order     int
	BlockSize int
	FreeCount int
}

// FreeListStats returns the number of free blocks at each order from MinOrder
// to MaxOrder, in ascending order. It consumes no mutable state and exists
// purely for observability.
func (a *Arena) FreeListStats() []OrderStats {
	stats := make([]OrderStats, 0, a.maxOrder-a.minOrder+1)
	for order := a.minOrder; order <= a.maxOrder; order++ {
		stats = append(stats, OrderStats{
			Order:     order,
			BlockSize: 1 << order,
			FreeCount: a.freeLists[a.listIndex(order)].Count(),
		})
	}

	return stats
}

// VisitAllRegions calls visit once for every allocated block and free block in
// the arena, in ascending offset order. The visited regions are pairwise
// non-overlapping and exactly tile the arena. Returning an error from visit
// aborts the walk and propagates the error.
func (a *Arena) VisitAllRegions(visit func(offset, size int, free bool) error) error {
	for i := 0; i < len(a.pages); {
		p := &a.pages[i]

		_, live := a.liveAllocs.Get(p.offset)
		if !live && (p.order < a.minOrder || p.order > a.maxOrder) {
			return errors.Errorf("the page at offset %d should begin a region but is not a block head", p.offset)
		}

		size := 1 << p.order
		err := visit(p.offset, size, !live)
		if err != nil {
			return err
		}

		i += size >> a.minOrder
	}

	return nil
}

// AddStatistics sums this arena's allocation statistics into the statistics
// currently present in the provided memarena.Statistics object.
func (a *Arena) AddStatistics(stats *memarena.Statistics) {
	stats.ArenaCount++
	stats.AllocationCount += a.AllocationCount()
	stats.ArenaBytes += a.Size()
	stats.AllocationBytes += a.Size() - a.SumFreeSize()
}

// AddDetailedStatistics sums this arena's allocation statistics into the
// statistics currently present in the provided memarena.DetailedStatistics
// object. Allocation sizes are counted as full block sizes, so internal
// fragmentation from power-of-two rounding is included.
func (a *Arena) AddDetailedStatistics(stats *memarena.DetailedStatistics) {
	stats.ArenaCount++
	stats.ArenaBytes += a.Size()

	_ = a.VisitAllRegions(func(offset, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddAllocation(size)
		}

		return nil
	})
}

// BuildStatsString populates a json stream with the full state of the arena:
// summary counters, per-order free list depths, and every allocated and free
// region in offset order.
func (a *Arena) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("TotalBytes").Int(a.Size())
	obj.Name("UnusedBytes").Int(a.SumFreeSize())
	obj.Name("Allocations").Int(a.AllocationCount())
	obj.Name("UnusedRanges").Int(a.FreeRegionsCount())

	freeListsObj := obj.Name("FreeLists").Object()
	for order := a.minOrder; order <= a.maxOrder; order++ {
		freeListsObj.Name(strconv.Itoa(order)).Int(a.freeLists[a.listIndex(order)].Count())
	}
	freeListsObj.End()

	regions := obj.Name("Regions").Array()
	defer regions.End()

	_ = a.VisitAllRegions(func(offset, size int, free bool) error {
		regionObj := regions.Object()
		defer regionObj.End()

		regionObj.Name("Offset").Int(offset)
		if free {
			regionObj.Name("Type").String("FREE")
		} else {
			regionObj.Name("Type").String("ALLOCATED")
		}
		regionObj.Name("Size").Int(size)

		return nil
	})
}

// DebugLogAllAllocations calls logFunc for every live allocation in the arena
// in ascending offset order.
func (a *Arena) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	_ = a.VisitAllRegions(func(offset, size int, free bool) error {
		if !free {
			logFunc(logger, offset, size)
		}

		return nil
	})
}
