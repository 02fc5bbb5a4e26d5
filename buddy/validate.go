package buddy

import (
	"github.com/pkg/errors"
)

// Validate performs a full consistency sweep over the arena's metadata: free
// list integrity, the alignment and no-adjacent-free invariants, live
// registry consistency, and the partition invariant that free and allocated
// blocks together exactly tile the arena. When the allocator is functioning
// correctly it should not be possible for this method to return an error, but
// it may assist in diagnosing issues. It is wired into every Allocate and
// Free when the module is built with the debug_mem_arena build tag.
func (a *Arena) Validate() error {
	freeListCount := 0
	freeListBytes := 0

	// Check integrity of free lists
	for i := range a.freeLists {
		order := a.minOrder + i
		list := &a.freeLists[i]

		err := list.Validate()
		if err != nil {
			return err
		}

		list.Each(func(p *page) bool {
			if err == nil {
				err = a.validateFreeBlock(list, p, order)
			}

			return err == nil
		})
		if err != nil {
			return err
		}

		freeListCount += list.Count()
		freeListBytes += list.Count() << order
	}

	// Check integrity of the live allocation registry
	var err error
	a.liveAllocs.Iter(func(offset int, p *page) bool {
		if p.offset != offset {
			err = errors.Errorf("the registry entry for offset %d points at the descriptor for offset %d", offset, p.offset)
			return true
		}

		if p.order < a.minOrder || p.order > a.maxOrder {
			err = errors.Errorf("the live allocation at offset %d carries order %d, which is outside [%d, %d]", offset, p.order, a.minOrder, a.maxOrder)
			return true
		}

		if p.offset&(1<<p.order-1) != 0 {
			err = errors.Errorf("the live allocation at offset %d is not aligned to its order-%d size", offset, p.order)
			return true
		}

		return false
	})
	if err != nil {
		return err
	}

	// The free and allocated blocks must exactly tile the arena
	calculatedBytes := 0
	calculatedFreeBytes := 0
	calculatedFreeCount := 0
	calculatedAllocCount := 0

	err = a.VisitAllRegions(func(offset, size int, free bool) error {
		if offset != calculatedBytes {
			return errors.Errorf("the region at offset %d does not begin where the previous region ended (%d)", offset, calculatedBytes)
		}

		calculatedBytes += size
		if free {
			calculatedFreeCount++
			calculatedFreeBytes += size
		} else {
			calculatedAllocCount++
		}

		return nil
	})
	if err != nil {
		return err
	}

	if calculatedBytes != a.Size() {
		return errors.Errorf("the arena is %d bytes, but its regions only added up to %d", a.Size(), calculatedBytes)
	}

	if calculatedFreeCount != freeListCount {
		return errors.Errorf("the number of free blocks in the region walk and the number of blocks in the free lists do not match! free lists: %d, region walk: %d", freeListCount, calculatedFreeCount)
	}

	if calculatedFreeBytes != freeListBytes {
		return errors.Errorf("the free lists hold %d bytes, but the free regions only added up to %d", freeListBytes, calculatedFreeBytes)
	}

	if calculatedAllocCount != a.AllocationCount() {
		return errors.Errorf("the registry holds %d live allocations, but the allocated regions only added up to %d", a.AllocationCount(), calculatedAllocCount)
	}

	return nil
}

func (a *Arena) validateFreeBlock(list *pageList, p *page, order int) error {
	if p.order != order {
		return errors.Errorf("the page at offset %d is in the order-%d free list but carries order %d", p.offset, order, p.order)
	}

	if p.offset&(1<<order-1) != 0 {
		return errors.Errorf("the free block at offset %d is not aligned to its order-%d size", p.offset, order)
	}

	_, live := a.liveAllocs.Get(p.offset)
	if live {
		return errors.Errorf("the block at offset %d is in a free list but is registered as a live allocation", p.offset)
	}

	if order < a.maxOrder {
		buddy := a.pageAt(p.offset ^ (1 << order))
		if buddy.order == order && list.Contains(buddy) {
			return errors.Errorf("the free blocks at offsets %d and %d are buddies at order %d but were never merged", p.offset, buddy.offset, order)
		}
	}

	return nil
}
