package buddy

import (
	"fmt"
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/memkit/memarena"
	"github.com/pkg/errors"
)

const (
	// maxSupportedOrder bounds the arena size so that offsets and block sizes
	// always fit comfortably in an int, even on 32-bit-adjacent math.
	maxSupportedOrder = 40

	initialRegistryCapacity uint32 = 42
)

// Arena is a power-of-two buddy allocator over a single fixed-size byte
// buffer. The buffer is 2^maxOrder bytes, carved into 2^(maxOrder-minOrder)
// pages of 2^minOrder bytes each, with one page descriptor per page and one
// free list per order. Allocations are rounded up to the nearest power of two,
// larger free blocks are split on demand, and adjacent free buddies are merged
// back together on Free.
//
// An Arena is a single-owner structure with no internal locking. Callers that
// share one across goroutines must serialize every Allocate/Free pair behind
// their own mutex; the free lists are not decomposable into finer-grained
// locks.
type Arena struct {
	minOrder int
	maxOrder int

	memory []byte
	pages  []page

	freeLists  []pageList
	liveAllocs *swiss.Map[int, *page]
}

var _ memarena.Validatable = &Arena{}

// New creates an Arena managing a buffer of 2^maxOrder bytes with a minimum
// block size of 2^minOrder bytes.
func New(minOrder, maxOrder int) (*Arena, error) {
	if minOrder < 1 {
		return nil, errors.Errorf("minOrder is %d, but must be at least 1", minOrder)
	}
	if minOrder > maxOrder {
		return nil, errors.Errorf("minOrder %d cannot be larger than maxOrder %d", minOrder, maxOrder)
	}
	if maxOrder > maxSupportedOrder {
		return nil, errors.Errorf("maxOrder %d exceeds the largest supported order %d", maxOrder, maxSupportedOrder)
	}

	a := &Arena{
		minOrder:  minOrder,
		maxOrder:  maxOrder,
		memory:    make([]byte, 1<<maxOrder),
		pages:     make([]page, 1<<(maxOrder-minOrder)),
		freeLists: make([]pageList, maxOrder-minOrder+1),
	}
	a.Clear()

	return a, nil
}

// NewForSize creates an Arena from byte sizes rather than orders. Both sizes
// must be powers of two, with pageSize no larger than arenaSize.
func NewForSize(pageSize, arenaSize int) (*Arena, error) {
	if pageSize < 2 {
		return nil, errors.Errorf("pageSize is %d, but must be at least 2", pageSize)
	}
	err := memarena.CheckPow2(pageSize, "pageSize")
	if err != nil {
		return nil, err
	}

	if arenaSize < 2 {
		return nil, errors.Errorf("arenaSize is %d, but must be at least 2", arenaSize)
	}
	err = memarena.CheckPow2(arenaSize, "arenaSize")
	if err != nil {
		return nil, err
	}

	return New(bits.TrailingZeros(uint(pageSize)), bits.TrailingZeros(uint(arenaSize)))
}

// Clear instantly resets the arena to its initial state: no live allocations
// and a single free block spanning the whole buffer. Any offsets returned by
// earlier Allocate calls are invalidated; freeing them afterward is a caller
// error.
func (a *Arena) Clear() {
	for i := range a.pages {
		a.pages[i] = page{
			index:  i,
			offset: i << a.minOrder,
			order:  orderNone,
		}
	}

	for i := range a.freeLists {
		a.freeLists[i] = pageList{}
	}

	memarena.DebugCheckPow2(uint(len(a.memory)), "arena size")

	a.liveAllocs = swiss.NewMap[int, *page](initialRegistryCapacity)

	top := &a.pages[0]
	top.order = a.maxOrder
	a.freeLists[a.listIndex(a.maxOrder)].PushFront(top)
}

// Size returns the total capacity of the arena in bytes.
func (a *Arena) Size() int { return len(a.memory) }

// PageSize returns the minimum block size in bytes.
func (a *Arena) PageSize() int { return 1 << a.minOrder }

// PageCount returns the number of minimum-size pages the arena is carved into.
func (a *Arena) PageCount() int { return len(a.pages) }

// MinOrder returns the log2 of the minimum block size.
func (a *Arena) MinOrder() int { return a.minOrder }

// MaxOrder returns the log2 of the total arena size.
func (a *Arena) MaxOrder() int { return a.maxOrder }

// AllocationCount returns the number of live allocations in the arena.
func (a *Arena) AllocationCount() int {
	return a.liveAllocs.Count()
}

// FreeRegionsCount returns the number of free blocks across all orders.
func (a *Arena) FreeRegionsCount() int {
	count := 0
	for i := range a.freeLists {
		count += a.freeLists[i].Count()
	}

	return count
}

// SumFreeSize returns the number of free bytes in the arena.
func (a *Arena) SumFreeSize() int {
	size := 0
	for i := range a.freeLists {
		size += a.freeLists[i].Count() << (a.minOrder + i)
	}

	return size
}

// IsEmpty will return true if the arena has no live allocations
func (a *Arena) IsEmpty() bool {
	return a.liveAllocs.Count() == 0
}

func (a *Arena) listIndex(order int) int {
	return order - a.minOrder
}

func (a *Arena) pageAt(offset int) *page {
	return &a.pages[offset>>a.minOrder]
}

// orderFor returns the smallest order whose block size can hold size bytes,
// clamped below by minOrder. It returns false if size exceeds the arena.
// size must be at least 1.
func (a *Arena) orderFor(size int) (int, bool) {
	if size > len(a.memory) {
		return 0, false
	}

	size = memarena.AlignUp(size, uint(1)<<a.minOrder)

	return bits.Len(uint(size - 1)), true
}

// Allocate reserves a block of at least size bytes and returns its byte offset
// within the arena. The block actually reserved is the smallest power of two
// that can hold the request, so up to half of it may be internal
// fragmentation; Bytes exposes the full usable extent.
//
// Allocate returns an error wrapping OutOfMemoryError when no free block of
// sufficient order exists, whether from true exhaustion or from
// fragmentation; the two are not distinguished. Sizes less than 1 are a caller
// contract violation and are rejected with a descriptive error rather than
// being rounded up.
func (a *Arena) Allocate(size int) (int, error) {
	if size < 1 {
		return 0, errors.Errorf("invalid allocation size: %d", size)
	}

	memarena.DebugValidate(a)

	needed, ok := a.orderFor(size + memarena.DebugMargin)
	if !ok {
		return 0, cerrors.Wrapf(OutOfMemoryError, "requested %d bytes from a %d-byte arena", size, len(a.memory))
	}

	// First non-empty list at or above the needed order supplies the victim.
	var victim *page
	order := needed
	for ; order <= a.maxOrder; order++ {
		list := &a.freeLists[a.listIndex(order)]
		if !list.IsEmpty() {
			victim = list.Front()
			list.Remove(victim)
			break
		}
	}

	if victim == nil {
		return 0, cerrors.Wrapf(OutOfMemoryError, "no free block of order %d or above", needed)
	}

	// Split down to the needed order. The left half keeps the lower offset and
	// is the block being handed out; each right half becomes a free block one
	// order down. The victim is aligned to 2^order, so every half stays
	// aligned to its own size and the XOR buddy computation remains valid.
	for ; order > needed; order-- {
		right := a.pageAt(victim.offset ^ (1 << (order - 1)))
		right.order = order - 1
		a.freeLists[a.listIndex(order-1)].PushFront(right)
	}

	victim.order = needed
	a.liveAllocs.Put(victim.offset, victim)

	if memarena.DebugMargin > 0 {
		memarena.WriteMagicValue(a.memory, victim.offset+(1<<needed)-memarena.DebugMargin)
	}

	return victim.offset, nil
}

// Free releases the allocation at the provided offset and merges it with its
// free buddy repeatedly until the buddy is not free or the block spans the
// whole arena.
//
// Freeing an offset that is misaligned, outside the arena, not a live
// allocation, or whose descriptor carries an out-of-range order panics:
// continuing past any of those would silently corrupt the free lists, so they
// are treated as programmer errors rather than recoverable conditions.
func (a *Arena) Free(offset int) {
	memarena.DebugValidate(a)

	if offset < 0 || offset >= len(a.memory) {
		panic(fmt.Sprintf("free of offset %d: outside the %d-byte arena", offset, len(a.memory)))
	}
	if memarena.AlignDown(offset, uint(1)<<a.minOrder) != offset {
		panic(fmt.Sprintf("free of offset %d: not aligned to the %d-byte page size", offset, 1<<a.minOrder))
	}

	p := a.pageAt(offset)
	if p.order < a.minOrder || p.order > a.maxOrder {
		panic(fmt.Sprintf("free of offset %d: descriptor order %d is outside [%d, %d], indicating a double free, a foreign offset, or corrupted metadata", offset, p.order, a.minOrder, a.maxOrder))
	}

	_, live := a.liveAllocs.Get(offset)
	if !live {
		panic(fmt.Sprintf("free of offset %d: no live allocation at this offset", offset))
	}
	a.liveAllocs.Delete(offset)

	// Merge with the buddy at each order until the buddy is not free. The
	// merged block is always identified by the lower of the two offsets;
	// buddy offsets are computed relative to the arena base, so the upper
	// half's offset would produce the wrong buddy at the next order up.
	current := p
	order := current.order
	for ; order < a.maxOrder; order++ {
		b := a.pageAt(current.offset ^ (1 << order))
		list := &a.freeLists[a.listIndex(order)]
		if !list.Contains(b) {
			break
		}

		list.Remove(b)
		if b.offset < current.offset {
			current.order = orderNone
			current = b
		} else {
			b.order = orderNone
		}
	}

	current.order = order
	a.freeLists[a.listIndex(order)].PushFront(current)
}

// Bytes returns the usable byte range of the live allocation at the provided
// offset. The returned slice covers the allocation's full block, which may be
// larger than the size originally requested. Bytes panics if offset is not a
// live allocation.
func (a *Arena) Bytes(offset int) []byte {
	p, ok := a.liveAllocs.Get(offset)
	if !ok {
		panic(fmt.Sprintf("no live allocation at offset %d", offset))
	}

	return a.memory[offset : offset+(1<<p.order)-memarena.DebugMargin]
}

// CheckCorruption verifies the anti-corruption markers written after every
// live allocation. It returns nil unless a marker has been overwritten.
//
// Markers are only written when the module is built with the debug_mem_arena
// build tag; without it this method trivially succeeds.
func (a *Arena) CheckCorruption() error {
	if memarena.DebugMargin == 0 {
		return nil
	}

	var err error
	a.liveAllocs.Iter(func(offset int, p *page) bool {
		if !memarena.ValidateMagicValue(a.memory, offset+(1<<p.order)-memarena.DebugMargin) {
			err = errors.Errorf("memory corruption detected after the allocation at offset %d", offset)
			return true
		}

		return false
	})

	return err
}
