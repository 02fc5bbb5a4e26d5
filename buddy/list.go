package buddy

import (
	"github.com/pkg/errors"
)

// pageList is an intrusive doubly-linked list of free block heads, threaded
// through the prevFree/nextFree fields of the page descriptors themselves. The
// allocator keeps one list per order and only ever touches lists through this
// type.
type pageList struct {
	head  *page
	count int
}

func (l *pageList) IsEmpty() bool {
	return l.count == 0
}

func (l *pageList) Count() int {
	return l.count
}

// Front returns the first page in the list, or nil if the list is empty.
func (l *pageList) Front() *page {
	return l.head
}

func (l *pageList) PushFront(p *page) {
	p.prevFree = nil
	p.nextFree = l.head

	if l.head != nil {
		l.head.prevFree = p
	}

	l.head = p
	l.count++
}

func (l *pageList) Remove(p *page) {
	if p.nextFree != nil {
		p.nextFree.prevFree = p.prevFree
	}

	if p.prevFree != nil {
		p.prevFree.nextFree = p.nextFree
	} else {
		l.head = p.nextFree
	}

	p.prevFree = nil
	p.nextFree = nil
	l.count--
}

// Contains walks the list looking for the provided descriptor. This is the
// linear buddy probe the coalesce loop relies on; its cost is proportional to
// the number of free blocks at a single order.
func (l *pageList) Contains(p *page) bool {
	for item := l.head; item != nil; item = item.nextFree {
		if item == p {
			return true
		}
	}

	return false
}

// Each calls visit for every page in the list, front to back, stopping early
// if visit returns false.
func (l *pageList) Each(visit func(p *page) bool) {
	for item := l.head; item != nil; item = item.nextFree {
		if !visit(item) {
			return
		}
	}
}

func (l *pageList) Validate() error {
	declaredCount := l.count
	actualCount := 0

	if l.head != nil && l.head.prevFree != nil {
		return errors.Errorf("the page at offset %d is the head of a free list but has a previous page", l.head.offset)
	}

	for item := l.head; item != nil; item = item.nextFree {
		if item.nextFree != nil && item.nextFree.prevFree != item {
			return errors.Errorf("the page at offset %d lists the page at offset %d as its next free page, but the reverse reference is broken", item.offset, item.nextFree.offset)
		}

		actualCount++
	}

	if declaredCount != actualCount {
		return errors.Errorf("the listed number of free pages in the list (%d) does not match the actual number of pages (%d)", declaredCount, actualCount)
	}

	return nil
}
