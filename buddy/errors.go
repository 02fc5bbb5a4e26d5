package buddy

import "github.com/pkg/errors"

// OutOfMemoryError is the error returned from Arena.Allocate when no free block of
// sufficient order exists, or when the requested size exceeds the arena's total
// capacity. The allocator does not distinguish fragmentation from true
// exhaustion. Callers may recover by freeing memory and retrying.
var OutOfMemoryError error = errors.New("arena out of memory")
