package buddy

// orderNone marks a page that is not currently the head of any block, either
// because it is an interior page of a larger block or because it was absorbed
// into its buddy during a merge.
const orderNone = -1

// page is the descriptor for one minimum-size page of the arena. Descriptors are
// created once at construction and never destroyed; only the order field and
// free-list membership change as blocks are split and merged. Only the
// lowest-addressed page of a block carries a meaningful order while the block
// is intact.
type page struct {
	index  int
	offset int
	order  int

	prevFree *page
	nextFree *page
}
