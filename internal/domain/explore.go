package domain

import "container/heap"

// Explore is the server-reported treasure count in an area.
type Explore struct {
	Area   Area   `json:"area"`
	Amount uint64 `json:"amount"`
}

// Density is floor(amount/size), the primary exploration priority. An area
// with Size() == 0 never reaches here (the Area invariant requires
// SizeX, SizeY >= 1), so this never divides by zero.
func (e Explore) Density() uint64 {
	return e.Amount / e.Area.Size()
}

// exploreEntry pairs an Explore with an insertion sequence so that density
// ties break deterministically (oldest first) instead of arbitrarily.
type exploreEntry struct {
	explore Explore
	seq     uint64
}

// exploreSlice implements container/heap.Interface as a max-heap on
// density, the way the teacher's evictheap-adjacent code in the pack
// (ethereum txpool) layers a comparator over container/heap.
type exploreSlice []exploreEntry

func (s exploreSlice) Len() int { return len(s) }
func (s exploreSlice) Less(i, j int) bool {
	di, dj := s[i].explore.Density(), s[j].explore.Density()
	if di != dj {
		return di > dj
	}
	return s[i].seq < s[j].seq
}
func (s exploreSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *exploreSlice) Push(x interface{}) {
	*s = append(*s, x.(exploreEntry))
}
func (s *exploreSlice) Pop() interface{} {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

// ExploreHeap is a max-heap of Explore entries ordered by density.
type ExploreHeap struct {
	items exploreSlice
	seq   uint64
}

// Push enqueues an Explore. Zero-amount entries are discarded per the
// lifecycle invariant: amount == 0 is never enqueued.
func (h *ExploreHeap) Push(e Explore) {
	if e.Amount == 0 {
		return
	}
	h.seq++
	heap.Push(&h.items, exploreEntry{explore: e, seq: h.seq})
}

// Len returns the number of entries in the heap.
func (h *ExploreHeap) Len() int { return h.items.Len() }

// Pop removes and returns the maximum-density entry. ok is false if empty.
func (h *ExploreHeap) Pop() (Explore, bool) {
	if h.items.Len() == 0 {
		return Explore{}, false
	}
	entry := heap.Pop(&h.items).(exploreEntry)
	return entry.explore, true
}
