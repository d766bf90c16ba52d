package domain

import "container/heap"

// PendingDig is a single cell with known remaining treasure, dug up to
// depth-1, waiting to be dug at Depth.
type PendingDig struct {
	X         uint64
	Y         uint64
	Depth     uint8
	Remaining uint64
}

// Yield is the PendingDig's ordering metric: remaining*depth, biasing
// toward both high yield and deeper levels (deeper digs pay more coins).
func (p PendingDig) Yield() uint64 {
	return p.Remaining * uint64(p.Depth)
}

// NextLevel returns the PendingDig to re-enqueue after digging found
// tokens at the current depth, and whether it should be re-enqueued at
// all. Per spec: re-enqueue iff depth < maxDepth && remaining > found.
func (p PendingDig) NextLevel(found uint64, maxDepth uint8) (PendingDig, bool) {
	if p.Depth >= maxDepth || p.Remaining <= found {
		return PendingDig{}, false
	}
	return PendingDig{
		X:         p.X,
		Y:         p.Y,
		Depth:     p.Depth + 1,
		Remaining: p.Remaining - found,
	}, true
}

type digEntry struct {
	dig PendingDig
	seq uint64
}

type digSlice []digEntry

func (s digSlice) Len() int { return len(s) }
func (s digSlice) Less(i, j int) bool {
	yi, yj := s[i].dig.Yield(), s[j].dig.Yield()
	if yi != yj {
		return yi > yj
	}
	return s[i].seq < s[j].seq
}
func (s digSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *digSlice) Push(x interface{}) {
	*s = append(*s, x.(digEntry))
}
func (s *digSlice) Pop() interface{} {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

// DigHeap is a max-heap of PendingDig entries ordered by remaining*depth.
type DigHeap struct {
	items digSlice
	seq   uint64
}

// Push enqueues a PendingDig. Exhausted cells (remaining == 0) or cells
// already past max depth are not pushed — callers enforce this via
// NextLevel's ok return, but Push defends the invariant directly too.
func (h *DigHeap) Push(p PendingDig, maxDepth uint8) {
	if p.Remaining == 0 || p.Depth > maxDepth {
		return
	}
	h.seq++
	heap.Push(&h.items, digEntry{dig: p, seq: h.seq})
}

// Len returns the number of entries in the heap.
func (h *DigHeap) Len() int { return h.items.Len() }

// Pop removes and returns the highest-yield entry. ok is false if empty.
func (h *DigHeap) Pop() (PendingDig, bool) {
	if h.items.Len() == 0 {
		return PendingDig{}, false
	}
	entry := heap.Pop(&h.items).(digEntry)
	return entry.dig, true
}

// PendingSlotsHint sums (maxDepth+1-depth) over every queued dig, the
// hint Accounting uses to size future coin spend when a license expires.
func (h *DigHeap) PendingSlotsHint(maxDepth uint8) uint64 {
	var total uint64
	for _, e := range h.items {
		total += uint64(maxDepth) + 1 - uint64(e.dig.Depth)
	}
	return total
}
