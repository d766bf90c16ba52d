package domain

import "container/heap"

// Treasures is one or more opaque tokens redeemable for coins via /cash,
// all found at the same depth. Invariant: non-empty when enqueued.
type Treasures struct {
	Depth     uint8
	Treasures []string
}

type treasureEntry struct {
	treasures Treasures
	seq       uint64
}

type treasureSlice []treasureEntry

func (s treasureSlice) Len() int { return len(s) }
func (s treasureSlice) Less(i, j int) bool {
	di, dj := s[i].treasures.Depth, s[j].treasures.Depth
	if di != dj {
		return di > dj
	}
	return s[i].seq < s[j].seq
}
func (s treasureSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *treasureSlice) Push(x interface{}) {
	*s = append(*s, x.(treasureEntry))
}
func (s *treasureSlice) Pop() interface{} {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

// TreasureHeap is a max-heap of Treasures ordered by depth (deeper pays
// more, so deeper treasures cash out first).
type TreasureHeap struct {
	items treasureSlice
	seq   uint64
}

// Push enqueues a Treasures batch. Empty batches are rejected per the
// invariant that Treasures.Treasures is never empty when enqueued.
func (h *TreasureHeap) Push(t Treasures) {
	if len(t.Treasures) == 0 {
		return
	}
	h.seq++
	heap.Push(&h.items, treasureEntry{treasures: t, seq: h.seq})
}

// Len returns the number of batches currently queued.
func (h *TreasureHeap) Len() int { return h.items.Len() }

// Pop removes and returns the deepest batch. ok is false if empty.
func (h *TreasureHeap) Pop() (Treasures, bool) {
	if h.items.Len() == 0 {
		return Treasures{}, false
	}
	entry := heap.Pop(&h.items).(treasureEntry)
	return entry.treasures, true
}

// Drain pops every queued batch, in depth order, for a cashing pass.
func (h *TreasureHeap) Drain() []Treasures {
	out := make([]Treasures, 0, h.Len())
	for h.Len() > 0 {
		t, _ := h.Pop()
		out = append(out, t)
	}
	return out
}
