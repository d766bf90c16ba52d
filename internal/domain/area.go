// Package domain implements the Gold Rush data model: areas, exploration
// results, dig progression, treasures, and licenses, along with the
// priority heaps that order work for the scheduler.
package domain

// Area is an axis-aligned rectangle on the grid, half-open: [pos, pos+size).
type Area struct {
	PosX  uint64 `json:"posX"`
	PosY  uint64 `json:"posY"`
	SizeX uint64 `json:"sizeX"`
	SizeY uint64 `json:"sizeY"`
}

// Size returns the cell count covered by the area.
func (a Area) Size() uint64 {
	return a.SizeX * a.SizeY
}

// IsCell reports whether the area is a single unit cell.
func (a Area) IsCell() bool {
	return a.SizeX == 1 && a.SizeY == 1
}

// splitX halves the area along X, sharing SizeY. Returns one area if
// SizeX < 2 (no further split possible along that axis).
func (a Area) splitX() []Area {
	if a.SizeX < 2 {
		return []Area{a}
	}
	left := a.SizeX / 2
	right := a.SizeX - left
	return []Area{
		{PosX: a.PosX, PosY: a.PosY, SizeX: left, SizeY: a.SizeY},
		{PosX: a.PosX + left, PosY: a.PosY, SizeX: right, SizeY: a.SizeY},
	}
}

// splitY halves the area along Y, sharing SizeX.
func (a Area) splitY() []Area {
	if a.SizeY < 2 {
		return []Area{a}
	}
	top := a.SizeY / 2
	bottom := a.SizeY - top
	return []Area{
		{PosX: a.PosX, PosY: a.PosY, SizeX: a.SizeX, SizeY: top},
		{PosX: a.PosX, PosY: a.PosY + top, SizeX: a.SizeX, SizeY: bottom},
	}
}

// Divide splits an area into 1, 2, or 4 sub-rectangles that exactly cover
// it (splitX composed with splitY, flattened). Ordering is x-minor,
// y-major: callers rely on this for deterministic residual attribution.
func (a Area) Divide() []Area {
	var out []Area
	for _, byY := range a.splitY() {
		out = append(out, byY.splitX()...)
	}
	return out
}

// InitialStripe builds the i-th vertical stripe of a w*n by h grid, used by
// the Supervisor to partition the grid across workers.
func InitialStripe(stripeWidth, height uint64, index int) Area {
	return Area{
		PosX:  stripeWidth * uint64(index),
		PosY:  0,
		SizeX: stripeWidth,
		SizeY: height,
	}
}

// SplitIn8 produces a coarse seed set for a worker's initial exploration:
// divide applied twice, flattened. Exact cardinality isn't a contract
// (divide can return 1, 2, or 4 per call), only coverage is.
func (a Area) SplitIn8() []Area {
	var out []Area
	for _, first := range a.Divide() {
		out = append(out, first.Divide()...)
	}
	return out
}

// Cost estimates the wall-clock cost (ms) of fully draining an area at
// maxDepth, used only to cap the initial working set.
func (a Area) Cost(maxDepth uint8, avgDigMs uint64) uint64 {
	return a.Size() * (uint64(maxDepth) / 3) * avgDigMs
}

// IsManageable reports whether the area's estimated cost fits inside the
// remaining wall-clock budget.
func (a Area) IsManageable(maxDepth uint8, avgDigMs, timeLimitMs, elapsedMs uint64) bool {
	remaining := uint64(0)
	if timeLimitMs > elapsedMs {
		remaining = timeLimitMs - elapsedMs
	}
	return a.Cost(maxDepth, avgDigMs) < remaining
}
