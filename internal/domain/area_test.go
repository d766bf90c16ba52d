package domain

import "testing"

func sumSizes(areas []Area) uint64 {
	var total uint64
	for _, a := range areas {
		total += a.Size()
	}
	return total
}

func TestAreaDivideConservation(t *testing.T) {
	tests := []struct {
		name string
		area Area
	}{
		{"square even", Area{PosX: 0, PosY: 0, SizeX: 4, SizeY: 4}},
		{"rectangle odd", Area{PosX: 10, PosY: 20, SizeX: 7, SizeY: 3}},
		{"strip x", Area{PosX: 0, PosY: 0, SizeX: 9, SizeY: 1}},
		{"strip y", Area{PosX: 0, PosY: 0, SizeX: 1, SizeY: 9}},
		{"unit cell", Area{PosX: 5, PosY: 5, SizeX: 1, SizeY: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := tt.area.Divide()
			if got := sumSizes(parts); got != tt.area.Size() {
				t.Errorf("Divide() sizes sum = %d, want %d", got, tt.area.Size())
			}
			if len(parts) < 1 || len(parts) > 4 {
				t.Errorf("Divide() returned %d parts, want 1..4", len(parts))
			}
		})
	}
}

func TestAreaDivideUnitCellIsSelf(t *testing.T) {
	a := Area{PosX: 1, PosY: 1, SizeX: 1, SizeY: 1}
	parts := a.Divide()
	if len(parts) != 1 || parts[0] != a {
		t.Errorf("Divide() on unit cell = %v, want [%v]", parts, a)
	}
}

func TestAreaDivideOrderingIsXMinorYMajor(t *testing.T) {
	a := Area{PosX: 0, PosY: 0, SizeX: 2, SizeY: 2}
	parts := a.Divide()
	if len(parts) != 4 {
		t.Fatalf("Divide() returned %d parts, want 4", len(parts))
	}
	want := []Area{
		{PosX: 0, PosY: 0, SizeX: 1, SizeY: 1},
		{PosX: 1, PosY: 0, SizeX: 1, SizeY: 1},
		{PosX: 0, PosY: 1, SizeX: 1, SizeY: 1},
		{PosX: 1, PosY: 1, SizeX: 1, SizeY: 1},
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("Divide()[%d] = %v, want %v", i, parts[i], want[i])
		}
	}
}

func TestAreaDivideToUnitGrid(t *testing.T) {
	// divide recursively until every piece is a unit cell; the cells must
	// reconstruct the original area's coverage exactly.
	var recurse func(a Area) []Area
	recurse = func(a Area) []Area {
		if a.IsCell() {
			return []Area{a}
		}
		var out []Area
		for _, sub := range a.Divide() {
			if sub == a {
				// no further split possible (shouldn't happen unless a is a cell)
				out = append(out, sub)
				continue
			}
			out = append(out, recurse(sub)...)
		}
		return out
	}

	a := Area{PosX: 0, PosY: 0, SizeX: 5, SizeY: 3}
	cells := recurse(a)
	if uint64(len(cells)) != a.Size() {
		t.Fatalf("recursive divide produced %d cells, want %d", len(cells), a.Size())
	}

	seen := make(map[[2]uint64]bool)
	for _, c := range cells {
		if !c.IsCell() {
			t.Fatalf("non-cell leaf: %v", c)
		}
		key := [2]uint64{c.PosX, c.PosY}
		if seen[key] {
			t.Fatalf("cell %v covered more than once", c)
		}
		seen[key] = true
	}
}

func TestInitialStripe(t *testing.T) {
	got := InitialStripe(100, 3500, 2)
	want := Area{PosX: 200, PosY: 0, SizeX: 100, SizeY: 3500}
	if got != want {
		t.Errorf("InitialStripe() = %v, want %v", got, want)
	}
}

func TestAreaCostAndManageable(t *testing.T) {
	a := Area{SizeX: 10, SizeY: 10} // size 100
	cost := a.Cost(9, 2)            // 100 * (9/3) * 2 = 600
	if cost != 600 {
		t.Errorf("Cost() = %d, want 600", cost)
	}

	if !a.IsManageable(9, 2, 1000, 0) {
		t.Error("IsManageable() = false, want true (cost 600 < remaining 1000)")
	}
	if a.IsManageable(9, 2, 1000, 900) {
		t.Error("IsManageable() = true, want false (cost 600 >= remaining 100)")
	}
}
