package world

import (
	"testing"

	"github.com/GridStation/PelletRush/pkg/game"
)

func TestGenerateIsDeterministic(t *testing.T) {
	for _, players := range []int{1, 4, 10, 31, 80} {
		a := Generate(players, 424242)
		b := Generate(players, 424242)

		if a.Width != b.Width || a.Height != b.Height || a.Side != b.Side {
			t.Fatalf("players=%d: dimensions diverged", players)
		}
		for y := range a.Tiles {
			if string(a.Tiles[y]) != string(b.Tiles[y]) {
				t.Fatalf("players=%d: tile row %d diverged", players, y)
			}
		}
		if len(a.Gates) != len(b.Gates) {
			t.Fatalf("players=%d: gate count diverged: %d != %d", players, len(a.Gates), len(b.Gates))
		}
		for i := range a.Gates {
			if a.Gates[i] != b.Gates[i] {
				t.Fatalf("players=%d: gate %d diverged", players, i)
			}
		}
		if len(a.Dots) != len(b.Dots) {
			t.Fatalf("players=%d: dot count diverged", players)
		}
		for dot := range a.Dots {
			if _, ok := b.Dots[dot]; !ok {
				t.Fatalf("players=%d: dot %v missing from second world", players, dot)
			}
		}
	}
}

func TestSideSelection(t *testing.T) {
	tests := []struct {
		players int
		side    int
	}{
		{1, 2}, // clamped up to 2 players
		{2, 2},
		{5, 2},
		{6, 3},
		{15, 3},
		{16, 4},
		{30, 4},
		{31, 5},
		{60, 5},
		{61, 6},
		{200, 6},
	}
	for _, tt := range tests {
		w := Generate(tt.players, 1)
		if w.Side != tt.side {
			t.Errorf("players=%d: side = %d, want %d", tt.players, w.Side, tt.side)
		}
		if w.Width != tt.side*game.SectorSize || w.Height != tt.side*game.SectorSize {
			t.Errorf("players=%d: dimensions %dx%d do not match side", tt.players, w.Width, w.Height)
		}
	}
}

func TestGateAndSwitchCellsAreWalkable(t *testing.T) {
	for seed := uint32(1); seed <= 8; seed++ {
		w := Generate(20, seed)
		for _, gate := range w.Gates {
			for _, cell := range []game.Vec2{gate.A, gate.B, gate.SwitchA, gate.SwitchB} {
				if !w.IsWalkable(cell.X, cell.Y) {
					t.Fatalf("seed=%d: gate %s cell %v is not walkable", seed, gate.ID, cell)
				}
			}
		}
	}
}

func TestAdjacentSectorsShareWalkableEdge(t *testing.T) {
	for seed := uint32(1); seed <= 8; seed++ {
		w := Generate(12, seed)
		for row := 0; row < w.Side; row++ {
			for col := 0; col < w.Side; col++ {
				if col < w.Side-1 {
					if !hasWalkableEdgePair(w, row, col, false) {
						t.Fatalf("seed=%d: sectors (%d,%d)-(%d,%d) have no walkable edge", seed, row, col, row, col+1)
					}
				}
				if row < w.Side-1 {
					if !hasWalkableEdgePair(w, row, col, true) {
						t.Fatalf("seed=%d: sectors (%d,%d)-(%d,%d) have no walkable edge", seed, row, col, row+1, col)
					}
				}
			}
		}
	}
}

func hasWalkableEdgePair(w *World, row, col int, down bool) bool {
	if down {
		yTop := row*game.SectorSize + game.SectorSize - 1
		for x := col * game.SectorSize; x < (col+1)*game.SectorSize; x++ {
			if w.IsWalkable(x, yTop) && w.IsWalkable(x, yTop+1) {
				return true
			}
		}
		return false
	}
	xLeft := col*game.SectorSize + game.SectorSize - 1
	for y := row * game.SectorSize; y < (row+1)*game.SectorSize; y++ {
		if w.IsWalkable(xLeft, y) && w.IsWalkable(xLeft+1, y) {
			return true
		}
	}
	return false
}

func TestDotsAndPelletsReachableFromPrimarySpawn(t *testing.T) {
	for seed := uint32(1); seed <= 8; seed++ {
		w := Generate(25, seed)
		if len(w.PlayerSpawnCells) == 0 {
			t.Fatalf("seed=%d: no player spawns", seed)
		}
		reachable := w.ReachableFrom(w.PlayerSpawnCells[0])
		for dot := range w.Dots {
			if _, ok := reachable[dot]; !ok {
				t.Fatalf("seed=%d: dot %v unreachable from primary spawn", seed, dot)
			}
		}
		for _, pellet := range w.PowerPellets {
			if _, ok := reachable[game.Vec2{X: pellet.X, Y: pellet.Y}]; !ok {
				t.Fatalf("seed=%d: pellet %s unreachable from primary spawn", seed, pellet.Key)
			}
		}
	}
}

func TestNoInteriorDeadEnds(t *testing.T) {
	for seed := uint32(1); seed <= 8; seed++ {
		w := Generate(10, seed)
		for i := range w.Sectors {
			s := &w.Sectors[i].State
			for ly := 2; ly < s.Size-2; ly++ {
				for lx := 2; lx < s.Size-2; lx++ {
					x, y := s.X+lx, s.Y+ly
					if !w.IsWalkable(x, y) {
						continue
					}
					degree := 0
					for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
						if w.IsWalkable(x+d[0], y+d[1]) {
							degree++
						}
					}
					if degree < 2 {
						t.Fatalf("seed=%d: interior dead-end at (%d,%d) in sector %d", seed, x, y, s.ID)
					}
				}
			}
		}
	}
}

func TestDotsDisjointFromPelletsSpawnsAndGates(t *testing.T) {
	w := Generate(18, 77)
	gateCells := w.GateSwitchCellSet()
	for _, pellet := range w.PowerPellets {
		if _, ok := w.Dots[game.Vec2{X: pellet.X, Y: pellet.Y}]; ok {
			t.Errorf("dot placed on pellet cell %s", pellet.Key)
		}
	}
	for dot := range w.Dots {
		if _, ok := gateCells[dot]; ok {
			t.Errorf("dot placed on gate/switch cell %v", dot)
		}
		for _, spawn := range w.PlayerSpawnCells {
			if abs(dot.X-spawn.X) <= 2 && abs(dot.Y-spawn.Y) <= 2 {
				t.Errorf("dot %v inside spawn halo of %v", dot, spawn)
			}
		}
	}
}

func TestSpawnSetsDoNotOverlap(t *testing.T) {
	for seed := uint32(1); seed <= 8; seed++ {
		w := Generate(40, seed)
		if len(w.GhostSpawnCells) == 0 {
			t.Fatalf("seed=%d: no ghost spawns", seed)
		}
		playerSpawns := make(map[game.Vec2]struct{})
		for _, spawn := range w.PlayerSpawnCells {
			playerSpawns[spawn] = struct{}{}
		}
		for _, spawn := range w.GhostSpawnCells {
			if _, clash := playerSpawns[spawn]; clash {
				t.Fatalf("seed=%d: ghost spawn %v overlaps player spawn", seed, spawn)
			}
		}
	}
}

func TestSectorDotCountsMatchPlacedDots(t *testing.T) {
	w := Generate(8, 3)
	total := 0
	for i := range w.Sectors {
		sector := &w.Sectors[i]
		count := 0
		for _, cell := range sector.FloorCells {
			if _, ok := w.Dots[cell]; ok {
				count++
			}
		}
		if sector.State.DotCount != count {
			t.Errorf("sector %d: dotCount %d, placed %d", sector.State.ID, sector.State.DotCount, count)
		}
		if sector.State.TotalDots != sector.State.DotCount {
			t.Errorf("sector %d: totalDots %d != dotCount %d", sector.State.ID, sector.State.TotalDots, sector.State.DotCount)
		}
		total += count
	}
	if total != len(w.Dots) {
		t.Errorf("sector dot counts sum %d != dot set size %d", total, len(w.Dots))
	}
}
