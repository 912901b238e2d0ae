// Package world generates and queries the tiled maze a match is played on.
// A world is a side x side grid of 17x17 sectors, each carved by a seeded
// maze pass, connected to its neighbors by open passages or switch gates.
package world

import (
	"fmt"

	"github.com/GridStation/PelletRush/pkg/game"
)

// Wall and floor tile bytes.
const (
	TileWall  = '#'
	TileFloor = '.'
)

// PowerPellet is the server-side state of one power pellet.
type PowerPellet struct {
	Key       string
	X, Y      int
	Active    bool
	RespawnAt uint64
}

// Sector is the server-side state of one sector.
type Sector struct {
	State             game.SectorState
	FloorCells        []game.Vec2
	RespawnCandidates []game.Vec2
	CapturedAt        uint64
	RegenAccumulator  float64
}

// World is a fully generated maze with its sector economy.
type World struct {
	Width      int
	Height     int
	Side       int
	SectorSize int

	Tiles   [][]byte
	Sectors []Sector
	Gates   []game.GateState

	Dots         map[game.Vec2]struct{}
	PowerPellets map[string]*PowerPellet

	PlayerSpawnCells []game.Vec2
	GhostSpawnCells  []game.Vec2
}

// KeyOf builds the "x,y" map key used for pellets.
func KeyOf(x, y int) string {
	return fmt.Sprintf("%d,%d", x, y)
}

// IsWalkable reports whether (x, y) is an in-bounds floor cell.
func (w *World) IsWalkable(x, y int) bool {
	if x < 0 || y < 0 || x >= w.Width || y >= w.Height {
		return false
	}
	return w.Tiles[y][x] == TileFloor
}

// SetFloor forces (x, y) to floor. Used by tests to build fixtures.
func (w *World) SetFloor(x, y int) {
	if x >= 0 && y >= 0 && x < w.Width && y < w.Height {
		w.Tiles[y][x] = TileFloor
	}
}

// SectorIDAt maps a cell to its sector index, or -1 when out of bounds.
func (w *World) SectorIDAt(x, y int) int {
	if x < 0 || y < 0 || x >= w.Width || y >= w.Height {
		return -1
	}
	col := x / w.SectorSize
	row := y / w.SectorSize
	return row*w.Side + col
}

// IsGateCellOrSwitch reports whether (x, y) is a gate endpoint or switch.
func (w *World) IsGateCellOrSwitch(x, y int) bool {
	for i := range w.Gates {
		g := &w.Gates[i]
		if (g.A.X == x && g.A.Y == y) || (g.B.X == x && g.B.Y == y) ||
			(g.SwitchA.X == x && g.SwitchA.Y == y) || (g.SwitchB.X == x && g.SwitchB.Y == y) {
			return true
		}
	}
	return false
}

// GateSwitchCellSet collects every gate endpoint and switch cell.
func (w *World) GateSwitchCellSet() map[game.Vec2]struct{} {
	out := make(map[game.Vec2]struct{}, len(w.Gates)*4)
	for i := range w.Gates {
		g := &w.Gates[i]
		out[g.A] = struct{}{}
		out[g.B] = struct{}{}
		out[g.SwitchA] = struct{}{}
		out[g.SwitchB] = struct{}{}
	}
	return out
}

// Init builds the one-shot world description sent to clients.
func (w *World) Init() game.WorldInit {
	tiles := make([]string, len(w.Tiles))
	for i, row := range w.Tiles {
		tiles[i] = string(row)
	}
	sectors := make([]game.SectorState, len(w.Sectors))
	for i := range w.Sectors {
		sectors[i] = w.Sectors[i].State
	}
	dots := make([][2]int, 0, len(w.Dots))
	for dot := range w.Dots {
		dots = append(dots, [2]int{dot.X, dot.Y})
	}
	sortDotPairs(dots)
	pellets := make([]game.PowerPelletView, 0, len(w.PowerPellets))
	for _, p := range w.PowerPellets {
		pellets = append(pellets, game.PowerPelletView{Key: p.Key, X: p.X, Y: p.Y, Active: p.Active})
	}
	sortPelletViews(pellets)

	gates := make([]game.GateState, len(w.Gates))
	copy(gates, w.Gates)

	return game.WorldInit{
		Width:        w.Width,
		Height:       w.Height,
		SectorSize:   w.SectorSize,
		Side:         w.Side,
		Tiles:        tiles,
		Sectors:      sectors,
		Gates:        gates,
		Dots:         dots,
		PowerPellets: pellets,
	}
}

// ReachableFrom flood-fills walkable cells starting at the given cell.
func (w *World) ReachableFrom(start game.Vec2) map[game.Vec2]struct{} {
	reached := make(map[game.Vec2]struct{})
	if !w.IsWalkable(start.X, start.Y) {
		return reached
	}
	queue := []game.Vec2{start}
	reached[start] = struct{}{}
	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]
		for _, next := range []game.Vec2{
			{X: cell.X, Y: cell.Y - 1},
			{X: cell.X, Y: cell.Y + 1},
			{X: cell.X - 1, Y: cell.Y},
			{X: cell.X + 1, Y: cell.Y},
		} {
			if !w.IsWalkable(next.X, next.Y) {
				continue
			}
			if _, seen := reached[next]; seen {
				continue
			}
			reached[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return reached
}

// sortDotPairs orders dot pairs row-major so world payloads serialize stably.
func sortDotPairs(dots [][2]int) {
	for i := 1; i < len(dots); i++ {
		for j := i; j > 0 && lessPair(dots[j], dots[j-1]); j-- {
			dots[j], dots[j-1] = dots[j-1], dots[j]
		}
	}
}

func lessPair(a, b [2]int) bool {
	if a[1] != b[1] {
		return a[1] < b[1]
	}
	return a[0] < b[0]
}

func sortPelletViews(pellets []game.PowerPelletView) {
	for i := 1; i < len(pellets); i++ {
		for j := i; j > 0 && pellets[j].Key < pellets[j-1].Key; j-- {
			pellets[j], pellets[j-1] = pellets[j-1], pellets[j]
		}
	}
}
