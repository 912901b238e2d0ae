package world

import (
	"strconv"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/rng"
)

const maxPelletsPerSector = 2

// Generate builds a world for the given party size and seed. It is a pure
// function of its inputs: the same pair always yields the same world.
func Generate(playerCount int, seed uint32) *World {
	r := rng.New(seed)
	effective := playerCount
	if effective < 2 {
		effective = 2
	}
	side := game.MapSideByPlayerCount(effective)
	width := side * game.SectorSize
	height := side * game.SectorSize

	w := &World{
		Width:        width,
		Height:       height,
		Side:         side,
		SectorSize:   game.SectorSize,
		Tiles:        make([][]byte, height),
		Dots:         make(map[game.Vec2]struct{}),
		PowerPellets: make(map[string]*PowerPellet),
	}
	for y := range w.Tiles {
		row := make([]byte, width)
		for x := range row {
			row[x] = TileWall
		}
		w.Tiles[y] = row
	}

	// 1. Carve each sector independently.
	// ------------------------------------------------------------------
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			id := row*side + col
			sectorType := pickSectorType(r)
			x0 := col * game.SectorSize
			y0 := row * game.SectorSize
			carveSector(w.Tiles, x0, y0, game.SectorSize, sectorType, r)
			w.Sectors = append(w.Sectors, Sector{
				State: game.SectorState{
					ID:   id,
					Row:  row,
					Col:  col,
					X:    x0,
					Y:    y0,
					Size: game.SectorSize,
					Type: sectorType,
				},
			})
		}
	}

	// 2. Connect every adjacent sector pair: a switch gate with probability
	// gateChance, an always-open passage otherwise.
	// ------------------------------------------------------------------
	gateChance := float64(playerCount) / 320.0
	if gateChance < 0.08 {
		gateChance = 0.08
	}
	if gateChance > 0.32 {
		gateChance = 0.32
	}
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			if col < side-1 {
				if r.Bool(gateChance) {
					w.Gates = append(w.Gates, connectRight(w.Tiles, row, col, true))
				} else {
					connectRight(w.Tiles, row, col, false)
				}
			}
			if row < side-1 {
				if r.Bool(gateChance) {
					w.Gates = append(w.Gates, connectDown(w.Tiles, row, col, true))
				} else {
					connectDown(w.Tiles, row, col, false)
				}
			}
		}
	}

	// 3. Floor inventory and power pellets.
	// ------------------------------------------------------------------
	gateCells := w.GateSwitchCellSet()
	for i := range w.Sectors {
		sector := &w.Sectors[i]
		scanSectorFloor(w, sector)
		for _, cell := range pickPelletCells(sector, gateCells, r) {
			key := KeyOf(cell.X, cell.Y)
			w.PowerPellets[key] = &PowerPellet{Key: key, X: cell.X, Y: cell.Y, Active: true}
		}
	}

	// 4. Spawns and reachability.
	// ------------------------------------------------------------------
	w.PlayerSpawnCells = collectPlayerSpawns(w)
	w.GhostSpawnCells = collectGhostSpawns(w)

	primary := game.Vec2{X: 1, Y: 1}
	if len(w.PlayerSpawnCells) > 0 {
		primary = w.PlayerSpawnCells[0]
	}
	reachable := w.ReachableFrom(primary)

	for key, pellet := range w.PowerPellets {
		if _, ok := reachable[game.Vec2{X: pellet.X, Y: pellet.Y}]; !ok {
			delete(w.PowerPellets, key)
		}
	}

	// 5. Dots: every reachable floor cell that is not a pellet, not inside a
	// spawn halo, and not a gate or switch cell.
	// ------------------------------------------------------------------
	protected := spawnProtectedCells(w)
	pelletCells := make(map[game.Vec2]struct{}, len(w.PowerPellets))
	for _, p := range w.PowerPellets {
		pelletCells[game.Vec2{X: p.X, Y: p.Y}] = struct{}{}
	}
	for i := range w.Sectors {
		sector := &w.Sectors[i]
		count := 0
		sector.RespawnCandidates = sector.RespawnCandidates[:0]
		for _, cell := range sector.FloorCells {
			if _, ok := reachable[cell]; !ok {
				continue
			}
			if _, ok := pelletCells[cell]; ok {
				continue
			}
			if _, ok := protected[cell]; ok {
				continue
			}
			if _, ok := gateCells[cell]; ok {
				continue
			}
			w.Dots[cell] = struct{}{}
			sector.RespawnCandidates = append(sector.RespawnCandidates, cell)
			count++
		}
		sector.State.DotCount = count
		sector.State.TotalDots = count
	}

	return w
}

func pickSectorType(r *rng.Rng) game.SectorType {
	roll := r.Next()
	switch {
	case roll < 0.36:
		return game.SectorNormal
	case roll < 0.5:
		return game.SectorNarrow
	case roll < 0.65:
		return game.SectorPlaza
	case roll < 0.75:
		return game.SectorDark
	case roll < 0.87:
		return game.SectorFast
	}
	return game.SectorNest
}

// carveSector produces a connected interior with no single-cell dead-ends:
// randomized depth-first tunneling on the odd lattice with mirrored writes,
// type-dependent widening, optional ribs, a guaranteed cross and halo
// through the center, then dead-end reduction until stable.
func carveSector(tiles [][]byte, x0, y0, size int, sectorType game.SectorType, r *rng.Rng) {
	center := size / 2

	set := func(lx, ly int, tile byte) {
		if lx > 0 && ly > 0 && lx < size-1 && ly < size-1 {
			tiles[y0+ly][x0+lx] = tile
		}
	}
	get := func(lx, ly int) byte {
		if lx < 0 || ly < 0 || lx >= size || ly >= size {
			return TileWall
		}
		return tiles[y0+ly][x0+lx]
	}
	// open carves a cell and its mirror across the vertical center line.
	open := func(lx, ly int) {
		set(lx, ly, TileFloor)
		set(size-1-lx, ly, TileFloor)
	}

	// Depth-first tunneling over the odd lattice of the left half; every
	// carve is mirrored, so the right half is its reflection.
	type cell struct{ lx, ly int }
	var lattice []cell
	for ly := 1; ly < size-1; ly += 2 {
		for lx := 1; lx < center; lx += 2 {
			lattice = append(lattice, cell{lx, ly})
		}
	}
	visited := make(map[cell]bool, len(lattice))
	start := lattice[r.PickIndex(len(lattice))]
	stack := []cell{start}
	visited[start] = true
	open(start.lx, start.ly)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		var next []cell
		for _, d := range [4][2]int{{0, -2}, {0, 2}, {-2, 0}, {2, 0}} {
			candidate := cell{current.lx + d[0], current.ly + d[1]}
			if candidate.lx < 1 || candidate.lx >= center || candidate.ly < 1 || candidate.ly > size-2 {
				continue
			}
			if !visited[candidate] {
				next = append(next, candidate)
			}
		}
		if len(next) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		chosen := next[r.PickIndex(len(next))]
		visited[chosen] = true
		open((current.lx+chosen.lx)/2, (current.ly+chosen.ly)/2)
		open(chosen.lx, chosen.ly)
		stack = append(stack, chosen)
	}

	// Widen by knocking out extra walls; plazas the most, narrows the least.
	extra := 0
	switch sectorType {
	case game.SectorPlaza:
		extra = 46
	case game.SectorFast:
		extra = 34
	case game.SectorNormal:
		extra = 28
	case game.SectorNest:
		extra = 26
	case game.SectorDark:
		extra = 22
	case game.SectorNarrow:
		extra = 10
	}
	for i := 0; i < extra; i++ {
		lx := r.Int(1, size-2)
		ly := r.Int(1, size-2)
		open(lx, ly)
	}

	// Narrow sectors (and occasionally others) get a rib: a wall strip with
	// two random gaps plus a center gap.
	if sectorType == game.SectorNarrow || r.Bool(0.25) {
		vertical := r.Bool(0.5)
		pos := 2 * r.Int(2, (size-3)/2) // even offset away from the border
		gapA := r.Int(1, size-2)
		gapB := r.Int(1, size-2)
		for i := 1; i < size-1; i++ {
			if i == gapA || i == gapB || i == center {
				continue
			}
			if vertical {
				set(pos, i, TileWall)
			} else {
				set(i, pos, TileWall)
			}
		}
	}

	// Guaranteed cross through the center plus a 3x3 halo.
	for i := 1; i < size-1; i++ {
		set(i, center, TileFloor)
		set(center, i, TileFloor)
	}
	for ly := center - 1; ly <= center+1; ly++ {
		for lx := center - 1; lx <= center+1; lx++ {
			set(lx, ly, TileFloor)
		}
	}

	// Reattach any floor region the mirror writes or ribs stranded from the
	// center before smoothing out dead ends.
	connectStranded(tiles, x0, y0, size, center)

	// Dead-end reduction: open one wall neighbor of every floor cell with
	// fewer than two floor neighbors, until the interior is stable.
	for {
		changed := false
		for ly := 1; ly < size-1; ly++ {
			for lx := 1; lx < size-1; lx++ {
				if get(lx, ly) != TileFloor {
					continue
				}
				degree := 0
				var walls [][2]int
				for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
					nx, ny := lx+d[0], ly+d[1]
					if get(nx, ny) == TileFloor {
						degree++
					} else if nx > 0 && ny > 0 && nx < size-1 && ny < size-1 {
						walls = append(walls, [2]int{nx, ny})
					}
				}
				if degree <= 1 && len(walls) > 0 {
					pick := walls[r.PickIndex(len(walls))]
					set(pick[0], pick[1], TileFloor)
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
}

// connectStranded flood-fills the sector interior from its center and carves
// an L-shaped corridor from every unreached floor cell back to it.
func connectStranded(tiles [][]byte, x0, y0, size, center int) {
	idx := func(lx, ly int) int { return ly*size + lx }
	for {
		reached := make([]bool, size*size)
		queue := [][2]int{{center, center}}
		reached[idx(center, center)] = true
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
				nx, ny := c[0]+d[0], c[1]+d[1]
				if nx < 1 || ny < 1 || nx >= size-1 || ny >= size-1 {
					continue
				}
				if tiles[y0+ny][x0+nx] != TileFloor || reached[idx(nx, ny)] {
					continue
				}
				reached[idx(nx, ny)] = true
				queue = append(queue, [2]int{nx, ny})
			}
		}

		stranded := [2]int{-1, -1}
		for ly := 1; ly < size-1 && stranded[0] < 0; ly++ {
			for lx := 1; lx < size-1; lx++ {
				if tiles[y0+ly][x0+lx] == TileFloor && !reached[idx(lx, ly)] {
					stranded = [2]int{lx, ly}
					break
				}
			}
		}
		if stranded[0] < 0 {
			return
		}

		lx, ly := stranded[0], stranded[1]
		for lx != center {
			if lx < center {
				lx++
			} else {
				lx--
			}
			tiles[y0+ly][x0+lx] = TileFloor
		}
		for ly != center {
			if ly < center {
				ly++
			} else {
				ly--
			}
			tiles[y0+ly][x0+lx] = TileFloor
		}
	}
}

// connectRight opens the boundary between (row, col) and (row, col+1) on the
// shared center row. With gated=true the pair of boundary cells becomes a
// switch gate; otherwise the passage is permanently open floor.
func connectRight(tiles [][]byte, row, col int, gated bool) game.GateState {
	yCenter := row*game.SectorSize + game.SectorSize/2
	xLeft := col*game.SectorSize + game.SectorSize - 1
	xRight := (col + 1) * game.SectorSize
	for _, x := range []int{xLeft - 2, xLeft - 1, xLeft, xRight, xRight + 1, xRight + 2} {
		tiles[yCenter][x] = TileFloor
	}
	if !gated {
		return game.GateState{}
	}
	return game.GateState{
		ID:      gateID(row, col, false),
		A:       game.Vec2{X: xLeft, Y: yCenter},
		B:       game.Vec2{X: xRight, Y: yCenter},
		SwitchA: game.Vec2{X: xLeft - 2, Y: yCenter},
		SwitchB: game.Vec2{X: xRight + 2, Y: yCenter},
	}
}

// connectDown is the vertical counterpart of connectRight.
func connectDown(tiles [][]byte, row, col int, gated bool) game.GateState {
	xCenter := col*game.SectorSize + game.SectorSize/2
	yTop := row*game.SectorSize + game.SectorSize - 1
	yBottom := (row + 1) * game.SectorSize
	for _, y := range []int{yTop - 2, yTop - 1, yTop, yBottom, yBottom + 1, yBottom + 2} {
		tiles[y][xCenter] = TileFloor
	}
	if !gated {
		return game.GateState{}
	}
	return game.GateState{
		ID:      gateID(row, col, true),
		A:       game.Vec2{X: xCenter, Y: yTop},
		B:       game.Vec2{X: xCenter, Y: yBottom},
		SwitchA: game.Vec2{X: xCenter, Y: yTop - 2},
		SwitchB: game.Vec2{X: xCenter, Y: yBottom + 2},
	}
}

func gateID(row, col int, down bool) string {
	if down {
		return "gate_" + strconv.Itoa(row) + "_" + strconv.Itoa(col) + "_down"
	}
	return "gate_" + strconv.Itoa(row) + "_" + strconv.Itoa(col)
}

func scanSectorFloor(w *World, sector *Sector) {
	sector.FloorCells = sector.FloorCells[:0]
	for y := sector.State.Y; y < sector.State.Y+sector.State.Size; y++ {
		for x := sector.State.X; x < sector.State.X+sector.State.Size; x++ {
			if w.Tiles[y][x] == TileFloor {
				sector.FloorCells = append(sector.FloorCells, game.Vec2{X: x, Y: y})
			}
		}
	}
}

func pickPelletCells(sector *Sector, gateCells map[game.Vec2]struct{}, r *rng.Rng) []game.Vec2 {
	candidates := make([]game.Vec2, 0, len(sector.FloorCells))
	for _, cell := range sector.FloorCells {
		if _, ok := gateCells[cell]; !ok {
			candidates = append(candidates, cell)
		}
	}
	var out []game.Vec2
	for i := 0; i < maxPelletsPerSector && len(candidates) > 0; i++ {
		idx := r.PickIndex(len(candidates))
		out = append(out, candidates[idx])
		candidates[idx] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
	}
	return out
}

// collectPlayerSpawns picks, for every edge sector in row-major order, the
// floor cell nearest the sector center, deduplicated.
func collectPlayerSpawns(w *World) []game.Vec2 {
	seen := make(map[game.Vec2]struct{})
	var out []game.Vec2
	for i := range w.Sectors {
		sector := &w.Sectors[i]
		if sector.State.Row != 0 && sector.State.Row != w.Side-1 &&
			sector.State.Col != 0 && sector.State.Col != w.Side-1 {
			continue
		}
		spawn, ok := centerNearestFloor(sector)
		if !ok {
			continue
		}
		if _, dup := seen[spawn]; dup {
			continue
		}
		seen[spawn] = struct{}{}
		out = append(out, spawn)
	}
	return out
}

// collectGhostSpawns uses nest sector centers, the center sector when no
// nest exists, and the first floor cell as a last resort. Ghost spawns never
// overlap player spawns.
func collectGhostSpawns(w *World) []game.Vec2 {
	playerSpawns := make(map[game.Vec2]struct{}, len(w.PlayerSpawnCells))
	for _, spawn := range w.PlayerSpawnCells {
		playerSpawns[spawn] = struct{}{}
	}

	var out []game.Vec2
	appendSpawn := func(sector *Sector) {
		if spawn, ok := centerNearestFloor(sector); ok {
			if _, clash := playerSpawns[spawn]; !clash {
				out = append(out, spawn)
			}
		}
	}

	for i := range w.Sectors {
		if w.Sectors[i].State.Type == game.SectorNest {
			appendSpawn(&w.Sectors[i])
		}
	}
	if len(out) == 0 {
		center := (w.Side/2)*w.Side + w.Side/2
		appendSpawn(&w.Sectors[center])
	}
	if len(out) == 0 {
		for y := 0; y < w.Height && len(out) == 0; y++ {
			for x := 0; x < w.Width; x++ {
				cell := game.Vec2{X: x, Y: y}
				if w.Tiles[y][x] != TileFloor {
					continue
				}
				if _, clash := playerSpawns[cell]; clash {
					continue
				}
				out = append(out, cell)
				break
			}
		}
	}
	return out
}

func centerNearestFloor(sector *Sector) (game.Vec2, bool) {
	cx := sector.State.X + sector.State.Size/2
	cy := sector.State.Y + sector.State.Size/2
	best := game.Vec2{}
	bestDist := -1
	for _, cell := range sector.FloorCells {
		dist := abs(cell.X-cx) + abs(cell.Y-cy)
		if bestDist < 0 || dist < bestDist {
			best = cell
			bestDist = dist
		}
	}
	return best, bestDist >= 0
}

func spawnProtectedCells(w *World) map[game.Vec2]struct{} {
	protected := make(map[game.Vec2]struct{})
	for _, spawn := range w.PlayerSpawnCells {
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				x := spawn.X + dx
				y := spawn.Y + dy
				if x < 0 || y < 0 || x >= w.Width || y >= w.Height {
					continue
				}
				protected[game.Vec2{X: x, Y: y}] = struct{}{}
			}
		}
	}
	return protected
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
