package engine

import (
	"math"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/rng"
)

const ghostStepSafetyCap = 5

func (e *Engine) updateGhosts(dtMS, nowMS uint64) {
	dtSec := float64(dtMS) / 1000.0
	ghostSpeed := game.GhostBaseSpeed * e.ghostSpeedMul

	for idx, g := range e.ghosts {
		if g.view.StunnedUntil > nowMS {
			continue
		}
		g.moveBuffer += ghostSpeed * dtSec
		safety := 0
		for g.moveBuffer >= 1.0 {
			g.moveBuffer -= 1.0
			safety++
			if safety > ghostStepSafetyCap {
				break
			}
			dir := e.chooseGhostDirection(idx)
			e.tryMoveGhost(idx, dir)
		}
	}
}

func (e *Engine) chooseGhostDirection(ghostIdx int) game.Direction {
	g := e.ghosts[ghostIdx]
	alive := e.standingPlayers()
	if len(alive) == 0 {
		return randomDirection(e.rng)
	}

	switch g.view.Type {
	case game.GhostRandom:
		return randomDirection(e.rng)

	case game.GhostPatrol:
		if e.rng.Bool(0.7) {
			return g.view.Dir
		}
		return randomDirection(e.rng)

	case game.GhostPincer:
		// Aim at the midpoint of the two nearest standing players.
		first, second := -1, -1
		firstDist, secondDist := 0, 0
		for i, p := range alive {
			dist := manhattan(g.view.X, g.view.Y, p.view.X, p.view.Y)
			switch {
			case first < 0 || dist < firstDist:
				second, secondDist = first, firstDist
				first, firstDist = i, dist
			case second < 0 || dist < secondDist:
				second, secondDist = i, dist
			}
		}
		target := game.Vec2{X: alive[first].view.X, Y: alive[first].view.Y}
		if second >= 0 {
			target.X = (alive[first].view.X + alive[second].view.X) / 2
			target.Y = (alive[first].view.Y + alive[second].view.Y) / 2
		}
		return e.chooseTowardDirection(g.view.X, g.view.Y, target.X, target.Y)

	case game.GhostInvader:
		var captured []int
		for i := range e.World.Sectors {
			if e.World.Sectors[i].State.Captured {
				captured = append(captured, i)
			}
		}
		if len(captured) > 0 {
			sector := &e.World.Sectors[captured[e.rng.PickIndex(len(captured))]].State
			return e.chooseTowardDirection(g.view.X, g.view.Y,
				sector.X+sector.Size/2, sector.Y+sector.Size/2)
		}
		if target := nearestStanding(alive, g.view.X, g.view.Y); target != nil {
			return e.chooseTowardDirection(g.view.X, g.view.Y, target.view.X, target.view.Y)
		}
		return randomDirection(e.rng)
	}

	// Chaser and boss home in on the nearest standing player.
	if target := nearestStanding(alive, g.view.X, g.view.Y); target != nil {
		return e.chooseTowardDirection(g.view.X, g.view.Y, target.view.X, target.view.Y)
	}
	return randomDirection(e.rng)
}

func (e *Engine) standingPlayers() []*playerInternal {
	out := make([]*playerInternal, 0, len(e.players))
	for _, p := range e.players {
		if p.view.State != game.StateDown {
			out = append(out, p)
		}
	}
	return out
}

func nearestStanding(alive []*playerInternal, x, y int) *playerInternal {
	var best *playerInternal
	bestDist := 0
	for _, p := range alive {
		dist := manhattan(x, y, p.view.X, p.view.Y)
		if best == nil || dist < bestDist {
			best = p
			bestDist = dist
		}
	}
	return best
}

// chooseTowardDirection evaluates the four neighbors by Manhattan distance
// to the target and picks the first walkable one in ascending distance,
// with a stable tie order of up, down, left, right.
func (e *Engine) chooseTowardDirection(x, y, tx, ty int) game.Direction {
	type candidate struct {
		dir  game.Direction
		dist int
	}
	candidates := [4]candidate{
		{game.DirUp, manhattan(x, y-1, tx, ty)},
		{game.DirDown, manhattan(x, y+1, tx, ty)},
		{game.DirLeft, manhattan(x-1, y, tx, ty)},
		{game.DirRight, manhattan(x+1, y, tx, ty)},
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].dist < candidates[j-1].dist; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	for _, c := range candidates {
		nx, ny := offsetDir(x, y, c.dir)
		if e.canMoveBetween(x, y, nx, ny) {
			return c.dir
		}
	}
	return randomDirection(e.rng)
}

func (e *Engine) tryMoveGhost(ghostIdx int, dir game.Direction) bool {
	if ghostIdx >= len(e.ghosts) {
		return false
	}
	g := e.ghosts[ghostIdx]
	if dir != game.DirNone {
		nx, ny := offsetDir(g.view.X, g.view.Y, dir)
		if e.canMoveBetween(g.view.X, g.view.Y, nx, ny) {
			g.view.X, g.view.Y = nx, ny
			g.view.Dir = dir
			return true
		}
	}

	fallback := randomDirection(e.rng)
	fx, fy := offsetDir(g.view.X, g.view.Y, fallback)
	if e.canMoveBetween(g.view.X, g.view.Y, fx, fy) {
		g.view.X, g.view.Y = fx, fy
		g.view.Dir = fallback
		return true
	}
	return false
}

// resolveGhostCollisions handles same-cell overlaps and position swaps
// detected via the pre-move snapshots.
func (e *Engine) resolveGhostCollisions(nowMS uint64, playersBefore, ghostsBefore map[string]game.Vec2) {
	for idx, p := range e.players {
		if p.view.State == game.StateDown {
			continue
		}
		for ghostIdx, g := range e.ghosts {
			overlap := p.view.X == g.view.X && p.view.Y == g.view.Y

			swapped := false
			if pBefore, ok := playersBefore[p.view.ID]; ok {
				if gBefore, ok := ghostsBefore[g.view.ID]; ok {
					swapped = pBefore.X == g.view.X && pBefore.Y == g.view.Y &&
						gBefore.X == p.view.X && gBefore.Y == p.view.Y
				}
			}

			if !overlap && !swapped {
				continue
			}

			if p.view.State == game.StatePower {
				if g.view.Type == game.GhostBoss {
					g.view.HP--
					hp := g.view.HP
					if hp < 0 {
						hp = 0
					}
					e.events = append(e.events, game.Event{
						Type:    game.EventBossHit,
						GhostID: g.view.ID,
						HP:      hp,
						By:      p.view.ID,
					})
					if g.view.HP <= 0 {
						p.view.Score += 500
						p.stats.ghosts++
						e.respawnGhost(ghostIdx)
					} else {
						g.view.StunnedUntil = nowMS + 1_000
					}
				} else {
					p.view.Score += 120
					p.stats.ghosts++
					e.respawnGhost(ghostIdx)
				}
			} else if nowMS >= p.remoteReviveGraceUntil {
				e.downPlayer(idx, nowMS)
			}
		}
	}
}

func (e *Engine) downPlayer(idx int, nowMS uint64) {
	p := e.players[idx]
	if p.view.State == game.StateDown {
		return
	}
	p.view.State = game.StateDown
	since := nowMS
	p.view.DownSince = &since
	p.view.Dir = game.DirNone
	p.moveBuffer = 0
	e.events = append(e.events, game.Event{Type: game.EventPlayerDown, PlayerID: p.view.ID})
}

func (e *Engine) spawnInitialGhosts() {
	count := game.InitialGhostCount(e.playerCount)
	if count > e.maxGhosts {
		count = e.maxGhosts
	}
	if count < 4 {
		count = 4
	}
	for i := 0; i < count; i++ {
		e.spawnGhost(0.0)
	}
}

func (e *Engine) spawnGhost(captureRatio float64) {
	spawn, ok := e.pickGhostSpawnPosition(-1)
	if !ok {
		return
	}
	ghostType := pickGhostType(captureRatio, e.playerCount, e.rng)
	id := e.makeID("ghost")
	e.ghosts = append(e.ghosts, &ghostInternal{
		view: game.GhostView{
			ID:   id,
			X:    spawn.X,
			Y:    spawn.Y,
			Dir:  randomDirection(e.rng),
			Type: ghostType,
			HP:   ghostHP(ghostType, e.playerCount),
		},
	})
	if ghostType == game.GhostBoss {
		e.events = append(e.events, game.Event{Type: game.EventBossSpawned, GhostID: id})
	}
}

func (e *Engine) respawnGhost(ghostIdx int) {
	if ghostIdx >= len(e.ghosts) {
		return
	}
	g := e.ghosts[ghostIdx]
	spawn, ok := e.pickGhostSpawnPosition(ghostIdx)
	if !ok {
		spawn = game.Vec2{X: g.view.X, Y: g.view.Y}
	}
	ghostType := pickGhostType(e.captureRatio(), e.playerCount, e.rng)
	g.view.X = spawn.X
	g.view.Y = spawn.Y
	g.view.Type = ghostType
	g.view.Dir = randomDirection(e.rng)
	g.view.HP = ghostHP(ghostType, e.playerCount)
	g.view.StunnedUntil = 0
}

func (e *Engine) isCellOccupiedByOtherGhost(x, y, excludeIdx int) bool {
	for idx, g := range e.ghosts {
		if idx != excludeIdx && g.view.X == x && g.view.Y == y {
			return true
		}
	}
	return false
}

// pickGhostSpawnPosition prefers configured spawn anchors at distance >= 5
// from every standing player, then a jittered cell near such an anchor
// keeping distance >= 3, then any free anchor.
func (e *Engine) pickGhostSpawnPosition(excludeIdx int) (game.Vec2, bool) {
	if len(e.World.GhostSpawnCells) == 0 {
		return game.Vec2{}, false
	}
	var sources []game.Vec2
	for _, spawn := range e.World.GhostSpawnCells {
		if e.isCellOccupiedByOtherGhost(spawn.X, spawn.Y, excludeIdx) {
			continue
		}
		farEnough := true
		for _, p := range e.players {
			if p.view.State != game.StateDown &&
				manhattan(spawn.X, spawn.Y, p.view.X, p.view.Y) < 5 {
				farEnough = false
				break
			}
		}
		if farEnough {
			sources = append(sources, spawn)
		}
	}
	if len(sources) == 0 {
		sources = e.World.GhostSpawnCells
	}

	for attempt := 0; attempt < 24; attempt++ {
		anchor := sources[e.rng.PickIndex(len(sources))]
		dx := e.rng.Int(-2, 2)
		dy := e.rng.Int(-2, 2)
		tx := clampInt(anchor.X+dx, 1, e.World.Width-2)
		ty := clampInt(anchor.Y+dy, 1, e.World.Height-2)
		if !e.World.IsWalkable(tx, ty) {
			continue
		}
		if e.isCellOccupiedByOtherGhost(tx, ty, excludeIdx) {
			continue
		}
		nearPlayer := false
		for _, p := range e.players {
			if p.view.State != game.StateDown && manhattan(tx, ty, p.view.X, p.view.Y) < 3 {
				nearPlayer = true
				break
			}
		}
		if nearPlayer {
			continue
		}
		return game.Vec2{X: tx, Y: ty}, true
	}

	for _, anchor := range sources {
		if !e.World.IsWalkable(anchor.X, anchor.Y) {
			continue
		}
		if e.isCellOccupiedByOtherGhost(anchor.X, anchor.Y, excludeIdx) {
			continue
		}
		return anchor, true
	}
	return game.Vec2{}, false
}

// adjustGhostPopulation runs once per second, pulling the ghost count toward
// a target derived from the capture ratio and active player count. At most
// three ghosts are added and two removed per adjustment.
func (e *Engine) adjustGhostPopulation(nowMS uint64) {
	_ = nowMS
	ratio := e.captureRatio()
	active := len(e.standingPlayers())
	floorShare, activeWeight, ratioWeight, capShare := e.largePartyGhostTargetProfile()

	target := math.Round(math.Max(
		float64(e.maxGhosts)*floorShare,
		float64(active)*activeWeight*(1.0+ratio*ratioWeight),
	))
	ceiling := float64(e.maxGhosts) * capShare
	if target > ceiling {
		target = ceiling
	}
	if target < 4 {
		target = 4
	}
	want := int(target)

	if len(e.ghosts) < want {
		add := want - len(e.ghosts)
		if add > 3 {
			add = 3
		}
		for i := 0; i < add; i++ {
			e.spawnGhost(ratio)
		}
	} else if len(e.ghosts) > want {
		remove := len(e.ghosts) - want
		if remove > 2 {
			remove = 2
		}
		for i := 0; i < remove && len(e.ghosts) > 0; i++ {
			idx := e.rng.PickIndex(len(e.ghosts))
			e.ghosts[idx] = e.ghosts[len(e.ghosts)-1]
			e.ghosts = e.ghosts[:len(e.ghosts)-1]
		}
	}
}

// pickGhostType rolls a ghost type from the capture-ratio table. Small
// parties get a bonus boss chance below 90% capture, derived from a
// secondary hash of the same roll so the draw count stays identical.
func pickGhostType(captureRatio float64, playerCount int, r *rng.Rng) game.GhostType {
	roll := r.Next()

	if playerCount <= 5 && captureRatio < 0.9 {
		bits := math.Float64bits(roll)
		h := uint32(bits) ^ uint32(bits>>32)
		h ^= h >> 16
		h *= 0x85ebca6b
		h ^= h >> 13
		h *= 0xc2b2ae35
		h ^= h >> 16
		if float64(h)/4_294_967_296.0 < 0.04 {
			return game.GhostBoss
		}
	}

	switch {
	case captureRatio < 0.3:
		if roll < 0.75 {
			return game.GhostRandom
		}
		return game.GhostChaser
	case captureRatio < 0.6:
		switch {
		case roll < 0.3:
			return game.GhostRandom
		case roll < 0.55:
			return game.GhostChaser
		case roll < 0.8:
			return game.GhostPatrol
		}
		return game.GhostPincer
	case captureRatio < 0.9:
		switch {
		case roll < 0.2:
			return game.GhostRandom
		case roll < 0.4:
			return game.GhostChaser
		case roll < 0.6:
			return game.GhostPatrol
		case roll < 0.8:
			return game.GhostPincer
		}
		return game.GhostInvader
	}
	switch {
	case roll < 0.1:
		return game.GhostRandom
	case roll < 0.25:
		return game.GhostChaser
	case roll < 0.5:
		return game.GhostPincer
	case roll < 0.8:
		return game.GhostInvader
	}
	return game.GhostBoss
}

// ghostHP scales boss durability with the party size; other types die in
// one hit.
func ghostHP(ghostType game.GhostType, playerCount int) int {
	if ghostType != game.GhostBoss {
		return 1
	}
	switch {
	case playerCount <= 5:
		return 1
	case playerCount <= 30:
		return 2
	}
	return 3
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
