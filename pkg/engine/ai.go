package engine

import (
	"github.com/GridStation/PelletRush/pkg/game"
)

// updatePlayerAI re-plans an AI-driven player's desired direction. Decisions
// are a pure function of engine state and the RNG stream, so identical seeds
// replay identically.
func (e *Engine) updatePlayerAI(playerIdx int, nowMS uint64) {
	p := e.players[playerIdx]
	if nowMS < p.aiThinkAt {
		return
	}
	p.aiThinkAt = nowMS + uint64(e.rng.Int(90, 190))

	nearestGhost := e.distanceToNearestGhost(p.view.X, p.view.Y)
	dangerThreshold := 4
	rescueThreatThreshold := 3
	cautiousDotThreshold := 7
	if e.isLargePartyEndgameBand() {
		dangerThreshold = 2
		rescueThreatThreshold = 2
		cautiousDotThreshold = 3
	}

	if p.view.State == game.StatePower {
		p.desiredDir = e.chooseChaseDirection(p.view.X, p.view.Y)
		return
	}

	if nearestGhost >= 0 && nearestGhost <= dangerThreshold {
		if p.view.Stocks > 0 && p.view.State != game.StatePower {
			p.awakenRequested = true
		}
		p.desiredDir = e.chooseEscapeDirection(p.view.X, p.view.Y)
		return
	}

	if downIdx, ok := e.findRescueTarget(playerIdx); ok {
		down := e.players[downIdx]
		rescueThreat := e.distanceToNearestGhost(down.view.X, down.view.Y)
		if rescueThreat < 0 {
			rescueThreat = 99
		}
		if rescueThreat <= rescueThreatThreshold && p.view.Stocks > 0 {
			p.awakenRequested = true
		}
		if p.view.X == down.view.X && p.view.Y == down.view.Y {
			// Already on the teammate: hold for the revive.
			p.desiredDir = game.DirNone
			return
		}
		p.desiredDir = e.chooseRescueDirection(p.view.X, p.view.Y, down.view.X, down.view.Y)
		return
	}

	if nearestGhost >= 0 && nearestGhost <= cautiousDotThreshold {
		p.desiredDir = e.chooseSafeDotDirection(p.view.X, p.view.Y)
		return
	}

	p.desiredDir = e.chooseDotDirection(p.view.X, p.view.Y)
}

// findRescueTarget returns the nearest down teammate.
func (e *Engine) findRescueTarget(playerIdx int) (int, bool) {
	p := e.players[playerIdx]
	best := -1
	bestDist := 0
	for idx, target := range e.players {
		if idx == playerIdx || target.view.State != game.StateDown {
			continue
		}
		dist := manhattan(p.view.X, p.view.Y, target.view.X, target.view.Y)
		if best < 0 || dist < bestDist {
			best = idx
			bestDist = dist
		}
	}
	return best, best >= 0
}

// nearestDot finds the closest dot with a total ordering on (distance, y, x)
// so the result does not depend on map iteration order.
func (e *Engine) nearestDot(x, y int) (game.Vec2, bool) {
	best := game.Vec2{}
	bestDist := -1
	for dot := range e.World.Dots {
		dist := manhattan(x, y, dot.X, dot.Y)
		if bestDist < 0 || dist < bestDist ||
			(dist == bestDist && (dot.Y < best.Y || (dot.Y == best.Y && dot.X < best.X))) {
			best = dot
			bestDist = dist
		}
	}
	return best, bestDist >= 0
}

func (e *Engine) chooseDotDirection(x, y int) game.Direction {
	best := game.DirNone
	bestScore := negInfinity
	nearest, hasNearest := e.nearestDot(x, y)

	for _, dir := range moveDirs {
		nx, ny := offsetDir(x, y, dir)
		if !e.canMoveBetween(x, y, nx, ny) {
			continue
		}
		score := 0.0
		if _, ok := e.World.Dots[game.Vec2{X: nx, Y: ny}]; ok {
			score += 12.0
		}
		if hasNearest {
			before := manhattan(x, y, nearest.X, nearest.Y)
			after := manhattan(nx, ny, nearest.X, nearest.Y)
			score += float64(before-after) * 0.9
		}
		if ghostDist := e.distanceToNearestGhost(nx, ny); ghostDist >= 0 {
			score += float64(ghostDist) * 0.15
		}
		score += e.rng.Next() * 0.4

		if score > bestScore {
			bestScore = score
			best = dir
		}
	}

	if best == game.DirNone {
		return randomDirection(e.rng)
	}
	return best
}

// chooseSafeDotDirection hunts dots while refusing cells adjacent to a ghost
// and penalizing cells a ghost can reach in two steps.
func (e *Engine) chooseSafeDotDirection(x, y int) game.Direction {
	best := game.DirNone
	bestScore := negInfinity
	nearest, hasNearest := e.nearestDot(x, y)

	for _, dir := range moveDirs {
		nx, ny := offsetDir(x, y, dir)
		if !e.canMoveBetween(x, y, nx, ny) {
			continue
		}
		ghostDist := e.distanceToNearestGhost(nx, ny)
		if ghostDist < 0 {
			ghostDist = 99
		}
		if ghostDist <= 1 {
			continue
		}

		score := 0.0
		if _, ok := e.World.Dots[game.Vec2{X: nx, Y: ny}]; ok {
			score += 14.0
		}
		if hasNearest {
			before := manhattan(x, y, nearest.X, nearest.Y)
			after := manhattan(nx, ny, nearest.X, nearest.Y)
			score += float64(before - after)
		}
		score += float64(ghostDist) * 0.65
		if ghostDist <= 2 {
			score -= 7.0
		}
		score += e.rng.Next() * 0.25

		if score > bestScore {
			bestScore = score
			best = dir
		}
	}

	if best == game.DirNone {
		return e.chooseEscapeDirection(x, y)
	}
	return best
}

// chooseRescueDirection closes on the down teammate, penalizing threatened
// cells and refusing ghost-adjacent cells that are not the target itself.
func (e *Engine) chooseRescueDirection(x, y, tx, ty int) game.Direction {
	best := game.DirNone
	bestScore := negInfinity

	for _, dir := range moveDirs {
		nx, ny := offsetDir(x, y, dir)
		if !e.canMoveBetween(x, y, nx, ny) {
			continue
		}
		ghostDist := e.distanceToNearestGhost(nx, ny)
		if ghostDist < 0 {
			ghostDist = 99
		}
		if ghostDist <= 1 && (nx != tx || ny != ty) {
			continue
		}
		score := -float64(manhattan(nx, ny, tx, ty)) * 1.6
		score += float64(ghostDist) * 0.9
		if ghostDist <= 2 {
			score -= 8.0
		}
		score += e.rng.Next() * 0.2
		if score > bestScore {
			bestScore = score
			best = dir
		}
	}

	if best == game.DirNone {
		return e.chooseEscapeDirection(x, y)
	}
	return best
}

// chooseEscapeDirection picks the walkable neighbor that maximizes the
// distance to the nearest ghost.
func (e *Engine) chooseEscapeDirection(x, y int) game.Direction {
	best := game.DirNone
	bestDist := -1 << 31
	for _, dir := range moveDirs {
		nx, ny := offsetDir(x, y, dir)
		if !e.canMoveBetween(x, y, nx, ny) {
			continue
		}
		dist := e.distanceToNearestGhost(nx, ny)
		if dist < 0 {
			dist = 99
		}
		if dist > bestDist {
			bestDist = dist
			best = dir
		}
	}
	if best == game.DirNone {
		return randomDirection(e.rng)
	}
	return best
}

// chooseChaseDirection heads toward the nearest ghost; used while in power.
func (e *Engine) chooseChaseDirection(x, y int) game.Direction {
	var target *ghostInternal
	bestDist := 0
	for _, g := range e.ghosts {
		dist := manhattan(x, y, g.view.X, g.view.Y)
		if target == nil || dist < bestDist {
			target = g
			bestDist = dist
		}
	}
	if target == nil {
		return randomDirection(e.rng)
	}
	return e.chooseTowardDirection(x, y, target.view.X, target.view.Y)
}

const negInfinity = -1.0e30
