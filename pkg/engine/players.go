package engine

import (
	"fmt"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/world"
)

const playerStepSafetyCap = 6

func (e *Engine) updatePlayers(dtMS, nowMS uint64) {
	dtSec := float64(dtMS) / 1000.0

	for idx, p := range e.players {
		if p.view.State == game.StateDown {
			if p.view.DownSince != nil && nowMS-*p.view.DownSince >= game.RescueTimeoutMS {
				e.autoRespawn(idx, nowMS)
			}
			continue
		}

		if p.view.State == game.StatePower && nowMS >= p.view.PowerUntil {
			p.view.State = game.StateNormal
		}

		if p.view.AI {
			e.updatePlayerAI(idx, nowMS)
		}

		if p.awakenRequested && p.view.Stocks > 0 && p.view.State != game.StateDown {
			p.awakenRequested = false
			p.view.Stocks--
			p.view.State = game.StatePower
			p.view.PowerUntil = nowMS + game.AwakenDurationMS
			e.events = append(e.events, game.Event{
				Type:    game.EventToast,
				Message: fmt.Sprintf("%s awakened", p.view.Name),
			})
		}

		if nowMS < p.holdUntilMS {
			continue
		}

		speed := e.playerSpeed(idx, nowMS)
		p.moveBuffer += speed * dtSec
		safety := 0
		for p.moveBuffer >= 1.0 {
			p.moveBuffer -= 1.0
			safety++
			if safety > playerStepSafetyCap {
				break
			}
			e.advancePlayerOneCell(idx)
			e.applyPlayerPickups(idx, nowMS)
		}
	}

	e.resolvePlayerRescues(nowMS)
}

func (e *Engine) playerSpeed(idx int, nowMS uint64) float64 {
	speed := float64(game.PlayerBaseSpeed)
	if idx < 0 || idx >= len(e.players) {
		return speed
	}
	p := e.players[idx]
	speed *= e.largePartyPlayerSpeedMultiplier()

	if sectorID := e.sectorIDAt(p.view.X, p.view.Y); sectorID >= 0 && sectorID < len(e.World.Sectors) {
		if e.World.Sectors[sectorID].State.Captured {
			speed *= game.PlayerCapturedSpeedMultiplier
		}
	}
	if nowMS < p.view.SpeedBuffUntil {
		speed *= 1.3
	}
	if p.view.State == game.StatePower {
		speed *= 1.08
	}
	return speed
}

// advancePlayerOneCell steps one cell preferring the desired direction, then
// the current facing, then a random walkable direction.
func (e *Engine) advancePlayerOneCell(idx int) {
	p := e.players[idx]
	fromX, fromY := p.view.X, p.view.Y

	if p.desiredDir != game.DirNone {
		nx, ny := offsetDir(fromX, fromY, p.desiredDir)
		if e.canMoveBetween(fromX, fromY, nx, ny) {
			p.view.X, p.view.Y = nx, ny
			p.view.Dir = p.desiredDir
			return
		}
	}

	if p.view.Dir != game.DirNone {
		nx, ny := offsetDir(fromX, fromY, p.view.Dir)
		if e.canMoveBetween(fromX, fromY, nx, ny) {
			p.view.X, p.view.Y = nx, ny
			return
		}
	}

	fallback := randomDirection(e.rng)
	nx, ny := offsetDir(fromX, fromY, fallback)
	if e.canMoveBetween(fromX, fromY, nx, ny) {
		p.view.X, p.view.Y = nx, ny
		p.view.Dir = fallback
	} else {
		p.view.Dir = game.DirNone
	}
}

func (e *Engine) applyPlayerPickups(idx int, nowMS uint64) {
	p := e.players[idx]
	cell := game.Vec2{X: p.view.X, Y: p.view.Y}

	if _, ok := e.World.Dots[cell]; ok {
		delete(e.World.Dots, cell)
		p.view.Score += 10
		p.stats.dots++
		if p.view.Stocks < game.MaxAwakenStock {
			p.view.Gauge++
			if p.view.Gauge >= game.DotsForAwaken {
				p.view.Stocks++
				p.view.Gauge = 0
			}
		} else {
			p.view.Gauge = game.DotsForAwaken
		}

		if sectorID := e.sectorIDAt(cell.X, cell.Y); sectorID >= 0 && sectorID < len(e.World.Sectors) {
			sector := &e.World.Sectors[sectorID]
			if sector.State.DotCount > 0 {
				sector.State.DotCount--
			}
			sector.State.Discovered = true
		}
		e.events = append(e.events, game.Event{
			Type: game.EventDotEaten,
			X:    cell.X,
			Y:    cell.Y,
			By:   p.view.ID,
		})
	}

	key := world.KeyOf(cell.X, cell.Y)
	if pellet, ok := e.World.PowerPellets[key]; ok && pellet.Active {
		pellet.Active = false
		pellet.RespawnAt = nowMS + game.PowerPelletRespawnMS
		p.view.State = game.StatePower
		p.view.PowerUntil = nowMS + game.PowerDurationMS
		e.events = append(e.events, game.Event{Type: game.EventPelletTaken, Key: key})
	}

	e.applyFruitPickup(idx, nowMS)
}

// resolvePlayerRescues revives any down player sharing a cell with a
// standing teammate; the rescuer earns score and a rescues stat.
func (e *Engine) resolvePlayerRescues(nowMS uint64) {
	for downIdx, down := range e.players {
		if down.view.State != game.StateDown {
			continue
		}
		for rescuerIdx, rescuer := range e.players {
			if rescuerIdx == downIdx || rescuer.view.State == game.StateDown {
				continue
			}
			if rescuer.view.X != down.view.X || rescuer.view.Y != down.view.Y {
				continue
			}
			rescuer.view.Score += 80
			rescuer.stats.rescues++
			e.revivePlayer(downIdx, nowMS, false, rescuer.view.ID)
			break
		}
	}
}

// autoRespawn fires after the rescue timeout: the player loses the gauge and
// one awaken stock, then revives at a safe cell.
func (e *Engine) autoRespawn(idx int, nowMS uint64) {
	p := e.players[idx]
	p.view.Gauge = 0
	if p.view.Stocks > 0 {
		p.view.Stocks--
	}
	e.revivePlayer(idx, nowMS, true, p.view.ID)
}

func (e *Engine) revivePlayer(idx int, nowMS uint64, auto bool, by string) {
	p := e.players[idx]
	pos := e.pickRespawnPoint(idx)
	p.view.X = pos.X
	p.view.Y = pos.Y
	p.view.State = game.StateNormal
	p.view.DownSince = nil
	p.view.PowerUntil = 0
	p.view.Dir = game.DirNone
	p.remoteReviveGraceUntil = nowMS + autoRespawnGraceMS
	e.events = append(e.events, game.Event{
		Type:     game.EventPlayerRevived,
		PlayerID: p.view.ID,
		By:       by,
		Auto:     auto,
	})
}

// pickRespawnPoint prefers the player's home spawn when it is safe, then a
// random safe spawn cell, and finally the home spawn regardless.
func (e *Engine) pickRespawnPoint(idx int) game.Vec2 {
	p := e.players[idx]
	if e.isSafeRespawnCell(p.spawn, p.view.ID) {
		return p.spawn
	}
	var safe []game.Vec2
	for _, cell := range e.World.PlayerSpawnCells {
		if e.isSafeRespawnCell(cell, p.view.ID) {
			safe = append(safe, cell)
		}
	}
	if len(safe) == 0 {
		return p.spawn
	}
	return safe[e.rng.PickIndex(len(safe))]
}

// isSafeRespawnCell: no ghost on it or within distance 2, no other standing
// player on it, and not a gate or switch cell.
func (e *Engine) isSafeRespawnCell(cell game.Vec2, playerID string) bool {
	if e.hasGhostAt(cell.X, cell.Y) {
		return false
	}
	for _, other := range e.players {
		if other.view.ID != playerID && other.view.State != game.StateDown &&
			other.view.X == cell.X && other.view.Y == cell.Y {
			return false
		}
	}
	if e.World.IsGateCellOrSwitch(cell.X, cell.Y) {
		return false
	}
	if dist := e.distanceToNearestGhost(cell.X, cell.Y); dist >= 0 && dist <= 2 {
		return false
	}
	return true
}

func (e *Engine) isLargePartyEndgameBand() bool {
	return e.playerCount >= 80 && e.playerCount <= 100
}

func (e *Engine) largePartyPlayerSpeedMultiplier() float64 {
	if e.isLargePartyEndgameBand() {
		return 1.5
	}
	return 1.0
}

func (e *Engine) largePartyRegenReliefFactor() float64 {
	if e.isLargePartyEndgameBand() {
		return 0.05
	}
	return 1.0
}

// largePartyGhostTargetProfile returns (floor share, active-player weight,
// ratio weight, cap share) for the population target.
func (e *Engine) largePartyGhostTargetProfile() (float64, float64, float64, float64) {
	if e.isLargePartyEndgameBand() {
		return 0.2, 0.45, 0.2, 0.6
	}
	return 0.5, 1.0, 0.7, 1.0
}

func (e *Engine) largePartyCaptureThresholdRatio() float64 {
	if e.isLargePartyEndgameBand() {
		return 0.35
	}
	return 0.0
}

func (e *Engine) largePartyLossThresholdRatio() float64 {
	if e.isLargePartyEndgameBand() {
		return 0.45
	}
	return 0.05
}
