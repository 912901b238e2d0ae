package engine

import (
	"fmt"
	"math"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/world"
)

func (e *Engine) updateSectorControl(dtMS, nowMS uint64) {
	captureThreshold := e.largePartyCaptureThresholdRatio()
	for sectorID := range e.World.Sectors {
		sector := &e.World.Sectors[sectorID]
		if sector.State.Captured {
			continue
		}
		threshold := int(math.Floor(float64(sector.State.TotalDots) * captureThreshold))
		if sector.State.DotCount <= threshold {
			e.captureSector(sectorID, nowMS)
		}
	}

	captureRatio := e.captureRatio()
	if captureRatio > e.maxCaptureRatio {
		e.maxCaptureRatio = captureRatio
	}
	graceMS, regenMultiplier := game.CapturePressure(captureRatio)
	dtSec := float64(dtMS) / 1000.0
	lossRatio := e.largePartyLossThresholdRatio()
	relief := e.largePartyRegenReliefFactor()

	for sectorID := range e.World.Sectors {
		sector := &e.World.Sectors[sectorID]
		if !sector.State.Captured {
			sector.RegenAccumulator = 0
			continue
		}
		if nowMS-sector.CapturedAt < graceMS {
			continue
		}

		invaders := e.countGhostsBySectorAndType(sectorID, game.GhostInvader)
		invaderBoost := 1.0
		if invaders > 0 {
			invaderBoost = 1.0 + float64(invaders)*0.4
		}
		regenRate := 0.33 * regenMultiplier * e.regenMul * invaderBoost * relief
		sector.RegenAccumulator += regenRate * dtSec

		for sector.RegenAccumulator >= 1.0 {
			if !e.respawnDotInSector(sectorID) {
				sector.RegenAccumulator = 0
				break
			}
			sector.RegenAccumulator -= 1.0
		}

		lossThreshold := int(math.Floor(float64(sector.State.TotalDots) * lossRatio))
		if lossThreshold < 1 {
			lossThreshold = 1
		}
		if sector.State.DotCount > lossThreshold {
			sector.State.Captured = false
			sector.RegenAccumulator = 0
			id := sectorID
			e.events = append(e.events, game.Event{Type: game.EventSectorLost, SectorID: &id})
		}
	}
}

// captureSector marks the sector captured, pays out every standing player
// inside it, and evicts resident ghosts.
func (e *Engine) captureSector(sectorID int, nowMS uint64) {
	if sectorID < 0 || sectorID >= len(e.World.Sectors) {
		return
	}
	sector := &e.World.Sectors[sectorID]
	sector.State.Captured = true
	sector.CapturedAt = nowMS
	sector.RegenAccumulator = 0
	id := sectorID
	e.events = append(e.events, game.Event{Type: game.EventSectorCaptured, SectorID: &id})
	e.timeline = append(e.timeline, game.TimelineEvent{
		AtMS:  e.elapsedMS,
		Label: fmt.Sprintf("sector %d captured", sectorID),
	})

	for _, p := range e.players {
		if p.view.State != game.StateDown && e.sectorIDAt(p.view.X, p.view.Y) == sectorID {
			p.view.Score += 300
			p.stats.captures++
		}
	}

	for ghostIdx, g := range e.ghosts {
		if e.sectorIDAt(g.view.X, g.view.Y) == sectorID {
			e.respawnGhost(ghostIdx)
		}
	}
}

func (e *Engine) countGhostsBySectorAndType(sectorID int, ghostType game.GhostType) int {
	count := 0
	for _, g := range e.ghosts {
		if g.view.Type == ghostType && e.sectorIDAt(g.view.X, g.view.Y) == sectorID {
			count++
		}
	}
	return count
}

// respawnDotInSector places one dot on a valid respawn candidate: 30 random
// attempts, then a linear scan as fallback.
func (e *Engine) respawnDotInSector(sectorID int) bool {
	if sectorID < 0 || sectorID >= len(e.World.Sectors) {
		return false
	}
	candidates := e.World.Sectors[sectorID].RespawnCandidates
	if len(candidates) == 0 {
		return false
	}

	place := func(cell game.Vec2) {
		e.World.Dots[cell] = struct{}{}
		e.World.Sectors[sectorID].State.DotCount++
		e.events = append(e.events, game.Event{Type: game.EventDotRespawned, X: cell.X, Y: cell.Y})
	}

	for attempt := 0; attempt < 30; attempt++ {
		cell := candidates[e.rng.PickIndex(len(candidates))]
		if !e.isValidDotRespawnCell(sectorID, cell.X, cell.Y) {
			continue
		}
		place(cell)
		return true
	}
	for _, cell := range candidates {
		if !e.isValidDotRespawnCell(sectorID, cell.X, cell.Y) {
			continue
		}
		place(cell)
		return true
	}
	return false
}

func (e *Engine) isValidDotRespawnCell(sectorID, x, y int) bool {
	if !e.World.IsWalkable(x, y) {
		return false
	}
	if e.sectorIDAt(x, y) != sectorID {
		return false
	}
	if _, ok := e.World.Dots[game.Vec2{X: x, Y: y}]; ok {
		return false
	}
	if _, ok := e.World.PowerPellets[world.KeyOf(x, y)]; ok {
		return false
	}
	if e.World.IsGateCellOrSwitch(x, y) {
		return false
	}
	return true
}

func (e *Engine) captureRatio() float64 {
	if len(e.World.Sectors) == 0 {
		return 0
	}
	captured := 0
	for i := range e.World.Sectors {
		if e.World.Sectors[i].State.Captured {
			captured++
		}
	}
	return float64(captured) / float64(len(e.World.Sectors))
}

func (e *Engine) checkGameOver(nowMS uint64) {
	if e.elapsedMS >= e.Config.TimeLimitMS {
		e.endMatch(game.ReasonTimeout, "time up")
		return
	}

	allDown := true
	for _, p := range e.players {
		if p.view.State != game.StateDown {
			allDown = false
			break
		}
	}
	if allDown {
		e.endMatch(game.ReasonAllDown, "all players down")
		return
	}

	captureRatio := e.captureRatio()
	if captureRatio >= 0.995 {
		e.endMatch(game.ReasonVictory, "all sectors captured")
		return
	}

	if e.maxCaptureRatio >= 0.7 && captureRatio <= 0.12 && nowMS >= e.StartedAtMS+180_000 {
		e.endMatch(game.ReasonCollapse, "control collapsed")
	}
}

func (e *Engine) endMatch(reason game.GameOverReason, label string) {
	e.ended = true
	e.endReason = reason
	e.timeline = append(e.timeline, game.TimelineEvent{AtMS: e.elapsedMS, Label: label})
}

// emitProgressMilestones records each capture-ratio milestone exactly once.
func (e *Engine) emitProgressMilestones() {
	ratio := e.captureRatio()
	for _, milestone := range [5]int{20, 40, 60, 80, 90} {
		if ratio >= float64(milestone)/100.0 && !e.milestoneSeen[milestone] {
			e.milestoneSeen[milestone] = true
			e.timeline = append(e.timeline, game.TimelineEvent{
				AtMS:  e.elapsedMS,
				Label: fmt.Sprintf("capture %d%%", milestone),
			})
		}
	}
}
