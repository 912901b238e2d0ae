package engine

import (
	"github.com/GridStation/PelletRush/pkg/game"
)

const (
	fruitSpawnIntervalMS uint64 = 45_000
	maxLiveFruits               = 3
	fruitSpeedBuffMS     uint64 = 10_000
)

var fruitRollTable = [6]game.FruitType{
	game.FruitCherry,
	game.FruitStrawberry,
	game.FruitOrange,
	game.FruitApple,
	game.FruitKey,
	game.FruitGrape,
}

// updateFruits spawns a fruit on a fixed cadence while fewer than the cap
// are live.
func (e *Engine) updateFruits(nowMS uint64) {
	if nowMS < e.nextFruitAtMS {
		return
	}
	e.nextFruitAtMS = nowMS + fruitSpawnIntervalMS
	if len(e.fruits) >= maxLiveFruits {
		return
	}
	e.spawnFruit(nowMS)
}

// spawnFruit places a fruit on a free dot-respawn candidate of a random
// sector, giving up after a bounded number of attempts.
func (e *Engine) spawnFruit(nowMS uint64) {
	for attempt := 0; attempt < 30; attempt++ {
		sector := &e.World.Sectors[e.rng.PickIndex(len(e.World.Sectors))]
		if len(sector.RespawnCandidates) == 0 {
			continue
		}
		cell := sector.RespawnCandidates[e.rng.PickIndex(len(sector.RespawnCandidates))]
		if e.fruitAt(cell.X, cell.Y) >= 0 {
			continue
		}
		fruit := game.FruitView{
			ID:        e.makeID("fruit"),
			Type:      fruitRollTable[e.rng.PickIndex(len(fruitRollTable))],
			X:         cell.X,
			Y:         cell.Y,
			SpawnedAt: nowMS,
		}
		e.fruits = append(e.fruits, fruit)
		e.events = append(e.events, game.Event{Type: game.EventFruitSpawned, Fruit: &fruit})
		return
	}
}

func (e *Engine) fruitAt(x, y int) int {
	for idx, fruit := range e.fruits {
		if fruit.X == x && fruit.Y == y {
			return idx
		}
	}
	return -1
}

// applyFruitPickup consumes a fruit under the player, scoring by type; a key
// additionally grants a temporary speed buff.
func (e *Engine) applyFruitPickup(playerIdx int, nowMS uint64) {
	p := e.players[playerIdx]
	idx := e.fruitAt(p.view.X, p.view.Y)
	if idx < 0 {
		return
	}
	fruit := e.fruits[idx]
	e.fruits = append(e.fruits[:idx], e.fruits[idx+1:]...)

	p.view.Score += game.FruitScore(fruit.Type)
	if fruit.Type == game.FruitKey {
		p.view.SpeedBuffUntil = nowMS + fruitSpeedBuffMS
	}
	e.events = append(e.events, game.Event{
		Type:      game.EventFruitTaken,
		FruitID:   fruit.ID,
		By:        p.view.ID,
		FruitType: fruit.Type,
	})
}
