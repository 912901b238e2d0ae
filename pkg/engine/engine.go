// Package engine runs the fixed-tick match simulation: player and ghost
// movement, collisions, the sector-capture economy, ghost population
// control, and end-of-match detection. The engine is deterministic for a
// fixed (players, difficulty, seed, options) tuple and never touches the
// wall clock after construction.
package engine

import (
	"fmt"
	"time"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/rng"
	"github.com/GridStation/PelletRush/pkg/world"
)

const autoRespawnGraceMS uint64 = 2_000

type playerStats struct {
	dots     int
	ghosts   int
	rescues  int
	captures int
}

type playerInternal struct {
	view                   game.PlayerView
	desiredDir             game.Direction
	moveBuffer             float64
	spawn                  game.Vec2
	reconnectToken         string
	awakenRequested        bool
	remoteReviveGraceUntil uint64
	aiThinkAt              uint64
	holdUntilMS            uint64
	stats                  playerStats
}

type ghostInternal struct {
	view       game.GhostView
	moveBuffer float64
}

// Options tunes engine construction. A zero TimeLimitMS uses the default
// limit for the party size.
type Options struct {
	TimeLimitMS uint64
}

// Engine is the authoritative state of one running match.
type Engine struct {
	StartedAtMS uint64
	Config      game.Config
	World       *world.World

	seed    uint32
	rng     *rng.Rng
	players []*playerInternal
	ghosts  []*ghostInternal
	fruits  []game.FruitView

	events   []game.Event
	timeline []game.TimelineEvent

	ghostSpeedMul float64
	regenMul      float64
	maxGhosts     int
	playerCount   int

	elapsedMS       uint64
	ended           bool
	endReason       game.GameOverReason
	tickCounter     uint64
	maxCaptureRatio float64
	milestoneSeen   map[int]bool
	nextIDCounter   uint64
	nextFruitAtMS   uint64
}

// New builds an engine for the given starting players. Players are placed on
// spawn cells in join order; the initial ghost wave is spawned immediately.
func New(startPlayers []game.StartPlayer, difficulty game.Difficulty, seed uint32, options Options) *Engine {
	r := rng.New(seed)
	playerCount := len(startPlayers)
	startedAt := uint64(time.Now().UnixMilli())
	w := world.Generate(playerCount, seed)
	ghostMul, regenMul := game.DifficultyMultiplier(difficulty)

	timeLimit := options.TimeLimitMS
	if timeLimit == 0 {
		timeLimit = game.TimeLimitMS(playerCount)
	}
	config := game.Config{
		TickRate:         game.TickRate,
		DotsForAwaken:    game.DotsForAwaken,
		AwakenMaxStock:   game.MaxAwakenStock,
		PowerDurationMS:  game.PowerDurationMS,
		AwakenDurationMS: game.AwakenDurationMS,
		RescueTimeoutMS:  game.RescueTimeoutMS,
		TimeLimitMS:      timeLimit,
		Difficulty:       difficulty,
	}

	spawns := w.PlayerSpawnCells
	if len(spawns) == 0 {
		spawns = []game.Vec2{{X: 1, Y: 1}}
	}

	e := &Engine{
		StartedAtMS:   startedAt,
		Config:        config,
		World:         w,
		seed:          seed,
		rng:           r,
		ghostSpeedMul: ghostMul,
		regenMul:      regenMul,
		maxGhosts:     game.InitialGhostCount(playerCount),
		playerCount:   playerCount,
		milestoneSeen: make(map[int]bool),
		nextIDCounter: 1,
		nextFruitAtMS: startedAt + fruitSpawnIntervalMS,
		timeline:      []game.TimelineEvent{{AtMS: 0, Label: "match start"}},
	}

	for index, start := range startPlayers {
		spawn := spawns[index%len(spawns)]
		e.players = append(e.players, &playerInternal{
			view: game.PlayerView{
				ID:        start.ID,
				Name:      start.Name,
				X:         spawn.X,
				Y:         spawn.Y,
				Dir:       game.DirNone,
				State:     game.StateNormal,
				GaugeMax:  game.DotsForAwaken,
				Connected: start.Connected,
				AI:        !start.Connected,
			},
			desiredDir:     game.DirNone,
			spawn:          spawn,
			reconnectToken: start.ReconnectToken,
			aiThinkAt:      uint64(r.Int(50, 180)),
		})
	}

	e.spawnInitialGhosts()
	return e
}

// IsEnded reports whether the match finished.
func (e *Engine) IsEnded() bool {
	return e.ended
}

// Seed returns the world/RNG seed the match was built from.
func (e *Engine) Seed() uint32 {
	return e.seed
}

// CurrentNowMS is the simulated clock: start time plus elapsed ticks.
func (e *Engine) CurrentNowMS() uint64 {
	return e.StartedAtMS + e.elapsedMS
}

// WorldInit returns the one-shot world description for game_init frames.
func (e *Engine) WorldInit() game.WorldInit {
	return e.World.Init()
}

// HasPlayer reports whether the engine tracks the given player.
func (e *Engine) HasPlayer(playerID string) bool {
	return e.findPlayer(playerID) != nil
}

// PlayerPosition returns the player's current cell.
func (e *Engine) PlayerPosition(playerID string) (game.Vec2, bool) {
	if p := e.findPlayer(playerID); p != nil {
		return game.Vec2{X: p.view.X, Y: p.view.Y}, true
	}
	return game.Vec2{}, false
}

// ReconnectToken returns the token the player joined with.
func (e *Engine) ReconnectToken(playerID string) (string, bool) {
	if p := e.findPlayer(playerID); p != nil {
		return p.reconnectToken, true
	}
	return "", false
}

// SetPlayerConnection flips a player between human control and AI drive.
func (e *Engine) SetPlayerConnection(playerID string, connected bool) {
	if p := e.findPlayer(playerID); p != nil {
		p.view.Connected = connected
		p.view.AI = !connected
	}
}

// ReceiveInput applies a client input frame: an optional desired direction
// and an optional awaken request.
func (e *Engine) ReceiveInput(playerID string, dir *game.Direction, awaken bool) {
	p := e.findPlayer(playerID)
	if p == nil {
		return
	}
	if dir != nil {
		p.desiredDir = *dir
	}
	if awaken {
		p.awakenRequested = true
	}
}

// Step advances the simulation by one fixed tick.
func (e *Engine) Step(dtMS uint64) {
	if e.ended {
		return
	}
	e.tickCounter++
	e.elapsedMS += dtMS
	nowMS := e.StartedAtMS + e.elapsedMS

	e.updateGates()
	e.updatePowerPellets(nowMS)

	playersBefore := make(map[string]game.Vec2, len(e.players))
	for _, p := range e.players {
		playersBefore[p.view.ID] = game.Vec2{X: p.view.X, Y: p.view.Y}
	}
	ghostsBefore := make(map[string]game.Vec2, len(e.ghosts))
	for _, g := range e.ghosts {
		ghostsBefore[g.view.ID] = game.Vec2{X: g.view.X, Y: g.view.Y}
	}

	e.updatePlayers(dtMS, nowMS)
	e.updateGhosts(dtMS, nowMS)
	e.resolveGhostCollisions(nowMS, playersBefore, ghostsBefore)
	e.updateSectorControl(dtMS, nowMS)
	e.updateFruits(nowMS)
	if e.tickCounter%game.TickRate == 0 {
		e.adjustGhostPopulation(nowMS)
		e.emitProgressMilestones()
	}
	e.checkGameOver(nowMS)
}

// BuildSnapshot returns an immutable copy of the visible state. When
// includeEvents is true the pending event queue is drained into it.
func (e *Engine) BuildSnapshot(includeEvents bool) game.Snapshot {
	timeLeft := uint64(0)
	if e.elapsedMS < e.Config.TimeLimitMS {
		timeLeft = e.Config.TimeLimitMS - e.elapsedMS
	}

	players := make([]game.PlayerView, len(e.players))
	for i, p := range e.players {
		players[i] = p.view
		if p.view.DownSince != nil {
			since := *p.view.DownSince
			players[i].DownSince = &since
		}
	}
	ghosts := make([]game.GhostView, len(e.ghosts))
	for i, g := range e.ghosts {
		ghosts[i] = g.view
	}
	fruits := make([]game.FruitView, len(e.fruits))
	copy(fruits, e.fruits)
	sectors := make([]game.SectorState, len(e.World.Sectors))
	for i := range e.World.Sectors {
		sectors[i] = e.World.Sectors[i].State
	}
	gates := make([]game.GateState, len(e.World.Gates))
	copy(gates, e.World.Gates)

	var events []game.Event
	if includeEvents {
		events = make([]game.Event, len(e.events))
		copy(events, e.events)
		e.events = e.events[:0]
	} else {
		events = []game.Event{}
	}

	timelineStart := 0
	if len(e.timeline) > 24 {
		timelineStart = len(e.timeline) - 24
	}
	timeline := make([]game.TimelineEvent, len(e.timeline)-timelineStart)
	copy(timeline, e.timeline[timelineStart:])

	return game.Snapshot{
		Tick:         e.tickCounter,
		NowMS:        e.StartedAtMS + e.elapsedMS,
		TimeLeftMS:   timeLeft,
		CaptureRatio: e.captureRatio(),
		Players:      players,
		Ghosts:       ghosts,
		Fruits:       fruits,
		Sectors:      sectors,
		Gates:        gates,
		Events:       events,
		Timeline:     timeline,
	}
}

// BuildSummary produces the end-of-match report: a score-descending ranking
// plus the award roll.
func (e *Engine) BuildSummary() game.Summary {
	ranking := make([]game.ScoreEntry, 0, len(e.players))
	for _, p := range e.players {
		ranking = append(ranking, game.ScoreEntry{
			PlayerID: p.view.ID,
			Name:     p.view.Name,
			Score:    p.view.Score,
			Dots:     p.stats.dots,
			Ghosts:   p.stats.ghosts,
			Rescues:  p.stats.rescues,
			Captures: p.stats.captures,
		})
	}
	// Stable sort keeps join order between equal scores.
	for i := 1; i < len(ranking); i++ {
		for j := i; j > 0 && ranking[j].Score > ranking[j-1].Score; j-- {
			ranking[j], ranking[j-1] = ranking[j-1], ranking[j]
		}
	}

	reason := e.endReason
	if reason == "" {
		reason = game.ReasonTimeout
	}

	timeline := make([]game.TimelineEvent, len(e.timeline))
	copy(timeline, e.timeline)

	return game.Summary{
		Reason:       reason,
		DurationMS:   e.elapsedMS,
		CaptureRatio: e.captureRatio(),
		Timeline:     timeline,
		Ranking:      ranking,
		Awards:       e.buildAwards(),
	}
}

func (e *Engine) updateGates() {
	standing := make(map[game.Vec2]struct{}, len(e.players))
	for _, p := range e.players {
		if p.view.State != game.StateDown {
			standing[game.Vec2{X: p.view.X, Y: p.view.Y}] = struct{}{}
		}
	}
	for i := range e.World.Gates {
		gate := &e.World.Gates[i]
		if gate.Permanent {
			gate.Open = true
			continue
		}
		_, aPressed := standing[gate.SwitchA]
		_, bPressed := standing[gate.SwitchB]
		gate.Open = aPressed && bPressed
	}
}

func (e *Engine) updatePowerPellets(nowMS uint64) {
	for _, pellet := range e.sortedPellets() {
		if pellet.Active || nowMS < pellet.RespawnAt {
			continue
		}
		if !e.World.IsWalkable(pellet.X, pellet.Y) || e.World.IsGateCellOrSwitch(pellet.X, pellet.Y) {
			pellet.RespawnAt = nowMS + 1_000
			continue
		}
		pellet.Active = true
		e.events = append(e.events, game.Event{Type: game.EventPelletRespawned, Key: pellet.Key})
	}
}

// sortedPellets returns the pellet set in key order so pellet processing is
// independent of map iteration order.
func (e *Engine) sortedPellets() []*world.PowerPellet {
	out := make([]*world.PowerPellet, 0, len(e.World.PowerPellets))
	for _, p := range e.World.PowerPellets {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Key < out[j-1].Key; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// canMoveBetween reports whether a step from one cell to an adjacent cell is
// legal: the destination must be floor and the edge must not cross a closed
// gate. Standing on a gate endpoint is always allowed.
func (e *Engine) canMoveBetween(fromX, fromY, toX, toY int) bool {
	if !e.World.IsWalkable(toX, toY) {
		return false
	}
	for i := range e.World.Gates {
		gate := &e.World.Gates[i]
		if gate.Open {
			continue
		}
		crossesGate := (gate.A.X == fromX && gate.A.Y == fromY && gate.B.X == toX && gate.B.Y == toY) ||
			(gate.B.X == fromX && gate.B.Y == fromY && gate.A.X == toX && gate.A.Y == toY)
		if crossesGate {
			return false
		}
	}
	return true
}

func (e *Engine) findPlayer(playerID string) *playerInternal {
	for _, p := range e.players {
		if p.view.ID == playerID {
			return p
		}
	}
	return nil
}

func (e *Engine) sectorIDAt(x, y int) int {
	return e.World.SectorIDAt(x, y)
}

// distanceToNearestGhost returns the Manhattan distance to the closest
// ghost, or -1 when no ghosts exist.
func (e *Engine) distanceToNearestGhost(x, y int) int {
	best := -1
	for _, g := range e.ghosts {
		dist := manhattan(x, y, g.view.X, g.view.Y)
		if best < 0 || dist < best {
			best = dist
		}
	}
	return best
}

func (e *Engine) hasGhostAt(x, y int) bool {
	for _, g := range e.ghosts {
		if g.view.X == x && g.view.Y == y {
			return true
		}
	}
	return false
}

func (e *Engine) makeID(prefix string) string {
	id := fmt.Sprintf("%s_%d", prefix, e.nextIDCounter)
	e.nextIDCounter++
	return id
}
