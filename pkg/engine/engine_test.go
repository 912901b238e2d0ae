package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GridStation/PelletRush/pkg/game"
)

func makePlayers(count int) []game.StartPlayer {
	players := make([]game.StartPlayer, 0, count)
	for idx := 0; idx < count; idx++ {
		players = append(players, game.StartPlayer{
			ID:             fmt.Sprintf("p%d", idx+1),
			Name:           fmt.Sprintf("P%d", idx+1),
			ReconnectToken: fmt.Sprintf("token_%d", idx+1),
			Connected:      false,
		})
	}
	return players
}

func newTestEngine(t *testing.T, players, seed int, limitMS uint64) *Engine {
	t.Helper()
	return New(makePlayers(players), game.DifficultyNormal, uint32(seed), Options{TimeLimitMS: limitMS})
}

func TestSameSeedProducesSameProgression(t *testing.T) {
	a := newTestEngine(t, 10, 424242, 120_000)
	b := newTestEngine(t, 10, 424242, 120_000)

	for tick := 0; tick < 400; tick++ {
		a.Step(game.TickMS)
		b.Step(game.TickMS)
		sa := a.BuildSnapshot(false)
		sb := b.BuildSnapshot(false)

		require.Equal(t, sa.CaptureRatio, sb.CaptureRatio, "tick %d", tick)
		require.Equal(t, len(sa.Players), len(sb.Players), "tick %d", tick)
		require.Equal(t, len(sa.Ghosts), len(sb.Ghosts), "tick %d", tick)

		for i := range sa.Players {
			pa, pb := sa.Players[i], sb.Players[i]
			require.Equal(t, pa.ID, pb.ID, "tick %d", tick)
			require.Equal(t, pa.X, pb.X, "tick %d player %s", tick, pa.ID)
			require.Equal(t, pa.Y, pb.Y, "tick %d player %s", tick, pa.ID)
			require.Equal(t, pa.State, pb.State, "tick %d player %s", tick, pa.ID)
			require.Equal(t, pa.Score, pb.Score, "tick %d player %s", tick, pa.ID)
			require.Equal(t, pa.Gauge, pb.Gauge, "tick %d player %s", tick, pa.ID)
			require.Equal(t, pa.Stocks, pb.Stocks, "tick %d player %s", tick, pa.ID)
		}
		for i := range sa.Ghosts {
			ga, gb := sa.Ghosts[i], sb.Ghosts[i]
			require.Equal(t, ga.ID, gb.ID, "tick %d", tick)
			require.Equal(t, ga.X, gb.X, "tick %d ghost %s", tick, ga.ID)
			require.Equal(t, ga.Y, gb.Y, "tick %d ghost %s", tick, ga.ID)
			require.Equal(t, ga.Type, gb.Type, "tick %d ghost %s", tick, ga.ID)
			require.Equal(t, ga.HP, gb.HP, "tick %d ghost %s", tick, ga.ID)
		}
		for i := range sa.Sectors {
			require.Equal(t, sa.Sectors[i].Captured, sb.Sectors[i].Captured, "tick %d sector %d", tick, i)
		}

		if a.IsEnded() || b.IsEnded() {
			require.Equal(t, a.IsEnded(), b.IsEnded())
			break
		}
	}
}

func TestSwapCollisionDownsPlayer(t *testing.T) {
	e := newTestEngine(t, 1, 100, 60_000)
	e.ghosts = e.ghosts[:1]

	p := e.players[0]
	g := e.ghosts[0]
	p.view.State = game.StateNormal
	p.view.DownSince = nil
	p.remoteReviveGraceUntil = 0
	p.view.X, p.view.Y = 11, 10
	p.view.Dir = game.DirRight
	g.view.X, g.view.Y = 10, 10

	playersBefore := map[string]game.Vec2{p.view.ID: {X: 10, Y: 10}}
	ghostsBefore := map[string]game.Vec2{g.view.ID: {X: 11, Y: 10}}

	e.resolveGhostCollisions(e.StartedAtMS+1_000, playersBefore, ghostsBefore)
	assert.Equal(t, game.StateDown, p.view.State)
}

func TestBuildSnapshotDrainsEventsWhenRequested(t *testing.T) {
	e := newTestEngine(t, 1, 333, 60_000)
	e.events = append(e.events, game.Event{Type: game.EventToast, Message: "test"})

	first := e.BuildSnapshot(true)
	second := e.BuildSnapshot(true)
	assert.Len(t, first.Events, 1)
	assert.Empty(t, second.Events)
}

func TestEventsPreservedUntilSnapshotDrains(t *testing.T) {
	e := newTestEngine(t, 2, 777, 60_000)
	e.events = append(e.events, game.Event{Type: game.EventToast, Message: "carry"})

	e.Step(game.TickMS)
	snapshot := e.BuildSnapshot(true)
	found := false
	for _, event := range snapshot.Events {
		if event.Type == game.EventToast && event.Message == "carry" {
			found = true
		}
	}
	assert.True(t, found, "toast queued before the tick should survive into the drained snapshot")
}

func TestClosedGateBlocksCrossingButAllowsEndpointEntry(t *testing.T) {
	e := newTestEngine(t, 1, 444, 60_000)

	for _, cell := range [][2]int{{4, 5}, {5, 5}, {6, 5}, {5, 4}, {6, 4}} {
		e.World.SetFloor(cell[0], cell[1])
	}
	e.World.Gates = []game.GateState{{
		ID:      "gate_test",
		A:       game.Vec2{X: 5, Y: 5},
		B:       game.Vec2{X: 6, Y: 5},
		SwitchA: game.Vec2{X: 5, Y: 4},
		SwitchB: game.Vec2{X: 6, Y: 4},
	}}

	assert.True(t, e.canMoveBetween(4, 5, 5, 5), "stepping onto a gate endpoint must be allowed")
	assert.False(t, e.canMoveBetween(5, 5, 6, 5), "crossing a closed gate must be refused")
}

func TestGateOpensWhenBothSwitchesPressed(t *testing.T) {
	e := newTestEngine(t, 2, 445, 60_000)
	for _, cell := range [][2]int{{5, 5}, {6, 5}, {5, 4}, {6, 4}} {
		e.World.SetFloor(cell[0], cell[1])
	}
	e.World.Gates = []game.GateState{{
		ID:      "gate_test",
		A:       game.Vec2{X: 5, Y: 5},
		B:       game.Vec2{X: 6, Y: 5},
		SwitchA: game.Vec2{X: 5, Y: 4},
		SwitchB: game.Vec2{X: 6, Y: 4},
	}}

	e.players[0].view.X, e.players[0].view.Y = 5, 4
	e.players[1].view.X, e.players[1].view.Y = 6, 4
	e.updateGates()
	assert.True(t, e.World.Gates[0].Open)
	assert.True(t, e.canMoveBetween(5, 5, 6, 5))

	// A down player does not press its switch.
	e.players[1].view.State = game.StateDown
	e.updateGates()
	assert.False(t, e.World.Gates[0].Open)
}

func TestGhostPopulationAdjustsOncePerSecond(t *testing.T) {
	e := newTestEngine(t, 5, 888, 60_000)
	for _, p := range e.players {
		p.view.State = game.StatePower
		p.view.PowerUntil = ^uint64(0)
	}
	e.ghosts = e.ghosts[:1]
	before := len(e.ghosts)

	e.Step(game.TickMS)
	assert.Equal(t, before, len(e.ghosts), "no adjustment before a full second elapsed")

	for tick := 1; tick < 20; tick++ {
		e.Step(game.TickMS)
	}
	assert.Greater(t, len(e.ghosts), before, "population should recover after one second")
}

func TestGaugeStaysFullWhenStockIsMaxed(t *testing.T) {
	e := newTestEngine(t, 1, 890, 60_000)
	var dot game.Vec2
	found := false
	for cell := range e.World.Dots {
		dot = cell
		found = true
		break
	}
	require.True(t, found, "world should have at least one dot")

	p := e.players[0]
	p.view.X, p.view.Y = dot.X, dot.Y
	p.view.Stocks = game.MaxAwakenStock
	p.view.Gauge = 0

	e.applyPlayerPickups(0, e.StartedAtMS+100)
	assert.Equal(t, game.MaxAwakenStock, p.view.Stocks)
	assert.Equal(t, game.DotsForAwaken, p.view.Gauge)
}

func TestGaugeRolloverGrantsStock(t *testing.T) {
	e := newTestEngine(t, 1, 891, 60_000)
	var dot game.Vec2
	for cell := range e.World.Dots {
		dot = cell
		break
	}
	p := e.players[0]
	p.view.X, p.view.Y = dot.X, dot.Y
	p.view.Stocks = 0
	p.view.Gauge = game.DotsForAwaken - 1

	e.applyPlayerPickups(0, e.StartedAtMS+100)
	assert.Equal(t, 1, p.view.Stocks)
	assert.Equal(t, 0, p.view.Gauge)
}

func TestAutoRespawnAppliesGaugeAndStockCost(t *testing.T) {
	e := newTestEngine(t, 1, 999, 60_000)
	p := e.players[0]
	since := e.StartedAtMS
	p.view.State = game.StateDown
	p.view.DownSince = &since
	p.view.Gauge = 35
	p.view.Stocks = 2

	e.autoRespawn(0, e.StartedAtMS+10_000)
	assert.Equal(t, game.StateNormal, p.view.State)
	assert.Equal(t, 0, p.view.Gauge)
	assert.Equal(t, 1, p.view.Stocks)
	assert.Nil(t, p.view.DownSince)
}

func TestRescueAwardsScoreAndStat(t *testing.T) {
	e := newTestEngine(t, 2, 1_000, 60_000)
	e.ghosts = e.ghosts[:0]
	down := e.players[1]
	since := e.StartedAtMS
	down.view.State = game.StateDown
	down.view.DownSince = &since
	down.view.X, down.view.Y = e.players[0].view.X, e.players[0].view.Y

	scoreBefore := e.players[0].view.Score
	e.resolvePlayerRescues(e.StartedAtMS + 1_000)

	assert.Equal(t, scoreBefore+80, e.players[0].view.Score)
	assert.Equal(t, 1, e.players[0].stats.rescues)
	assert.Equal(t, game.StateNormal, down.view.State)
}

func TestRespawnDotFallbackScansAllCandidates(t *testing.T) {
	e := newTestEngine(t, 5, 555, 60_000)

	sectorID := -1
	for i := range e.World.Sectors {
		if len(e.World.Sectors[i].RespawnCandidates) >= 2 {
			sectorID = i
			break
		}
	}
	require.GreaterOrEqual(t, sectorID, 0, "a sector with respawn candidates must exist")

	sector := &e.World.Sectors[sectorID]
	valid := sector.RespawnCandidates[0]
	invalid := sector.RespawnCandidates[1]

	e.World.Dots[invalid] = struct{}{}
	delete(e.World.Dots, valid)

	forced := make([]game.Vec2, 0, 100)
	for i := 0; i < 99; i++ {
		forced = append(forced, invalid)
	}
	forced = append(forced, valid)
	sector.RespawnCandidates = forced

	require.True(t, e.respawnDotInSector(sectorID))
	_, ok := e.World.Dots[valid]
	assert.True(t, ok, "the only valid candidate should receive the dot")
}

func TestLargePartyProfilesAreAppliedByPlayerCount(t *testing.T) {
	large := newTestEngine(t, 80, 8_001, 60_000)
	assert.InDelta(t, 1.5, large.largePartyPlayerSpeedMultiplier(), 1e-9)
	assert.InDelta(t, 0.05, large.largePartyRegenReliefFactor(), 1e-9)
	f, a, r, c := large.largePartyGhostTargetProfile()
	assert.Equal(t, [4]float64{0.2, 0.45, 0.2, 0.6}, [4]float64{f, a, r, c})
	assert.InDelta(t, 0.35, large.largePartyCaptureThresholdRatio(), 1e-9)
	assert.InDelta(t, 0.45, large.largePartyLossThresholdRatio(), 1e-9)

	for _, count := range []int{5, 60, 79, 101} {
		e := newTestEngine(t, count, 8_002, 60_000)
		assert.InDelta(t, 1.0, e.largePartyPlayerSpeedMultiplier(), 1e-9, "players=%d", count)
		assert.InDelta(t, 1.0, e.largePartyRegenReliefFactor(), 1e-9, "players=%d", count)
		f, a, r, c := e.largePartyGhostTargetProfile()
		assert.Equal(t, [4]float64{0.5, 1.0, 0.7, 1.0}, [4]float64{f, a, r, c}, "players=%d", count)
		assert.InDelta(t, 0.0, e.largePartyCaptureThresholdRatio(), 1e-9, "players=%d", count)
		assert.InDelta(t, 0.05, e.largePartyLossThresholdRatio(), 1e-9, "players=%d", count)
	}
}

func TestLargePartyCaptureThresholdAppliesOnlyInBand(t *testing.T) {
	band := newTestEngine(t, 80, 8_103, 60_000)
	band.World.Sectors[0].State.Captured = false
	band.World.Sectors[0].State.TotalDots = 20
	band.World.Sectors[0].State.DotCount = 7
	band.updateSectorControl(game.TickMS, band.StartedAtMS+game.TickMS)
	assert.True(t, band.World.Sectors[0].State.Captured)

	below := newTestEngine(t, 79, 8_108, 60_000)
	below.World.Sectors[0].State.Captured = false
	below.World.Sectors[0].State.TotalDots = 20
	below.World.Sectors[0].State.DotCount = 7
	below.updateSectorControl(game.TickMS, below.StartedAtMS+game.TickMS)
	assert.False(t, below.World.Sectors[0].State.Captured)
}

func TestLargePartyLossThresholdReleasesSectorBeforeDefaultRule(t *testing.T) {
	e := newTestEngine(t, 80, 8_104, 60_000)
	sector := &e.World.Sectors[0]
	sector.State.Captured = true
	sector.State.TotalDots = 20
	sector.State.DotCount = 10
	sector.CapturedAt = e.StartedAtMS - 200_000

	e.updateSectorControl(game.TickMS, e.StartedAtMS+game.TickMS)

	assert.False(t, sector.State.Captured)
	lost := false
	for _, event := range e.events {
		if event.Type == game.EventSectorLost && event.SectorID != nil && *event.SectorID == 0 {
			lost = true
		}
	}
	assert.True(t, lost, "sector_lost event should be emitted")
}

func TestLargePartyGhostPopulationIsReducedByProfileTarget(t *testing.T) {
	e := newTestEngine(t, 80, 8_105, 60_000)
	before := len(e.ghosts)
	e.adjustGhostPopulation(e.StartedAtMS + 1_000)
	assert.Equal(t, before-2, len(e.ghosts))
}

func TestLargePartyPopulationProfileNotAppliedBelowEighty(t *testing.T) {
	below := newTestEngine(t, 79, 8_106, 60_000)
	below.ghosts = below.ghosts[:40]
	below.adjustGhostPopulation(below.StartedAtMS + 1_000)
	assert.Equal(t, 43, len(below.ghosts))

	band := newTestEngine(t, 80, 8_107, 60_000)
	band.ghosts = band.ghosts[:40]
	band.adjustGhostPopulation(band.StartedAtMS + 1_000)
	assert.Equal(t, 38, len(band.ghosts))
}

func TestCaptureSectorRespawnsGhostsInsideIt(t *testing.T) {
	e := newTestEngine(t, 2, 891, 60_000)
	require.NotEmpty(t, e.ghosts)

	target := e.sectorIDAt(e.ghosts[0].view.X, e.ghosts[0].view.Y)
	require.GreaterOrEqual(t, target, 0)

	var fallback game.Vec2
	found := false
	for i := range e.World.Sectors {
		for _, cell := range e.World.Sectors[i].FloorCells {
			if e.sectorIDAt(cell.X, cell.Y) != target {
				fallback = cell
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	require.True(t, found, "need a floor cell outside the target sector")
	e.World.GhostSpawnCells = []game.Vec2{fallback}

	e.captureSector(target, e.StartedAtMS+1_000)
	for _, g := range e.ghosts {
		assert.NotEqual(t, target, e.sectorIDAt(g.view.X, g.view.Y), "ghost %s should have been evicted", g.view.ID)
	}
}

func TestCaptureSectorPaysStandingPlayersInside(t *testing.T) {
	e := newTestEngine(t, 2, 892, 60_000)
	e.ghosts = e.ghosts[:0]
	sector := &e.World.Sectors[0].State
	cx, cy := sector.X+sector.Size/2, sector.Y+sector.Size/2
	e.players[0].view.X, e.players[0].view.Y = cx, cy
	since := e.StartedAtMS
	e.players[1].view.State = game.StateDown
	e.players[1].view.DownSince = &since
	e.players[1].view.X, e.players[1].view.Y = cx, cy

	e.captureSector(0, e.StartedAtMS+1_000)
	assert.Equal(t, 300, e.players[0].view.Score)
	assert.Equal(t, 1, e.players[0].stats.captures)
	assert.Equal(t, 0, e.players[1].view.Score, "a down player earns nothing")
}

func TestPlayerSpeedDependsOnCapturedSectorAndBuffs(t *testing.T) {
	e := newTestEngine(t, 1, 889, 60_000)
	nowMS := e.StartedAtMS + 5_000
	p := e.players[0]
	sectorID := e.sectorIDAt(p.view.X, p.view.Y)
	require.GreaterOrEqual(t, sectorID, 0)

	p.view.SpeedBuffUntil = 0
	e.World.Sectors[sectorID].State.Captured = false
	assert.InDelta(t, game.PlayerBaseSpeed, e.playerSpeed(0, nowMS), 1e-4)

	e.World.Sectors[sectorID].State.Captured = true
	assert.InDelta(t, game.PlayerBaseSpeed*game.PlayerCapturedSpeedMultiplier, e.playerSpeed(0, nowMS), 1e-4)

	p.view.SpeedBuffUntil = nowMS + 10_000
	assert.InDelta(t, game.PlayerBaseSpeed*game.PlayerCapturedSpeedMultiplier*1.3, e.playerSpeed(0, nowMS), 1e-4)

	p.view.State = game.StatePower
	p.view.PowerUntil = nowMS + 10_000
	assert.InDelta(t, game.PlayerBaseSpeed*game.PlayerCapturedSpeedMultiplier*1.3*1.08, e.playerSpeed(0, nowMS), 1e-4)
}

func TestAwakenConsumesStockAndEntersPower(t *testing.T) {
	e := newTestEngine(t, 1, 900, 60_000)
	e.ghosts = e.ghosts[:0]
	p := e.players[0]
	p.view.AI = false
	p.view.Stocks = 2
	p.awakenRequested = true

	e.Step(game.TickMS)
	assert.Equal(t, game.StatePower, p.view.State)
	assert.Equal(t, 1, p.view.Stocks)
	assert.False(t, p.awakenRequested)
	assert.Equal(t, e.StartedAtMS+uint64(game.TickMS)+game.AwakenDurationMS, p.view.PowerUntil)
}

func TestTimeoutEndsMatch(t *testing.T) {
	e := newTestEngine(t, 1, 901, uint64(game.TickMS)*3)
	for i := 0; i < 3; i++ {
		require.False(t, e.IsEnded())
		e.Step(game.TickMS)
	}
	assert.True(t, e.IsEnded())
	summary := e.BuildSummary()
	assert.Equal(t, game.ReasonTimeout, summary.Reason)
}

func TestAllDownEndsMatch(t *testing.T) {
	e := newTestEngine(t, 2, 902, 60_000)
	since := e.StartedAtMS
	for _, p := range e.players {
		p.view.State = game.StateDown
		p.view.DownSince = &since
	}
	e.Step(game.TickMS)
	assert.True(t, e.IsEnded())
	assert.Equal(t, game.ReasonAllDown, e.BuildSummary().Reason)
}

func TestSummaryRankingIsScoreDescending(t *testing.T) {
	e := newTestEngine(t, 3, 903, 60_000)
	e.players[0].view.Score = 10
	e.players[1].view.Score = 300
	e.players[2].view.Score = 150

	summary := e.BuildSummary()
	require.Len(t, summary.Ranking, 3)
	assert.Equal(t, "p2", summary.Ranking[0].PlayerID)
	assert.Equal(t, "p3", summary.Ranking[1].PlayerID)
	assert.Equal(t, "p1", summary.Ranking[2].PlayerID)
}

func TestSummaryAwardsReflectStats(t *testing.T) {
	e := newTestEngine(t, 2, 904, 60_000)
	e.players[0].stats.rescues = 3
	e.players[1].stats.rescues = 3
	e.players[0].stats.dots = 12

	summary := e.BuildSummary()
	var rescue, explorer, defense *game.AwardEntry
	for i := range summary.Awards {
		switch summary.Awards[i].ID {
		case game.AwardRescueKing:
			rescue = &summary.Awards[i]
		case game.AwardExplorerKing:
			explorer = &summary.Awards[i]
		case game.AwardDefenseKing:
			defense = &summary.Awards[i]
		}
	}
	require.NotNil(t, rescue)
	assert.Equal(t, 3, rescue.Value)
	assert.Len(t, rescue.Winners, 2, "ties share the award")
	require.NotNil(t, explorer)
	assert.Equal(t, 12, explorer.Value)
	assert.Len(t, explorer.Winners, 1)
	assert.Nil(t, defense, "awards with a zero maximum are omitted")
}

func TestFruitPickupScoresAndKeyGrantsSpeedBuff(t *testing.T) {
	e := newTestEngine(t, 1, 905, 60_000)
	p := e.players[0]
	nowMS := e.StartedAtMS + 1_000

	e.fruits = append(e.fruits, game.FruitView{
		ID: "fruit_t1", Type: game.FruitKey, X: p.view.X, Y: p.view.Y, SpawnedAt: nowMS,
	})
	e.applyFruitPickup(0, nowMS)

	assert.Empty(t, e.fruits)
	assert.Equal(t, game.FruitScore(game.FruitKey), p.view.Score)
	assert.Equal(t, nowMS+fruitSpeedBuffMS, p.view.SpeedBuffUntil)

	taken := false
	for _, event := range e.events {
		if event.Type == game.EventFruitTaken && event.FruitID == "fruit_t1" {
			taken = true
		}
	}
	assert.True(t, taken)
}

func TestBossCollisionInPowerChipsHPThenKills(t *testing.T) {
	e := newTestEngine(t, 10, 906, 60_000)
	e.ghosts = e.ghosts[:1]
	g := e.ghosts[0]
	p := e.players[0]

	p.view.State = game.StatePower
	p.view.PowerUntil = ^uint64(0)
	g.view.Type = game.GhostBoss
	g.view.HP = 2
	g.view.X, g.view.Y = p.view.X, p.view.Y

	nowMS := e.StartedAtMS + 1_000
	e.resolveGhostCollisions(nowMS, map[string]game.Vec2{}, map[string]game.Vec2{})
	assert.Equal(t, 1, g.view.HP)
	assert.Equal(t, nowMS+1_000, g.view.StunnedUntil)
	assert.Equal(t, 0, p.view.Score)

	g.view.X, g.view.Y = p.view.X, p.view.Y
	e.resolveGhostCollisions(nowMS+2_000, map[string]game.Vec2{}, map[string]game.Vec2{})
	assert.Equal(t, 500, p.view.Score)
	assert.Equal(t, 1, p.stats.ghosts)
}

func TestRemoteReviveGraceBlocksImmediateDown(t *testing.T) {
	e := newTestEngine(t, 1, 907, 60_000)
	e.ghosts = e.ghosts[:1]
	p := e.players[0]
	g := e.ghosts[0]
	p.view.State = game.StateNormal
	p.remoteReviveGraceUntil = e.StartedAtMS + 5_000
	g.view.X, g.view.Y = p.view.X, p.view.Y

	e.resolveGhostCollisions(e.StartedAtMS+1_000, map[string]game.Vec2{}, map[string]game.Vec2{})
	assert.Equal(t, game.StateNormal, p.view.State, "grace window should protect the player")

	e.resolveGhostCollisions(e.StartedAtMS+6_000, map[string]game.Vec2{}, map[string]game.Vec2{})
	assert.Equal(t, game.StateDown, p.view.State)
}

func TestReceiveInputSetsDesiredDirectionAndAwaken(t *testing.T) {
	e := newTestEngine(t, 1, 908, 60_000)
	dir := game.DirLeft
	e.ReceiveInput("p1", &dir, true)
	assert.Equal(t, game.DirLeft, e.players[0].desiredDir)
	assert.True(t, e.players[0].awakenRequested)

	e.ReceiveInput("nope", &dir, true) // unknown player is ignored
}
