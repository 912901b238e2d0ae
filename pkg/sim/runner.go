// Package sim runs the engine headlessly over scripted scenarios, counting
// runtime events and validating snapshot invariants every tick. It is the
// only component that checks engine internals at runtime; the server path
// never does.
package sim

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/GridStation/PelletRush/pkg/engine"
	"github.com/GridStation/PelletRush/pkg/game"
)

// tickSafetyLimit aborts a runaway scenario (15 simulated hours).
const tickSafetyLimit = 20 * 60 * 15

// Scenario is one headless run specification.
type Scenario struct {
	Name       string          `json:"name"`
	AIPlayers  int             `json:"aiPlayers"`
	Minutes    int             `json:"minutes"`
	Difficulty game.Difficulty `json:"difficulty"`
	Seed       uint32          `json:"seed"`
}

// Result is the per-scenario report emitted as one JSON line.
type Result struct {
	Scenario          string              `json:"scenario"`
	MatchID           string              `json:"matchId,omitempty"`
	Seed              uint32              `json:"seed"`
	AIPlayers         int                 `json:"aiPlayers"`
	Minutes           int                 `json:"minutes"`
	Difficulty        game.Difficulty     `json:"difficulty"`
	Reason            game.GameOverReason `json:"reason"`
	DurationMS        uint64              `json:"durationMs"`
	MaxCapture        float64             `json:"maxCapture"`
	MinCaptureAfter70 float64             `json:"minCaptureAfter70"`
	DotEaten          int                 `json:"dotEaten"`
	DotRespawned      int                 `json:"dotRespawned"`
	Downs             int                 `json:"downs"`
	Rescues           int                 `json:"rescues"`
	SectorCaptured    int                 `json:"sectorCaptured"`
	SectorLost        int                 `json:"sectorLost"`
	BossSpawned       int                 `json:"bossSpawned"`
	BossHits          int                 `json:"bossHits"`
	Anomalies         []string            `json:"anomalies"`
}

// Summary aggregates a batch of results for the optional summary file.
type Summary struct {
	Scenarios     int                         `json:"scenarios"`
	AvgDurationMS float64                     `json:"avgDurationMs"`
	ReasonCounts  map[game.GameOverReason]int `json:"reasonCounts"`
	AnomalyCount  int                         `json:"anomalyCount"`
}

// Run executes one scenario to completion.
func Run(scenario Scenario, matchID string, log zerolog.Logger) Result {
	startPlayers := make([]game.StartPlayer, 0, scenario.AIPlayers)
	for idx := 0; idx < scenario.AIPlayers; idx++ {
		startPlayers = append(startPlayers, game.StartPlayer{
			ID:             fmt.Sprintf("ai_%d", idx+1),
			Name:           fmt.Sprintf("AI-%02d", idx+1),
			ReconnectToken: fmt.Sprintf("sim_%d_%d", scenario.Seed, idx+1),
			Connected:      false,
		})
	}

	e := engine.New(startPlayers, scenario.Difficulty, scenario.Seed, engine.Options{
		TimeLimitMS: uint64(scenario.Minutes) * 60_000,
	})

	result := Result{
		Scenario:          scenario.Name,
		MatchID:           matchID,
		Seed:              scenario.Seed,
		AIPlayers:         scenario.AIPlayers,
		Minutes:           scenario.Minutes,
		Difficulty:        scenario.Difficulty,
		MinCaptureAfter70: 1.0,
		Anomalies:         []string{},
	}

	crossed70 := false
	minCaptureAfter70 := 1.0
	ticks := 0

	for !e.IsEnded() {
		e.Step(game.TickMS)
		snapshot := e.BuildSnapshot(true)
		validateSnapshot(snapshot, &result.Anomalies)
		ticks++
		if ticks > tickSafetyLimit {
			result.Anomalies = append(result.Anomalies, "tick safety limit exceeded")
			break
		}

		if snapshot.CaptureRatio > result.MaxCapture {
			result.MaxCapture = snapshot.CaptureRatio
		}
		if snapshot.CaptureRatio >= 0.7 {
			crossed70 = true
		}
		if crossed70 && snapshot.CaptureRatio < minCaptureAfter70 {
			minCaptureAfter70 = snapshot.CaptureRatio
		}

		for _, event := range snapshot.Events {
			switch event.Type {
			case game.EventDotEaten:
				result.DotEaten++
			case game.EventDotRespawned:
				result.DotRespawned++
			case game.EventPlayerDown:
				result.Downs++
			case game.EventPlayerRevived:
				result.Rescues++
			case game.EventSectorCaptured:
				result.SectorCaptured++
				log.Info().Str("scenario", scenario.Name).Uint64("tick", snapshot.Tick).
					Msg("sector captured")
			case game.EventSectorLost:
				result.SectorLost++
				log.Info().Str("scenario", scenario.Name).Uint64("tick", snapshot.Tick).
					Msg("sector lost")
			case game.EventBossSpawned:
				result.BossSpawned++
				log.Info().Str("scenario", scenario.Name).Str("ghost", event.GhostID).
					Msg("boss spawned")
			case game.EventBossHit:
				result.BossHits++
			}
		}
	}

	summary := e.BuildSummary()
	result.Reason = summary.Reason
	result.DurationMS = summary.DurationMS
	if crossed70 && minCaptureAfter70 <= 0.2 {
		result.Anomalies = append(result.Anomalies, fmt.Sprintf(
			"capture collapse: reached >=70%% but dropped to %.1f%%", minCaptureAfter70*100.0))
	}

	result.MaxCapture = math.Round(result.MaxCapture*1000.0) / 10.0
	if crossed70 {
		result.MinCaptureAfter70 = math.Round(minCaptureAfter70*1000.0) / 10.0
	} else {
		result.MinCaptureAfter70 = 100.0
	}

	for _, anomaly := range result.Anomalies {
		log.Error().Str("scenario", scenario.Name).Str("anomaly", anomaly).Msg("anomaly detected")
	}
	return result
}

// validateSnapshot checks the invariants the engine must hold every tick.
func validateSnapshot(snapshot game.Snapshot, anomalies *[]string) {
	if math.IsNaN(snapshot.CaptureRatio) || math.IsInf(snapshot.CaptureRatio, 0) ||
		snapshot.CaptureRatio < 0.0 || snapshot.CaptureRatio > 1.0 {
		*anomalies = append(*anomalies, fmt.Sprintf("invalid capture ratio: %v", snapshot.CaptureRatio))
	}

	totalDots := 0
	for _, sector := range snapshot.Sectors {
		totalDots += sector.DotCount
	}
	if totalDots < 0 {
		*anomalies = append(*anomalies, fmt.Sprintf("negative total dots: %d", totalDots))
	}

	for _, player := range snapshot.Players {
		if player.Gauge < 0 || player.Gauge > player.GaugeMax {
			*anomalies = append(*anomalies, fmt.Sprintf(
				"player gauge out of range: %s %d/%d", player.ID, player.Gauge, player.GaugeMax))
		}
		if player.Stocks < 0 || player.Stocks > game.MaxAwakenStock {
			*anomalies = append(*anomalies, fmt.Sprintf(
				"player stocks out of range: %s %d", player.ID, player.Stocks))
		}
	}

	for _, ghost := range snapshot.Ghosts {
		if ghost.HP <= 0 {
			*anomalies = append(*anomalies, fmt.Sprintf("ghost hp <= 0 remains: %s", ghost.ID))
		}
	}

	if len(snapshot.Sectors) == 0 {
		*anomalies = append(*anomalies, "invalid sector configuration")
	}
}

// Summarize folds scenario results into the aggregate report.
func Summarize(results []Result) Summary {
	summary := Summary{
		Scenarios:    len(results),
		ReasonCounts: make(map[game.GameOverReason]int),
	}
	if len(results) == 0 {
		return summary
	}
	var totalDuration uint64
	for _, result := range results {
		totalDuration += result.DurationMS
		summary.ReasonCounts[result.Reason]++
		summary.AnomalyCount += len(result.Anomalies)
	}
	summary.AvgDurationMS = float64(totalDuration) / float64(len(results))
	return summary
}
