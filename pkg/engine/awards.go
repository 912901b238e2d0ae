package engine

import "github.com/GridStation/PelletRush/pkg/game"

// buildAwards rolls the end-of-match awards from per-player stats. Ties
// produce multiple winners; an award nobody scored on is omitted.
func (e *Engine) buildAwards() []game.AwardEntry {
	type awardSpec struct {
		id          string
		title       string
		metricLabel string
		metric      func(*playerInternal) int
	}
	specs := [4]awardSpec{
		{game.AwardRescueKing, "Rescue King", "rescues", func(p *playerInternal) int { return p.stats.rescues }},
		{game.AwardExplorerKing, "Explorer King", "dots", func(p *playerInternal) int { return p.stats.dots }},
		{game.AwardDefenseKing, "Defense King", "captures", func(p *playerInternal) int { return p.stats.captures }},
		{game.AwardGhostHunter, "Ghost Hunter", "ghosts", func(p *playerInternal) int { return p.stats.ghosts }},
	}

	awards := make([]game.AwardEntry, 0, len(specs))
	for _, award := range specs {
		best := 0
		for _, p := range e.players {
			if value := award.metric(p); value > best {
				best = value
			}
		}
		if best == 0 {
			continue
		}
		var winners []game.AwardWinner
		for _, p := range e.players {
			if award.metric(p) == best {
				winners = append(winners, game.AwardWinner{PlayerID: p.view.ID, Name: p.view.Name})
			}
		}
		awards = append(awards, game.AwardEntry{
			ID:          award.id,
			Title:       award.title,
			MetricLabel: award.metricLabel,
			Value:       best,
			Winners:     winners,
		})
	}
	return awards
}
