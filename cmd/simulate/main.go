// Command simulate runs the game engine headlessly over one or more
// scenarios, printing one JSON result line per scenario to stdout and
// structured event logs to stderr. Exit codes: 1 when any anomaly was
// recorded, 2 when the summary file could not be written.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/sim"
)

func main() {
	var (
		single     bool
		aiPlayers  int
		minutes    int
		difficulty string
		seed       uint64
		matchID    string
		summaryOut string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run headless match scenarios and report anomalies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				With().Timestamp().Logger()

			parsedDifficulty := game.DifficultyNormal
			if difficulty != "" {
				value, ok := game.ParseDifficulty(difficulty)
				if !ok {
					return fmt.Errorf("unknown difficulty %q", difficulty)
				}
				parsedDifficulty = value
			}

			scenarios := resolveScenarios(cmd, single, aiPlayers, minutes, parsedDifficulty, seed)

			results := make([]sim.Result, 0, len(scenarios))
			hasAnomaly := false
			encoder := json.NewEncoder(os.Stdout)
			for _, scenario := range scenarios {
				result := sim.Run(scenario, matchID, log)
				if len(result.Anomalies) > 0 {
					hasAnomaly = true
				}
				if err := encoder.Encode(result); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
				results = append(results, result)
			}

			if summaryOut != "" {
				payload, err := json.MarshalIndent(sim.Summarize(results), "", "  ")
				if err == nil {
					err = os.WriteFile(summaryOut, payload, 0o644)
				}
				if err != nil {
					log.Error().Err(err).Str("path", summaryOut).Msg("summary write failed")
					os.Exit(2)
				}
			}

			if hasAnomaly {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&single, "single", false, "run a single custom scenario")
	cmd.Flags().IntVar(&aiPlayers, "ai", 2, "AI player count (1-100)")
	cmd.Flags().IntVar(&minutes, "minutes", 3, "time limit in minutes (1-10)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "casual, normal, hard, or nightmare")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "world seed (0 = derive from clock)")
	cmd.Flags().StringVar(&matchID, "match-id", "", "identifier copied into each result line")
	cmd.Flags().StringVar(&summaryOut, "summary-out", "", "write the aggregate summary to this file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveScenarios(cmd *cobra.Command, single bool, aiPlayers, minutes int, difficulty game.Difficulty, seed uint64) []sim.Scenario {
	if seed == 0 {
		seed = uint64(time.Now().UnixMilli())
	}
	normalizedSeed := uint32(seed)

	custom := single || cmd.Flags().Changed("ai") || cmd.Flags().Changed("minutes")
	if custom {
		ai := clampInt(aiPlayers, 1, 100)
		return []sim.Scenario{{
			Name:       fmt.Sprintf("custom-ai%d", ai),
			AIPlayers:  ai,
			Minutes:    clampInt(minutes, 1, 10),
			Difficulty: difficulty,
			Seed:       normalizedSeed,
		}}
	}

	return []sim.Scenario{
		{
			Name:       "quick-check-ai2",
			AIPlayers:  2,
			Minutes:    2,
			Difficulty: game.DifficultyNormal,
			Seed:       normalizedSeed,
		},
		{
			Name:       "balance-check-ai5",
			AIPlayers:  5,
			Minutes:    5,
			Difficulty: game.DifficultyNormal,
			Seed:       uint32(seed + 1),
		},
	}
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
