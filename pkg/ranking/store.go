// Package ranking persists per-player aggregates of finished matches to a
// single JSON file. Rows are keyed by the lowercased trimmed player name, so
// the same human merges across matches regardless of capitalization.
package ranking

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GridStation/PelletRush/pkg/game"
)

const fileVersion = 1

// StoredEntry is one persisted row.
type StoredEntry struct {
	Name              string  `json:"name"`
	Matches           uint64  `json:"matches"`
	Wins              uint64  `json:"wins"`
	TotalCaptureRatio float64 `json:"totalCaptureRatio"`
	TotalRescues      float64 `json:"totalRescues"`
	BestScore         int     `json:"bestScore"`
	UpdatedAtMS       uint64  `json:"updatedAtMs"`
}

type storeFile struct {
	Version int                    `json:"version"`
	Players map[string]StoredEntry `json:"players"`
}

type storeFileRaw struct {
	Version int                        `json:"version"`
	Players map[string]json.RawMessage `json:"players"`
}

// ResponseEntry is one projected row of the ranking endpoint.
type ResponseEntry struct {
	Name            string  `json:"name"`
	Matches         uint64  `json:"matches"`
	Wins            uint64  `json:"wins"`
	WinRate         float64 `json:"winRate"`
	AvgCaptureRatio float64 `json:"avgCaptureRatio"`
	AvgRescues      float64 `json:"avgRescues"`
	BestScore       int     `json:"bestScore"`
	UpdatedAtMS     uint64  `json:"updatedAtMs"`
}

// Response is the ranking endpoint payload.
type Response struct {
	GeneratedAtISO string          `json:"generatedAtIso"`
	Entries        []ResponseEntry `json:"entries"`
}

// Store aggregates finished matches. Not safe for concurrent use; the
// session manager owns it under its lock.
type Store struct {
	filePath string
	players  map[string]StoredEntry
	log      zerolog.Logger
}

// NewStore loads the store file when present. A missing file or an unknown
// version starts from empty.
func NewStore(filePath string, log zerolog.Logger) *Store {
	return &Store{
		filePath: filePath,
		players:  loadPlayers(filePath, log),
		log:      log,
	}
}

// RecordMatch folds a finished match into the aggregates and persists the
// whole store. AI entries (player ids prefixed "ai_") are skipped.
func (s *Store) RecordMatch(summary game.Summary) {
	won := summary.Reason == game.ReasonVictory
	nowMS := uint64(time.Now().UnixMilli())

	for _, entry := range summary.Ranking {
		if strings.HasPrefix(entry.PlayerID, "ai_") {
			continue
		}
		key := rankingKey(entry.Name)
		if key == "" {
			continue
		}

		current, ok := s.players[key]
		if !ok {
			current = StoredEntry{Name: strings.TrimSpace(entry.Name), UpdatedAtMS: nowMS}
		}
		current.Name = strings.TrimSpace(entry.Name)
		current.Matches++
		if won {
			current.Wins++
		}
		current.TotalCaptureRatio += summary.CaptureRatio
		current.TotalRescues += float64(entry.Rescues)
		if entry.Score > current.BestScore {
			current.BestScore = entry.Score
		}
		current.UpdatedAtMS = nowMS
		s.players[key] = current
	}

	s.save()
}

// BuildResponse projects and sorts the rows: win rate, average capture,
// average rescues, best score all descending, then name ascending. The limit
// is clamped to 1..100 with a default of 10.
func (s *Store) BuildResponse(requestedLimit *int) Response {
	limit := 10
	if requestedLimit != nil {
		limit = *requestedLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	entries := make([]ResponseEntry, 0, len(s.players))
	for _, entry := range s.players {
		matches := entry.Matches
		if matches < 1 {
			matches = 1
		}
		wins := entry.Wins
		if wins > entry.Matches {
			wins = entry.Matches
		}
		entries = append(entries, ResponseEntry{
			Name:            entry.Name,
			Matches:         entry.Matches,
			Wins:            wins,
			WinRate:         float64(entry.Wins) / float64(matches),
			AvgCaptureRatio: entry.TotalCaptureRatio / float64(matches),
			AvgRescues:      entry.TotalRescues / float64(matches),
			BestScore:       entry.BestScore,
			UpdatedAtMS:     entry.UpdatedAtMS,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		if a.AvgCaptureRatio != b.AvgCaptureRatio {
			return a.AvgCaptureRatio > b.AvgCaptureRatio
		}
		if a.AvgRescues != b.AvgRescues {
			return a.AvgRescues > b.AvgRescues
		}
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return Response{
		GeneratedAtISO: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Entries:        entries,
	}
}

// save writes the whole store. Failures are logged and swallowed: the
// aggregates stay in memory and the next successful save persists them.
func (s *Store) save() {
	if parent := filepath.Dir(s.filePath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			s.log.Error().Err(err).Str("dir", parent).Msg("ranking store: create parent dir failed")
			return
		}
	}

	payload := storeFile{Version: fileVersion, Players: s.players}
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Str("path", s.filePath).Msg("ranking store: serialize failed")
		return
	}
	if err := os.WriteFile(s.filePath, text, 0o644); err != nil {
		s.log.Error().Err(err).Str("path", s.filePath).Msg("ranking store: write failed")
	}
}

// loadPlayers reads the store file, sanitizing each row independently and
// merging case-insensitive duplicates. One broken row never discards the
// others.
func loadPlayers(path string, log zerolog.Logger) map[string]StoredEntry {
	out := make(map[string]StoredEntry)

	text, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", path).Msg("ranking store: read failed")
		}
		return out
	}

	var parsed storeFileRaw
	if err := json.Unmarshal(text, &parsed); err != nil {
		log.Error().Err(err).Str("path", path).Msg("ranking store: parse failed")
		return out
	}
	if parsed.Version != fileVersion {
		log.Error().Int("version", parsed.Version).Str("path", path).Msg("ranking store: unsupported version")
		return out
	}

	for playerKey, raw := range parsed.Players {
		var entry StoredEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Error().Err(err).Str("player", playerKey).Msg("ranking store: bad player entry skipped")
			continue
		}
		normalized, ok := sanitizeStoredEntry(entry)
		if !ok {
			continue
		}
		key := rankingKey(normalized.Name)
		if key == "" {
			continue
		}

		if current, exists := out[key]; exists {
			current.Name = normalized.Name
			current.Matches += normalized.Matches
			current.Wins += normalized.Wins
			current.TotalCaptureRatio += normalized.TotalCaptureRatio
			current.TotalRescues += normalized.TotalRescues
			if normalized.BestScore > current.BestScore {
				current.BestScore = normalized.BestScore
			}
			if normalized.UpdatedAtMS > current.UpdatedAtMS {
				current.UpdatedAtMS = normalized.UpdatedAtMS
			}
			out[key] = current
		} else {
			out[key] = normalized
		}
	}

	return out
}

func sanitizeStoredEntry(entry StoredEntry) (StoredEntry, bool) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return StoredEntry{}, false
	}
	if math.IsNaN(entry.TotalCaptureRatio) || math.IsInf(entry.TotalCaptureRatio, 0) || entry.TotalCaptureRatio < 0 {
		return StoredEntry{}, false
	}
	if math.IsNaN(entry.TotalRescues) || math.IsInf(entry.TotalRescues, 0) || entry.TotalRescues < 0 {
		return StoredEntry{}, false
	}
	wins := entry.Wins
	if wins > entry.Matches {
		wins = entry.Matches
	}
	best := entry.BestScore
	if best < 0 {
		best = 0
	}
	return StoredEntry{
		Name:              name,
		Matches:           entry.Matches,
		Wins:              wins,
		TotalCaptureRatio: entry.TotalCaptureRatio,
		TotalRescues:      entry.TotalRescues,
		BestScore:         best,
		UpdatedAtMS:       entry.UpdatedAtMS,
	}, true
}

func rankingKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
