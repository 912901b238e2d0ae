// Package ping keeps the transient markers players drop on the map. The
// buffer enforces a TTL, per-owner and global caps, and a sliding-window
// rate limit per owner.
package ping

import (
	"fmt"
	"sync/atomic"

	"github.com/GridStation/PelletRush/pkg/game"
)

var nextPingID atomic.Uint64

// Options tunes the buffer limits.
type Options struct {
	TTLMS          uint64
	MaxActivePings int
	MaxPerPlayer   int
	RateWindowMS   uint64
	MaxPerWindow   int
}

// DefaultOptions are the production limits.
func DefaultOptions() Options {
	return Options{
		TTLMS:          8_000,
		MaxActivePings: 24,
		MaxPerPlayer:   4,
		RateWindowMS:   4_000,
		MaxPerWindow:   3,
	}
}

// PlaceInput is one place request.
type PlaceInput struct {
	OwnerID   string
	OwnerName string
	X, Y      int
	Kind      game.PingKind
	NowMS     uint64
	Spectator bool
}

// PlaceResult reports whether a place request was accepted.
type PlaceResult struct {
	OK     bool
	Reason string
}

// Buffer holds the live markers. Not safe for concurrent use; the session
// manager owns it under its lock.
type Buffer struct {
	options        Options
	pings          []game.PingView
	historyByOwner map[string][]uint64
}

// NewBuffer creates an empty buffer with the given limits.
func NewBuffer(options Options) *Buffer {
	return &Buffer{
		options:        options,
		historyByOwner: make(map[string][]uint64),
	}
}

// Clear drops every marker and all rate history. Called at match start and
// match end.
func (b *Buffer) Clear() {
	b.pings = b.pings[:0]
	b.historyByOwner = make(map[string][]uint64)
}

// ownerCount counts live markers for one owner.
func (b *Buffer) ownerCount(ownerID string) int {
	count := 0
	for _, marker := range b.pings {
		if marker.OwnerID == ownerID {
			count++
		}
	}
	return count
}

// Place adds a marker, evicting the owner's oldest when their cap is hit and
// the globally oldest when the total cap is hit.
func (b *Buffer) Place(input PlaceInput) PlaceResult {
	b.prune(input.NowMS)

	if input.Spectator {
		return PlaceResult{Reason: "spectator cannot place ping"}
	}

	history := b.historyByOwner[input.OwnerID]
	history = trimHistory(history, input.NowMS, b.options.RateWindowMS)
	if len(history) >= b.options.MaxPerWindow {
		b.historyByOwner[input.OwnerID] = history
		return PlaceResult{Reason: "ping rate limit exceeded"}
	}
	b.historyByOwner[input.OwnerID] = append(history, input.NowMS)

	b.trimOwnerPings(input.OwnerID)
	for len(b.pings) >= b.options.MaxActivePings {
		b.pings = b.pings[1:]
	}

	b.pings = append(b.pings, game.PingView{
		ID:          fmt.Sprintf("ping_%d", nextPingID.Add(1)),
		OwnerID:     input.OwnerID,
		OwnerName:   input.OwnerName,
		X:           input.X,
		Y:           input.Y,
		Kind:        input.Kind,
		CreatedAtMS: input.NowMS,
		ExpiresAtMS: input.NowMS + b.options.TTLMS,
	})
	return PlaceResult{OK: true}
}

// Snapshot prunes expired markers and returns a copy of the live set.
func (b *Buffer) Snapshot(nowMS uint64) []game.PingView {
	b.prune(nowMS)
	out := make([]game.PingView, len(b.pings))
	copy(out, b.pings)
	return out
}

func (b *Buffer) prune(nowMS uint64) {
	live := b.pings[:0]
	for _, marker := range b.pings {
		if marker.ExpiresAtMS > nowMS {
			live = append(live, marker)
		}
	}
	b.pings = live

	for owner, history := range b.historyByOwner {
		trimmed := trimHistory(history, nowMS, b.options.RateWindowMS)
		if len(trimmed) == 0 {
			delete(b.historyByOwner, owner)
		} else {
			b.historyByOwner[owner] = trimmed
		}
	}
}

func trimHistory(history []uint64, nowMS, windowMS uint64) []uint64 {
	out := history[:0]
	for _, at := range history {
		if nowMS-at <= windowMS {
			out = append(out, at)
		}
	}
	return out
}

// trimOwnerPings removes the owner's oldest markers until they are below
// their cap.
func (b *Buffer) trimOwnerPings(ownerID string) {
	count := b.ownerCount(ownerID)
	if count < b.options.MaxPerPlayer {
		return
	}

	idx := 0
	for idx < len(b.pings) && count >= b.options.MaxPerPlayer {
		if b.pings[idx].OwnerID == ownerID {
			b.pings = append(b.pings[:idx], b.pings[idx+1:]...)
			count--
			continue
		}
		idx++
	}
}
