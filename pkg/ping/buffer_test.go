package ping

import (
	"fmt"
	"testing"

	"github.com/GridStation/PelletRush/pkg/game"
)

func place(b *Buffer, owner, name string, kind game.PingKind, nowMS uint64, spectator bool, x, y int) PlaceResult {
	return b.Place(PlaceInput{
		OwnerID:   owner,
		OwnerName: name,
		X:         x,
		Y:         y,
		Kind:      kind,
		NowMS:     nowMS,
		Spectator: spectator,
	})
}

func TestSpectatorIsDenied(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	result := place(b, "p1", "Spec", game.PingFocus, 100, true, 1, 1)
	if result.OK {
		t.Fatal("spectator ping should be rejected")
	}
	if len(b.Snapshot(100)) != 0 {
		t.Fatal("rejected ping should not appear in snapshot")
	}
}

func TestTTLCleanup(t *testing.T) {
	opts := DefaultOptions()
	opts.TTLMS = 1_000
	b := NewBuffer(opts)
	if !place(b, "p1", "Alice", game.PingDanger, 0, false, 2, 3).OK {
		t.Fatal("first ping should be accepted")
	}
	if got := len(b.Snapshot(999)); got != 1 {
		t.Errorf("snapshot(999) = %d pings, want 1", got)
	}
	if got := len(b.Snapshot(1_000)); got != 0 {
		t.Errorf("snapshot(1000) = %d pings, want 0 after TTL", got)
	}
}

func TestRateLimitWindow(t *testing.T) {
	opts := DefaultOptions()
	opts.RateWindowMS = 4_000
	opts.MaxPerWindow = 3
	b := NewBuffer(opts)

	for i, at := range []uint64{0, 100, 200} {
		if !place(b, "p1", "Alice", game.PingHelp, at, false, 1, 1).OK {
			t.Fatalf("ping %d at t=%d should be accepted", i, at)
		}
	}
	if place(b, "p1", "Alice", game.PingHelp, 300, false, 1, 1).OK {
		t.Fatal("fourth ping inside window should be rejected")
	}
	if !place(b, "p1", "Alice", game.PingHelp, 4_500, false, 1, 1).OK {
		t.Fatal("ping after window expiry should be accepted")
	}
}

func TestPerPlayerCapRemovesOldest(t *testing.T) {
	opts := DefaultOptions()
	opts.TTLMS = 20_000
	opts.MaxPerPlayer = 2
	opts.MaxPerWindow = 10
	b := NewBuffer(opts)

	place(b, "p1", "Alice", game.PingFocus, 0, false, 1, 1)
	place(b, "p1", "Alice", game.PingFocus, 100, false, 2, 1)
	place(b, "p1", "Alice", game.PingFocus, 200, false, 3, 1)

	pings := b.Snapshot(250)
	if len(pings) != 2 {
		t.Fatalf("got %d pings, want 2", len(pings))
	}
	for _, p := range pings {
		if p.X == 1 {
			t.Error("oldest ping should have been evicted")
		}
	}
}

func TestGlobalCapRemovesOldest(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxActivePings = 3
	opts.MaxPerPlayer = 10
	opts.MaxPerWindow = 10
	opts.TTLMS = 60_000
	b := NewBuffer(opts)

	for idx := 0; idx < 5; idx++ {
		owner := fmt.Sprintf("p%d", idx)
		if !place(b, owner, owner, game.PingFocus, uint64(idx)*100, false, idx, 0).OK {
			t.Fatalf("ping %d should be accepted", idx)
		}
	}

	pings := b.Snapshot(1_000)
	if len(pings) != 3 {
		t.Fatalf("got %d pings, want 3", len(pings))
	}
	wantOwners := []string{"p2", "p3", "p4"}
	for i, p := range pings {
		if p.OwnerID != wantOwners[i] {
			t.Errorf("ping %d owner = %s, want %s", i, p.OwnerID, wantOwners[i])
		}
	}
}

func TestCapsHoldUnderMixedLoad(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	now := uint64(0)
	for round := 0; round < 20; round++ {
		for owner := 0; owner < 10; owner++ {
			place(b, fmt.Sprintf("p%d", owner), "X", game.PingRally, now, false, owner, round)
		}
		now += 500
		pings := b.Snapshot(now)
		if len(pings) > DefaultOptions().MaxActivePings {
			t.Fatalf("global cap exceeded: %d", len(pings))
		}
		perOwner := make(map[string]int)
		for _, p := range pings {
			perOwner[p.OwnerID]++
			if perOwner[p.OwnerID] > DefaultOptions().MaxPerPlayer {
				t.Fatalf("per-owner cap exceeded for %s", p.OwnerID)
			}
		}
	}
}

func TestClearDropsEverything(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	place(b, "p1", "Alice", game.PingHelp, 0, false, 1, 1)
	place(b, "p1", "Alice", game.PingHelp, 100, false, 1, 2)
	b.Clear()
	if len(b.Snapshot(200)) != 0 {
		t.Fatal("clear should drop all pings")
	}
	// Rate history is cleared too: three immediate pings are allowed again.
	for _, at := range []uint64{200, 210, 220} {
		if !place(b, "p1", "Alice", game.PingHelp, at, false, 1, 1).OK {
			t.Fatalf("ping at t=%d should be accepted after clear", at)
		}
	}
}
