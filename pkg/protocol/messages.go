// Package protocol decodes inbound JSON text frames and defines the
// outbound frame types. A frame is a single JSON object discriminated by a
// string "type" field.
package protocol

import (
	"github.com/GridStation/PelletRush/pkg/game"
)

// Inbound message types.
const (
	TypeHello      = "hello"
	TypeLobbyStart = "lobby_start"
	TypeInput      = "input"
	TypePlacePing  = "place_ping"
	TypePing       = "ping"
)

// Outbound message types.
const (
	TypeWelcome  = "welcome"
	TypeGameInit = "game_init"
	TypeState    = "state"
	TypeLobby    = "lobby"
	TypeGameOver = "game_over"
	TypePong     = "pong"
	TypeError    = "error"
)

// Hello is a join or reconnect request.
type Hello struct {
	Name           string
	ReconnectToken *string
	Spectator      bool
	RoomID         *string
}

// LobbyStart asks the server to start a match.
type LobbyStart struct {
	Difficulty       *game.Difficulty
	AIPlayerCount    *int64
	TimeLimitMinutes *int64
}

// Input carries a direction change and/or an awaken request.
type Input struct {
	Dir    *game.Direction
	Awaken bool
}

// PlacePing drops a marker at the sender's current position.
type PlacePing struct {
	Kind game.PingKind
}

// Ping is a latency probe; the server echoes t back in a pong.
type Ping struct {
	T float64
}

// Inbound is a decoded client frame. Exactly one payload field matching
// Type is non-nil.
type Inbound struct {
	Type       string
	Hello      *Hello
	LobbyStart *LobbyStart
	Input      *Input
	PlacePing  *PlacePing
	Ping       *Ping
}

// Welcome confirms a hello and hands out the reconnect token.
type Welcome struct {
	Type           string `json:"type"`
	PlayerID       string `json:"playerId"`
	ReconnectToken string `json:"reconnectToken"`
	IsHost         bool   `json:"isHost"`
	IsSpectator    bool   `json:"isSpectator"`
}

// GameInit carries the one-shot world and config for a running match.
type GameInit struct {
	Type        string         `json:"type"`
	MeID        string         `json:"meId"`
	World       game.WorldInit `json:"world"`
	Config      game.Config    `json:"config"`
	StartedAtMS uint64         `json:"startedAtMs"`
	Seed        uint32         `json:"seed"`
	IsSpectator bool           `json:"isSpectator"`
}

// State wraps one tick snapshot.
type State struct {
	Type     string        `json:"type"`
	Snapshot game.Snapshot `json:"snapshot"`
}

// LobbyPlayer is one row of the lobby broadcast.
type LobbyPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	AI        bool   `json:"ai"`
	Spectator bool   `json:"spectator"`
	IsHost    bool   `json:"isHost"`
}

// Lobby is the lobby roster broadcast.
type Lobby struct {
	Type           string        `json:"type"`
	Players        []LobbyPlayer `json:"players"`
	HostID         *string       `json:"hostId"`
	CanStart       bool          `json:"canStart"`
	Running        bool          `json:"running"`
	SpectatorCount int           `json:"spectatorCount"`
	Note           *string       `json:"note"`
}

// GameOver wraps the end-of-match summary.
type GameOver struct {
	Type    string       `json:"type"`
	Summary game.Summary `json:"summary"`
}

// Pong answers a latency probe.
type Pong struct {
	Type string  `json:"type"`
	T    float64 `json:"t"`
}

// Error is the uniform user-facing failure frame.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewPong echoes a ping probe.
func NewPong(t float64) Pong {
	return Pong{Type: TypePong, T: t}
}
