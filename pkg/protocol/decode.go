package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/GridStation/PelletRush/pkg/game"
)

// ErrMalformed is returned for any frame the decoder cannot accept. The
// caller answers with an error frame and keeps the connection open.
var ErrMalformed = errors.New("invalid message")

// maxSafeInteger is the largest float64 with integer precision; numeric
// fields beyond it reject the whole message.
const maxSafeInteger = 9_007_199_254_740_991.0

// Decode parses one inbound text frame.
func Decode(raw []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrMalformed
	}
	messageType, ok := decodeString(fields["type"])
	if !ok {
		return nil, ErrMalformed
	}

	switch messageType {
	case TypeHello:
		return decodeHello(fields)
	case TypeLobbyStart:
		return decodeLobbyStart(fields)
	case TypeInput:
		return decodeInput(fields)
	case TypePlacePing:
		return decodePlacePing(fields)
	case TypePing:
		return decodePing(fields)
	}
	return nil, ErrMalformed
}

func decodeHello(fields map[string]json.RawMessage) (*Inbound, error) {
	name, ok := decodeString(fields["name"])
	if !ok {
		return nil, ErrMalformed
	}
	hello := Hello{Name: name}

	if raw, present := fields["reconnectToken"]; present {
		token, ok := decodeString(raw)
		if !ok {
			return nil, ErrMalformed
		}
		hello.ReconnectToken = &token
	}
	if raw, present := fields["spectator"]; present {
		spectator, ok := decodeBool(raw)
		if !ok {
			return nil, ErrMalformed
		}
		hello.Spectator = spectator
	}
	if raw, present := fields["roomId"]; present {
		roomID, ok := decodeString(raw)
		if !ok {
			return nil, ErrMalformed
		}
		hello.RoomID = &roomID
	}
	return &Inbound{Type: TypeHello, Hello: &hello}, nil
}

func decodeLobbyStart(fields map[string]json.RawMessage) (*Inbound, error) {
	start := LobbyStart{}
	if raw, present := fields["difficulty"]; present {
		value, ok := decodeString(raw)
		if !ok {
			return nil, ErrMalformed
		}
		difficulty, ok := game.ParseDifficulty(value)
		if !ok {
			return nil, ErrMalformed
		}
		start.Difficulty = &difficulty
	}

	aiCount, err := decodeOptionalInt64(fields, "aiPlayerCount")
	if err != nil {
		return nil, err
	}
	start.AIPlayerCount = aiCount

	timeLimit, err := decodeOptionalInt64(fields, "timeLimitMinutes")
	if err != nil {
		return nil, err
	}
	start.TimeLimitMinutes = timeLimit

	return &Inbound{Type: TypeLobbyStart, LobbyStart: &start}, nil
}

func decodeInput(fields map[string]json.RawMessage) (*Inbound, error) {
	input := Input{}
	if raw, present := fields["dir"]; present {
		value, ok := decodeString(raw)
		if !ok {
			return nil, ErrMalformed
		}
		dir, ok := game.ParseDirection(value)
		if !ok {
			return nil, ErrMalformed
		}
		input.Dir = &dir
	}
	if raw, present := fields["awaken"]; present {
		awaken, ok := decodeBool(raw)
		if !ok {
			return nil, ErrMalformed
		}
		input.Awaken = awaken
	}
	return &Inbound{Type: TypeInput, Input: &input}, nil
}

func decodePlacePing(fields map[string]json.RawMessage) (*Inbound, error) {
	value, ok := decodeString(fields["kind"])
	if !ok {
		return nil, ErrMalformed
	}
	kind, ok := game.ParsePingKind(value)
	if !ok {
		return nil, ErrMalformed
	}
	return &Inbound{Type: TypePlacePing, PlacePing: &PlacePing{Kind: kind}}, nil
}

func decodePing(fields map[string]json.RawMessage) (*Inbound, error) {
	raw, present := fields["t"]
	if !present {
		return nil, ErrMalformed
	}
	var t float64
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, ErrMalformed
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, ErrMalformed
	}
	return &Inbound{Type: TypePing, Ping: &Ping{T: t}}, nil
}

func decodeString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false
	}
	return out, true
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, false
	}
	return out, true
}

// decodeOptionalInt64 accepts missing fields, integers, and finite floats
// (floored). Values outside the safe integer range or the signed 64-bit
// range reject the whole message.
func decodeOptionalInt64(fields map[string]json.RawMessage, key string) (*int64, error) {
	raw, present := fields[key]
	if !present {
		return nil, nil
	}

	var number json.Number
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&number); err != nil {
		return nil, ErrMalformed
	}

	if value, err := number.Int64(); err == nil {
		return &value, nil
	}

	floatValue, err := number.Float64()
	if err != nil || math.IsNaN(floatValue) || math.IsInf(floatValue, 0) {
		return nil, ErrMalformed
	}
	floored := math.Floor(floatValue)
	if math.Abs(floored) > maxSafeInteger {
		return nil, ErrMalformed
	}
	value := int64(floored)
	return &value, nil
}
