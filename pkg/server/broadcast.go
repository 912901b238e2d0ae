package server

import (
	"encoding/json"
	"strconv"

	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/protocol"
)

// sendJSONToClient marshals and enqueues one frame for one client. Callers
// hold the session lock.
func (s *Server) sendJSONToClient(clientID string, message any, policy queuePolicy) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Error().Err(err).Msg("outbound frame marshal failed")
		return
	}
	s.sendToClient(clientID, payload, policy)
}

func (s *Server) sendToClient(clientID string, payload []byte, policy queuePolicy) {
	client, ok := s.clients[clientID]
	if !ok {
		return
	}
	select {
	case client.queue <- outboundMessage{payload: payload}:
	default:
		if policy == disconnectOnFull {
			s.disconnectClient(clientID, false)
		}
	}
}

func (s *Server) sendErrorToPlayer(playerID, message string) {
	if clientID, ok := s.activeClientByPlayer[playerID]; ok {
		s.sendJSONToClient(clientID, protocol.NewError(message), disconnectOnFull)
	}
}

// sendErrorToClient is the out-of-lock variant used by the reader pump.
func (s *Server) sendErrorToClient(clientID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendJSONToClient(clientID, protocol.NewError(message), disconnectOnFull)
}

// broadcast fans one frame out to every eligible client. Disconnections for
// overflow are deferred until after iteration so the client map is not
// mutated mid-loop.
func (s *Server) broadcast(message any, policy queuePolicy) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Error().Err(err).Msg("broadcast frame marshal failed")
		return
	}

	var failed []string
	for clientID, client := range s.clients {
		if !s.canReceiveBroadcast(clientID, client) {
			continue
		}
		select {
		case client.queue <- outboundMessage{payload: payload}:
		default:
			if policy == disconnectOnFull {
				failed = append(failed, clientID)
			}
		}
	}
	for _, clientID := range failed {
		s.disconnectClient(clientID, false)
	}
}

// canReceiveBroadcast: the client must be bound to a lobby member and be
// that player's active connection.
func (s *Server) canReceiveBroadcast(clientID string, client *clientContext) bool {
	if client.playerID == "" {
		return false
	}
	if active, ok := s.activeClientByPlayer[client.playerID]; !ok || active != clientID {
		return false
	}
	_, inLobby := s.lobbyMembers[client.playerID]
	return inLobby
}

// broadcastLobby pushes the current roster to everyone.
func (s *Server) broadcastLobby(note *string) {
	s.ensureHostAssigned("")

	members := s.sortedMembers()
	spectatorCount := 0
	players := make([]protocol.LobbyPlayer, 0, len(members))
	for _, member := range members {
		if member.spectator {
			spectatorCount++
		}
		players = append(players, protocol.LobbyPlayer{
			ID:        member.id,
			Name:      member.name,
			Connected: member.connected,
			AI:        member.ai,
			Spectator: member.spectator,
			IsHost:    s.hostID == member.id,
		})
	}

	canStart := false
	if host, ok := s.lobbyMembers[s.hostID]; ok {
		canStart = host.connected
	}

	composedNote := note
	if composedNote == nil && s.runningAICount > 0 {
		text := "AI players running: " + strconv.Itoa(s.runningAICount)
		composedNote = &text
	}

	var hostID *string
	if s.hostID != "" {
		id := s.hostID
		hostID = &id
	}

	s.broadcast(protocol.Lobby{
		Type:           protocol.TypeLobby,
		Players:        players,
		HostID:         hostID,
		CanStart:       canStart,
		Running:        s.game != nil,
		SpectatorCount: spectatorCount,
		Note:           composedNote,
	}, disconnectOnFull)
}

// sendWelcomeAndInitialState answers a successful hello, including the
// world and current snapshot when a match is in flight.
func (s *Server) sendWelcomeAndInitialState(clientID, playerID string) {
	member, ok := s.lobbyMembers[playerID]
	if !ok {
		return
	}

	s.sendJSONToClient(clientID, protocol.Welcome{
		Type:           protocol.TypeWelcome,
		PlayerID:       member.id,
		ReconnectToken: member.reconnectToken,
		IsHost:         s.hostID == playerID,
		IsSpectator:    member.spectator,
	}, disconnectOnFull)

	if s.game == nil {
		return
	}

	snapshot := s.game.BuildSnapshot(false)
	snapshot.Pings = s.pingBuffer.Snapshot(snapshot.NowMS)

	s.sendJSONToClient(clientID, protocol.GameInit{
		Type:        protocol.TypeGameInit,
		MeID:        member.id,
		World:       s.game.WorldInit(),
		Config:      s.game.Config,
		StartedAtMS: s.game.StartedAtMS,
		Seed:        s.game.Seed(),
		IsSpectator: member.spectator,
	}, disconnectOnFull)

	s.sendJSONToClient(clientID, protocol.State{
		Type:     protocol.TypeState,
		Snapshot: snapshot,
	}, disconnectOnFull)
}

// tickGame advances the engine one tick and broadcasts the snapshot. When
// the match ends it records the summary, notifies everyone, and resets the
// session back to lobby state.
func (s *Server) tickGame() {
	if s.game == nil {
		return
	}
	s.game.Step(game.TickMS)
	snapshot := s.game.BuildSnapshot(true)
	snapshot.Pings = s.pingBuffer.Snapshot(snapshot.NowMS)

	s.broadcast(protocol.State{Type: protocol.TypeState, Snapshot: snapshot}, dropOnFull)

	if !s.game.IsEnded() {
		return
	}

	summary := s.game.BuildSummary()
	s.rankingStore.RecordMatch(summary)
	s.broadcast(protocol.GameOver{Type: protocol.TypeGameOver, Summary: summary}, disconnectOnFull)

	s.game = nil
	s.runningAICount = 0
	s.pingBuffer.Clear()
	for _, member := range s.lobbyMembers {
		member.ai = false
	}

	s.ensureHostAssigned("")
	note := "match over. restart available"
	s.broadcastLobby(&note)
}
