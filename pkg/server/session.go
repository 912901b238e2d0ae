package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/GridStation/PelletRush/pkg/engine"
	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/ping"
	"github.com/GridStation/PelletRush/pkg/protocol"
)

// handleClientMessage decodes one inbound frame and dispatches it under the
// session lock.
func (s *Server) handleClientMessage(clientID string, raw []byte) {
	message, err := protocol.Decode(raw)
	if err != nil {
		s.sendErrorToClient(clientID, "invalid message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch message.Type {
	case protocol.TypeHello:
		s.handleHello(clientID, message.Hello)
	case protocol.TypePing:
		s.sendJSONToClient(clientID, protocol.NewPong(message.Ping.T), disconnectOnFull)
	case protocol.TypeLobbyStart:
		playerID, ok := s.boundPlayerID(clientID)
		if !ok {
			s.sendJSONToClient(clientID, protocol.NewError("send hello first"), disconnectOnFull)
			return
		}
		s.handleLobbyStart(playerID, message.LobbyStart)
	case protocol.TypeInput:
		playerID, ok := s.boundPlayerID(clientID)
		if !ok {
			s.sendJSONToClient(clientID, protocol.NewError("send hello first"), disconnectOnFull)
			return
		}
		if s.game != nil {
			s.game.ReceiveInput(playerID, message.Input.Dir, message.Input.Awaken)
		}
	case protocol.TypePlacePing:
		playerID, ok := s.boundPlayerID(clientID)
		if !ok {
			s.sendJSONToClient(clientID, protocol.NewError("send hello first"), disconnectOnFull)
			return
		}
		s.handlePlacePing(clientID, playerID, message.PlacePing.Kind)
	}
}

func (s *Server) boundPlayerID(clientID string) (string, bool) {
	client, ok := s.clients[clientID]
	if !ok || client.playerID == "" {
		return "", false
	}
	return client.playerID, true
}

// handleHello runs the join/reconnect ladder: an already-bound client, a
// reconnect token match, and finally a brand-new identity.
func (s *Server) handleHello(clientID string, hello *protocol.Hello) {
	if !isSupportedRoom(hello.RoomID) {
		s.sendJSONToClient(clientID, protocol.NewError("roomId is not supported. use 'main'."), disconnectOnFull)
		return
	}
	name := sanitizeName(hello.Name)

	client, ok := s.clients[clientID]
	if !ok {
		return
	}

	if currentPlayerID := client.playerID; currentPlayerID != "" {
		if member, exists := s.lobbyMembers[currentPlayerID]; exists {
			if hello.ReconnectToken != nil && *hello.ReconnectToken != member.reconnectToken {
				s.sendJSONToClient(clientID, protocol.NewError("reconnect token mismatch for this connection"), disconnectOnFull)
				return
			}

			running := s.game != nil
			if !running {
				member.spectator = hello.Spectator
			}
			member.name = name
			member.connected = true
			member.ai = false

			s.bindClientToPlayer(clientID, currentPlayerID)
			if !member.spectator && s.game != nil && s.game.HasPlayer(currentPlayerID) {
				s.game.SetPlayerConnection(currentPlayerID, true)
			}

			s.ensureHostAssigned(currentPlayerID)
			s.sendWelcomeAndInitialState(clientID, currentPlayerID)
			s.broadcastLobby(nil)
			return
		}
		client.playerID = ""
	}

	if hello.ReconnectToken != nil {
		if existingID, found := s.findPlayerIDByToken(*hello.ReconnectToken); found {
			member := s.lobbyMembers[existingID]
			gameHasPlayer := s.game != nil && s.game.HasPlayer(existingID)
			if s.game != nil && !member.spectator && !gameHasPlayer {
				s.sendJSONToClient(clientID, protocol.NewError("game already running; reconnection only"), disconnectOnFull)
				return
			}

			if s.game == nil {
				member.spectator = hello.Spectator
			}
			member.name = name
			member.connected = true
			member.ai = false

			s.bindClientToPlayer(clientID, existingID)
			if !member.spectator && s.game != nil && s.game.HasPlayer(existingID) {
				s.game.SetPlayerConnection(existingID, true)
			}

			s.ensureHostAssigned(existingID)
			s.sendWelcomeAndInitialState(clientID, existingID)
			s.broadcastLobby(nil)
			return
		}
	}

	if s.game != nil && !hello.Spectator {
		s.sendJSONToClient(clientID, protocol.NewError("game already running; reconnection or spectator only"), disconnectOnFull)
		return
	}

	playerID := makeID("player")
	member := &lobbyMember{
		id:             playerID,
		name:           name,
		connected:      true,
		spectator:      hello.Spectator,
		reconnectToken: makeReconnectToken(),
	}
	s.lobbyMembers[playerID] = member
	s.bindClientToPlayer(clientID, playerID)
	s.ensureHostAssigned(playerID)
	s.sendWelcomeAndInitialState(clientID, playerID)
	s.broadcastLobby(nil)
}

// handleLobbyStart builds the engine from the connected non-spectator
// members plus the requested AI fill. Only the host may start.
func (s *Server) handleLobbyStart(requestedBy string, start *protocol.LobbyStart) {
	if s.game != nil {
		return
	}

	s.ensureHostAssigned("")
	if s.hostID != requestedBy {
		s.sendErrorToPlayer(requestedBy, "only host can start")
		return
	}

	var humanIDs []string
	for _, member := range s.lobbyMembers {
		if member.connected && !member.spectator {
			humanIDs = append(humanIDs, member.id)
		}
	}
	sort.Slice(humanIDs, func(i, j int) bool {
		return playerOrderKey(humanIDs[i]) < playerOrderKey(humanIDs[j])
	})

	var startPlayers []game.StartPlayer
	for _, playerID := range humanIDs {
		member := s.lobbyMembers[playerID]
		startPlayers = append(startPlayers, game.StartPlayer{
			ID:             member.id,
			Name:           member.name,
			ReconnectToken: member.reconnectToken,
			Connected:      member.connected,
		})
	}

	aiCount := normalizeAICount(start.AIPlayerCount)
	for idx := 0; idx < aiCount; idx++ {
		startPlayers = append(startPlayers, game.StartPlayer{
			ID:             "ai_" + makeID("id"),
			Name:           fmt.Sprintf("AI-%02d", idx+1),
			ReconnectToken: makeReconnectToken(),
			Connected:      false,
		})
	}

	if len(startPlayers) == 0 {
		s.sendErrorToPlayer(requestedBy, "no players. set AI players or join as player.")
		return
	}

	difficulty := game.DifficultyNormal
	if start.Difficulty != nil {
		difficulty = *start.Difficulty
	}

	s.runningAICount = aiCount
	s.pingBuffer.Clear()
	s.game = engine.New(startPlayers, difficulty, uint32(time.Now().UnixMilli()), engine.Options{
		TimeLimitMS: normalizeTimeLimitMS(start.TimeLimitMinutes),
	})

	// Reconcile lobby membership against the new engine roster.
	for playerID, member := range s.lobbyMembers {
		if member.spectator {
			member.ai = false
			continue
		}
		if s.game.HasPlayer(playerID) {
			member.ai = !member.connected
		} else {
			delete(s.lobbyMembers, playerID)
			delete(s.activeClientByPlayer, playerID)
		}
	}

	startNote := fmt.Sprintf("match started (human:%d, ai:%d, limit:%dm)",
		len(humanIDs), aiCount, s.game.Config.TimeLimitMS/60_000)
	s.broadcastLobby(&startNote)

	world := s.game.WorldInit()
	config := s.game.Config
	startedAt := s.game.StartedAtMS
	seed := s.game.Seed()
	for _, member := range s.sortedMembers() {
		if !member.connected {
			continue
		}
		clientID, ok := s.activeClientByPlayer[member.id]
		if !ok {
			continue
		}
		s.sendJSONToClient(clientID, protocol.GameInit{
			Type:        protocol.TypeGameInit,
			MeID:        member.id,
			World:       world,
			Config:      config,
			StartedAtMS: startedAt,
			Seed:        seed,
			IsSpectator: member.spectator,
		}, disconnectOnFull)
	}
}

func (s *Server) handlePlacePing(clientID, playerID string, kind game.PingKind) {
	member, ok := s.lobbyMembers[playerID]
	if !ok {
		s.sendJSONToClient(clientID, protocol.NewError("player is not in lobby"), disconnectOnFull)
		return
	}
	if s.game == nil {
		s.sendJSONToClient(clientID, protocol.NewError("game is not running"), disconnectOnFull)
		return
	}
	if member.spectator {
		s.sendJSONToClient(clientID, protocol.NewError("spectator cannot place ping"), disconnectOnFull)
		return
	}
	pos, ok := s.game.PlayerPosition(playerID)
	if !ok {
		s.sendJSONToClient(clientID, protocol.NewError("player is not in current game"), disconnectOnFull)
		return
	}

	result := s.pingBuffer.Place(ping.PlaceInput{
		OwnerID:   playerID,
		OwnerName: member.name,
		X:         pos.X,
		Y:         pos.Y,
		Kind:      kind,
		NowMS:     s.game.CurrentNowMS(),
		Spectator: member.spectator,
	})
	if !result.OK {
		reason := result.Reason
		if reason == "" {
			reason = "failed to place ping"
		}
		s.sendJSONToClient(clientID, protocol.NewError(reason), disconnectOnFull)
	}
}

// disconnectClient clears the binding when this client was the player's
// active connection. Mid-match members fall to AI; idle-lobby members and
// spectators are removed.
func (s *Server) disconnectClient(clientID string, broadcastAfter bool) {
	client, ok := s.clients[clientID]
	if !ok {
		return
	}
	delete(s.clients, clientID)
	close(client.queue)

	boundPlayerID := client.playerID
	if boundPlayerID == "" {
		return
	}
	if active, ok := s.activeClientByPlayer[boundPlayerID]; !ok || active != clientID {
		return
	}
	delete(s.activeClientByPlayer, boundPlayerID)

	removeMember := false
	if member, ok := s.lobbyMembers[boundPlayerID]; ok {
		if s.game != nil {
			if member.spectator {
				removeMember = true
			} else {
				member.connected = false
				member.ai = true
				if s.game.HasPlayer(boundPlayerID) {
					s.game.SetPlayerConnection(boundPlayerID, false)
				}
			}
		} else {
			removeMember = true
		}
	}
	if removeMember {
		delete(s.lobbyMembers, boundPlayerID)
		delete(s.activeClientByPlayer, boundPlayerID)
	}

	if s.hostID == boundPlayerID {
		s.hostID = s.chooseNextHost()
	}
	if broadcastAfter {
		s.broadcastLobby(nil)
	}
}

// bindClientToPlayer atomically links a client and a player, superseding
// any previous connection with close code 4001.
func (s *Server) bindClientToPlayer(clientID, playerID string) {
	if oldClientID, ok := s.activeClientByPlayer[playerID]; ok && oldClientID != clientID {
		if oldClient, ok := s.clients[oldClientID]; ok {
			oldClient.playerID = ""
			select {
			case oldClient.queue <- outboundMessage{
				close:       true,
				closeCode:   CloseCodeSuperseded,
				closeReason: "superseded by new connection",
			}:
			default:
			}
		}
	}

	if client, ok := s.clients[clientID]; ok {
		if previous := client.playerID; previous != "" && previous != playerID {
			delete(s.activeClientByPlayer, previous)
		}
		client.playerID = playerID
	}
	s.activeClientByPlayer[playerID] = clientID
}

func (s *Server) ensureHostAssigned(preferredPlayerID string) {
	if host, ok := s.lobbyMembers[s.hostID]; ok && host.connected {
		return
	}
	if preferred, ok := s.lobbyMembers[preferredPlayerID]; ok && preferred.connected {
		s.hostID = preferredPlayerID
		return
	}
	s.hostID = s.chooseNextHost()
}

// chooseNextHost elects the connected member with the lowest numeric id
// suffix, or nobody.
func (s *Server) chooseNextHost() string {
	best := ""
	var bestKey uint64
	for _, member := range s.lobbyMembers {
		if !member.connected {
			continue
		}
		key := playerOrderKey(member.id)
		if best == "" || key < bestKey {
			best = member.id
			bestKey = key
		}
	}
	return best
}

func (s *Server) findPlayerIDByToken(token string) (string, bool) {
	for _, member := range s.lobbyMembers {
		if member.reconnectToken == token {
			return member.id, true
		}
	}
	return "", false
}

// sortedMembers returns lobby members in a stable name order for broadcast
// payloads and per-member sends.
func (s *Server) sortedMembers() []*lobbyMember {
	members := make([]*lobbyMember, 0, len(s.lobbyMembers))
	for _, member := range s.lobbyMembers {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].name != members[j].name {
			return members[i].name < members[j].name
		}
		return members[i].id < members[j].id
	})
	return members
}
