// Package server is the session layer: it binds websocket connections to
// lobby identities, runs the fixed tick loop over the engine, and fans
// snapshots out to clients through bounded per-connection queues.
package server

import (
	"context"
	"crypto/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/GridStation/PelletRush/pkg/engine"
	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/ping"
	"github.com/GridStation/PelletRush/pkg/ranking"
)

// CloseCodeSuperseded is sent when a newer connection claims a player.
const CloseCodeSuperseded = 4001

// outboundQueueSize bounds each client's pending frames.
const outboundQueueSize = 256

var nextSeqID atomic.Uint64

// Config holds server configuration.
type Config struct {
	Addr        string
	RankingPath string
	StaticDir   string
}

// queuePolicy decides what happens when a client's outbound queue is full.
type queuePolicy int

const (
	// dropOnFull silently drops the frame; used for state snapshots, where
	// a stale frame is worthless anyway.
	dropOnFull queuePolicy = iota
	// disconnectOnFull closes the connection; losing an event frame
	// desyncs the client beyond repair.
	disconnectOnFull
)

// outboundMessage is one queued frame. A close frame terminates the writer
// after it is sent.
type outboundMessage struct {
	payload     []byte
	close       bool
	closeCode   int
	closeReason string
}

type clientContext struct {
	queue    chan outboundMessage
	playerID string
}

type lobbyMember struct {
	id             string
	name           string
	connected      bool
	ai             bool
	spectator      bool
	reconnectToken string
}

// Server owns the shared session state behind one mutex. Handlers and the
// tick loop mutate it synchronously; the lock is never held across network
// I/O because sends only enqueue into per-client channels.
type Server struct {
	config Config
	log    zerolog.Logger

	mu                   sync.Mutex
	clients              map[string]*clientContext
	lobbyMembers         map[string]*lobbyMember
	activeClientByPlayer map[string]string
	hostID               string
	game                 *engine.Engine
	runningAICount       int
	rankingStore         *ranking.Store
	pingBuffer           *ping.Buffer

	upgrader websocket.Upgrader
}

// New creates a server, loading the ranking store from disk.
func New(config Config, log zerolog.Logger) *Server {
	return &Server{
		config:               config,
		log:                  log,
		clients:              make(map[string]*clientContext),
		lobbyMembers:         make(map[string]*lobbyMember),
		activeClientByPlayer: make(map[string]string),
		rankingStore:         ranking.NewStore(config.RankingPath, log),
		pingBuffer:           ping.NewBuffer(ping.DefaultOptions()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP mux: health, ranking, websocket upgrade, and the
// static fallback.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/ranking", s.handleRanking)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", s.staticHandler())
	return mux
}

// RunTicker drives the simulation until the context is cancelled.
func (s *Server) RunTicker(ctx context.Context) error {
	ticker := time.NewTicker(game.TickMS * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.tickGame()
			s.mu.Unlock()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	clientID := uuid.NewString()
	queue := s.registerClient(clientID)

	go s.writerPump(conn, queue)
	s.readerPump(conn, clientID)
}

// registerClient creates the client context and returns its outbound queue.
func (s *Server) registerClient(clientID string) chan outboundMessage {
	queue := make(chan outboundMessage, outboundQueueSize)
	s.mu.Lock()
	s.clients[clientID] = &clientContext{queue: queue}
	s.mu.Unlock()
	return queue
}

// writerPump drains the outbound queue in FIFO order. It exits when the
// queue closes or after a close frame is flushed.
func (s *Server) writerPump(conn *websocket.Conn, queue chan outboundMessage) {
	defer conn.Close()
	for outbound := range queue {
		if outbound.close {
			message := websocket.FormatCloseMessage(outbound.closeCode, outbound.closeReason)
			_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, outbound.payload); err != nil {
			return
		}
	}
}

// readerPump processes inbound frames until the socket closes or an
// unrecoverable frame arrives.
func (s *Server) readerPump(conn *websocket.Conn, clientID string) {
	defer func() {
		s.mu.Lock()
		s.disconnectClient(clientID, true)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			s.handleClientMessage(clientID, raw)
		case websocket.BinaryMessage:
			// Binary frames are accepted when they carry valid UTF-8 text.
			if utf8.Valid(raw) {
				s.handleClientMessage(clientID, raw)
			} else {
				s.sendErrorToClient(clientID, "invalid utf8 message")
			}
		}
	}
}

func makeID(prefix string) string {
	return prefix + "_" + strconv.FormatUint(nextSeqID.Add(1), 10)
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// makeReconnectToken mints the 48-character secret a client uses to reclaim
// its lobby identity.
func makeReconnectToken() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		// Extremely unlikely; fall back to a uuid pair rather than panic.
		return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:48]
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}

// playerOrderKey sorts player ids by their numeric suffix; ids without one
// sort last.
func playerOrderKey(playerID string) uint64 {
	idx := strings.LastIndex(playerID, "_")
	if idx < 0 || idx == len(playerID)-1 {
		return ^uint64(0)
	}
	value, err := strconv.ParseUint(playerID[idx+1:], 10, 64)
	if err != nil {
		return ^uint64(0)
	}
	return value
}

func sanitizeName(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "Player"
	}
	runes := []rune(trimmed)
	if len(runes) > 16 {
		runes = runes[:16]
	}
	return string(runes)
}

// isSupportedRoom accepts a missing room id or "main", case-insensitively.
func isSupportedRoom(roomID *string) bool {
	if roomID == nil {
		return true
	}
	return strings.ToLower(strings.TrimSpace(*roomID)) == "main"
}

func normalizeAICount(value *int64) int {
	if value == nil {
		return 0
	}
	count := *value
	if count < 0 {
		count = 0
	}
	if count > 100 {
		count = 100
	}
	return int(count)
}

// normalizeTimeLimitMS clamps the requested minutes to 1..10.
func normalizeTimeLimitMS(value *int64) uint64 {
	if value == nil {
		return 0
	}
	minutes := *value
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 10 {
		minutes = 10
	}
	return uint64(minutes) * 60_000
}
