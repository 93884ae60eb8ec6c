package signal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// relayClient is one connected node on the relay side.
type relayClient struct {
	conn     *websocket.Conn
	userID   string
	username string
	roomID   string
	limiter  *rate.Limiter
	writeMu  sync.Mutex
}

func (c *relayClient) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// ServerConfig carries relay tuning knobs.
type ServerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MessagesPerSecond bounds each connection's inbound rate.
	MessagesPerSecond float64
	MessageBurst      int
}

// Server is the reference signaling relay. It keeps room membership, routes
// negotiation traffic between nodes, and broadcasts presence changes. It
// never inspects SDP or candidates; it is a pure forwarder.
type Server struct {
	config  ServerConfig
	roster  ports.RosterRepository
	auth    *services.AuthService
	metrics *monitoring.RelayCollector

	mu      sync.RWMutex
	rooms   map[string]map[string]*relayClient
	clients map[*relayClient]struct{}

	logger *zap.SugaredLogger
}

func NewServer(
	config ServerConfig,
	roster ports.RosterRepository,
	auth *services.AuthService,
	metrics *monitoring.RelayCollector,
	logger *zap.SugaredLogger,
) *Server {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = 50
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = 100
	}
	return &Server{
		config:  config,
		roster:  roster,
		auth:    auth,
		metrics: metrics,
		rooms:   make(map[string]map[string]*relayClient),
		clients: make(map[*relayClient]struct{}),
		logger:  logger,
	}
}

// HandleWebSocket upgrades the request and pumps messages until the
// connection dies.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if _, err := s.authenticate(r); err != nil {
			s.logger.Warnw("websocket auth failed", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &relayClient{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.MessageBurst),
	}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	connectionCount := len(s.clients)
	s.mu.Unlock()
	s.reportGauges(connectionCount)

	s.logger.Infow("node connected", "remote", r.RemoteAddr, "connections", connectionCount)

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !client.limiter.Allow() {
				if s.metrics != nil {
					s.metrics.IncRateLimited()
				}
				s.logger.Warnw("message rate limited", "user_id", client.userID, "type", msg.Type)
				continue
			}
			if s.metrics != nil {
				s.metrics.ObserveMessage(msg.Type, approxMessageSize(msg))
			}
			if err := s.handleMessage(context.Background(), client, msg); err != nil {
				s.logger.Infow("error handling message", "user_id", client.userID, "type", msg.Type, "error", err)
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "user_id", client.userID, "error", err)
				s.disconnect(client)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "user_id", client.userID, "error", err)
			}
			s.disconnect(client)
			return
		}
	}
}

func (s *Server) authenticate(r *http.Request) (*services.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	return s.auth.ValidateToken(token)
}

func (s *Server) handleMessage(ctx context.Context, client *relayClient, msg Message) error {
	switch msg.Type {
	case TypeJoinVoice:
		return s.handleJoin(ctx, client, msg)
	case TypeLeaveVoice:
		return s.handleLeave(ctx, client)
	case TypeRequestParticipants:
		return s.handleRequestParticipants(ctx, client, msg)
	case TypeMuteChanged:
		return s.handleMuteChanged(ctx, client, msg)
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeReconnectRequested:
		return s.forward(client, msg)
	case TypeHeartbeat, TypeConnectionFailed:
		return s.broadcast(client, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *Server) handleJoin(ctx context.Context, client *relayClient, msg Message) error {
	if msg.RoomID == "" || msg.UserID == "" {
		return fmt.Errorf("roomId and userId are required")
	}

	s.mu.Lock()
	// A rejoin after transport recovery replaces the stale entry.
	if old, ok := s.rooms[msg.RoomID][msg.UserID]; ok && old != client {
		delete(s.clients, old)
		old.conn.Close()
	}
	client.roomID = msg.RoomID
	client.userID = msg.UserID
	client.username = msg.Username
	room, ok := s.rooms[msg.RoomID]
	if !ok {
		room = make(map[string]*relayClient)
		s.rooms[msg.RoomID] = room
	}
	room[msg.UserID] = client
	connectionCount := len(s.clients)
	s.mu.Unlock()
	s.reportGauges(connectionCount)

	if err := s.roster.Add(ctx, msg.RoomID, &domain.VoiceParticipant{
		UserID:   msg.UserID,
		Username: msg.Username,
	}); err != nil {
		s.logger.Warnw("failed to persist roster entry", "room_id", msg.RoomID, "user_id", msg.UserID, "error", err)
	}

	s.logger.Infow("user joined voice", "room_id", msg.RoomID, "user_id", msg.UserID)
	s.broadcastToRoom(msg.RoomID, msg.UserID, Message{
		Type:     TypeUserJoined,
		RoomID:   msg.RoomID,
		UserID:   msg.UserID,
		Username: msg.Username,
	})
	return nil
}

func (s *Server) handleLeave(ctx context.Context, client *relayClient) error {
	s.removeFromRoom(ctx, client)
	return nil
}

func (s *Server) handleRequestParticipants(ctx context.Context, client *relayClient, msg Message) error {
	roomID := msg.RoomID
	if roomID == "" {
		roomID = client.roomID
	}
	participants, err := s.roster.List(ctx, roomID)
	if err != nil && err != domain.ErrRoomNotFound {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	infos := make([]ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		infos = append(infos, ParticipantInfo{
			UserID:   p.UserID,
			Username: p.Username,
			IsMuted:  p.IsMuted,
		})
	}
	return client.send(Message{
		Type:         TypeParticipants,
		RoomID:       roomID,
		Participants: infos,
	})
}

func (s *Server) handleMuteChanged(ctx context.Context, client *relayClient, msg Message) error {
	if msg.IsMuted == nil {
		return fmt.Errorf("isMuted is required")
	}
	if err := s.roster.SetMuted(ctx, client.roomID, client.userID, *msg.IsMuted); err != nil {
		s.logger.Warnw("failed to persist mute state", "room_id", client.roomID, "user_id", client.userID, "error", err)
	}
	msg.RoomID = client.roomID
	msg.UserID = client.userID
	s.broadcastToRoom(client.roomID, client.userID, msg)
	return nil
}

// forward routes a targeted message to one node in the sender's room.
func (s *Server) forward(client *relayClient, msg Message) error {
	if msg.TargetUserID == "" {
		return fmt.Errorf("targetUserId is required for %s", msg.Type)
	}
	msg.FromUserID = client.userID
	msg.RoomID = client.roomID

	s.mu.RLock()
	target, ok := s.rooms[client.roomID][msg.TargetUserID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("target %s is not connected in room %s", msg.TargetUserID, client.roomID)
	}

	s.logger.Debugw("routing message",
		"type", msg.Type,
		"from", client.userID,
		"to", msg.TargetUserID,
		"room_id", client.roomID,
	)
	return target.send(msg)
}

// broadcast relays a room-scoped message to everyone but the sender.
func (s *Server) broadcast(client *relayClient, msg Message) error {
	msg.RoomID = client.roomID
	if msg.UserID == "" {
		msg.UserID = client.userID
	}
	if msg.FromUserID == "" {
		msg.FromUserID = client.userID
	}
	s.broadcastToRoom(client.roomID, client.userID, msg)
	return nil
}

func (s *Server) broadcastToRoom(roomID, excludeUserID string, msg Message) {
	s.mu.RLock()
	room := s.rooms[roomID]
	targets := make([]*relayClient, 0, len(room))
	for userID, c := range room {
		if userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			s.logger.Warnw("failed to broadcast", "type", msg.Type, "to", c.userID, "error", err)
		}
	}
}

func (s *Server) disconnect(client *relayClient) {
	s.removeFromRoom(context.Background(), client)

	s.mu.Lock()
	delete(s.clients, client)
	connectionCount := len(s.clients)
	s.mu.Unlock()
	s.reportGauges(connectionCount)

	s.logger.Infow("node disconnected", "user_id", client.userID, "connections", connectionCount)
}

func (s *Server) removeFromRoom(ctx context.Context, client *relayClient) {
	s.mu.Lock()
	roomID, userID := client.roomID, client.userID
	if roomID == "" || userID == "" {
		s.mu.Unlock()
		return
	}
	if room, ok := s.rooms[roomID]; ok && room[userID] == client {
		delete(room, userID)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
	client.roomID = ""
	s.mu.Unlock()

	if err := s.roster.Remove(ctx, roomID, userID); err != nil && err != domain.ErrRoomNotFound && err != domain.ErrParticipantNotFound {
		s.logger.Warnw("failed to remove roster entry", "room_id", roomID, "user_id", userID, "error", err)
	}

	s.logger.Infow("user left voice", "room_id", roomID, "user_id", userID)
	s.broadcastToRoom(roomID, userID, Message{
		Type:   TypeUserLeft,
		RoomID: roomID,
		UserID: userID,
	})
}

func (s *Server) reportGauges(connections int) {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	rooms := len(s.rooms)
	s.mu.RUnlock()
	s.metrics.SetConnectionsActive(connections)
	s.metrics.SetRoomsActive(rooms)
}

// ConnectedUsers lists the user ids currently present in a room.
func (s *Server) ConnectedUsers(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.rooms[roomID]))
	for userID := range s.rooms[roomID] {
		users = append(users, userID)
	}
	return users
}

// approxMessageSize estimates the wire size without re-marshaling.
func approxMessageSize(msg Message) int {
	size := len(msg.Type) + len(msg.RoomID) + len(msg.UserID) + len(msg.Username) +
		len(msg.FromUserID) + len(msg.TargetUserID)
	if msg.Offer != nil {
		size += len(msg.Offer.SDP)
	}
	if msg.Answer != nil {
		size += len(msg.Answer.SDP)
	}
	if msg.Candidate != nil {
		size += len(msg.Candidate.Candidate)
	}
	return size
}
