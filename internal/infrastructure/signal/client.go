package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/retry"

	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ClientConfig carries the relay connection settings.
type ClientConfig struct {
	URL           string
	Token         string
	DialTimeout   time.Duration
	RedialBackoff time.Duration
	RedialMax     int
	WriteTimeout  time.Duration
}

// Client is the WebSocket signaling adapter. It dials the relay, pumps
// inbound messages to the registered event handlers, and redials with
// backoff when the connection drops unexpectedly.
type Client struct {
	config ClientConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	events ports.SignalingEvents
	closed bool

	writeMu sync.Mutex

	logger *zap.SugaredLogger
}

func NewClient(config ClientConfig, logger *zap.SugaredLogger) *Client {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &Client{config: config, logger: logger}
}

// Handle registers the inbound event handlers. Must be called before
// Connect.
func (c *Client) Handle(events ports.SignalingEvents) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Connect dials the relay and starts the read pump.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	c.logger.Infow("connected to relay", "url", c.config.URL)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, header)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			events := c.events
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warnw("relay connection lost", "error", err)
			if events.OnTransportDown != nil {
				events.OnTransportDown()
			}
			go c.redial()
			return
		}
		c.dispatch(msg)
	}
}

// redial re-establishes the relay connection with exponential backoff.
// Success fires OnTransportUp; exhaustion leaves the grace timer to decide
// the session's fate.
func (c *Client) redial() {
	cfg := retry.Config{
		MaxAttempts:  c.config.RedialMax,
		InitialDelay: c.config.RedialBackoff,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}

	err := retry.Do(context.Background(), cfg, func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
		defer cancel()
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warnw("relay redial failed", "error", err)
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		events := c.events
		c.mu.Unlock()

		go c.readLoop(conn)
		c.logger.Infow("relay connection re-established")
		if events.OnTransportUp != nil {
			events.OnTransportUp()
		}
		return nil
	})
	if err != nil {
		c.logger.Errorw("relay redial exhausted", "error", err)
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	switch msg.Type {
	case TypeParticipants:
		if events.OnParticipants == nil {
			return
		}
		participants := make([]domain.VoiceParticipant, 0, len(msg.Participants))
		for _, p := range msg.Participants {
			participants = append(participants, domain.VoiceParticipant{
				UserID:   p.UserID,
				Username: p.Username,
				IsMuted:  p.IsMuted,
			})
		}
		events.OnParticipants(participants)
	case TypeUserJoined:
		if events.OnUserJoined != nil {
			events.OnUserJoined(msg.UserID, msg.Username)
		}
	case TypeUserLeft:
		if events.OnUserLeft != nil {
			events.OnUserLeft(msg.UserID)
		}
	case TypeOffer:
		if events.OnOffer != nil && msg.Offer != nil {
			events.OnOffer(msg.FromUserID, *msg.Offer)
		}
	case TypeAnswer:
		if events.OnAnswer != nil && msg.Answer != nil {
			events.OnAnswer(msg.FromUserID, *msg.Answer)
		}
	case TypeICECandidate:
		if events.OnICECandidate != nil && msg.Candidate != nil {
			events.OnICECandidate(msg.FromUserID, *msg.Candidate)
		}
	case TypeMuteChanged:
		if events.OnMuteChanged != nil && msg.IsMuted != nil {
			events.OnMuteChanged(msg.UserID, *msg.IsMuted)
		}
	case TypeHeartbeat:
		if events.OnHeartbeat != nil {
			events.OnHeartbeat(msg.UserID, snapshotFromWire(msg.ConnectionStates))
		}
	case TypeConnectionFailed:
		if events.OnConnectionFailed != nil {
			events.OnConnectionFailed(msg.FromUserID)
		}
	case TypeReconnectRequested:
		if events.OnReconnectRequested != nil {
			events.OnReconnectRequested(msg.FromUserID, msg.TargetUserID)
		}
	default:
		c.logger.Debugw("unknown message type ignored", "type", msg.Type)
	}
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return domain.ErrTransportDown
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) JoinVoice(ctx context.Context, roomID, userID, username string) error {
	return c.send(Message{Type: TypeJoinVoice, RoomID: roomID, UserID: userID, Username: username})
}

func (c *Client) LeaveVoice(ctx context.Context, roomID, userID string) error {
	return c.send(Message{Type: TypeLeaveVoice, RoomID: roomID, UserID: userID})
}

func (c *Client) RequestParticipants(ctx context.Context, roomID string) error {
	return c.send(Message{Type: TypeRequestParticipants, RoomID: roomID})
}

func (c *Client) SendOffer(ctx context.Context, roomID, fromUserID, targetUserID string, offer webrtc.SessionDescription) error {
	return c.send(Message{Type: TypeOffer, RoomID: roomID, FromUserID: fromUserID, TargetUserID: targetUserID, Offer: &offer})
}

func (c *Client) SendAnswer(ctx context.Context, roomID, fromUserID, targetUserID string, answer webrtc.SessionDescription) error {
	return c.send(Message{Type: TypeAnswer, RoomID: roomID, FromUserID: fromUserID, TargetUserID: targetUserID, Answer: &answer})
}

func (c *Client) SendICECandidate(ctx context.Context, roomID, fromUserID, targetUserID string, candidate webrtc.ICECandidateInit) error {
	return c.send(Message{Type: TypeICECandidate, RoomID: roomID, FromUserID: fromUserID, TargetUserID: targetUserID, Candidate: &candidate})
}

func (c *Client) SendMuteChanged(ctx context.Context, roomID, userID string, isMuted bool) error {
	return c.send(Message{Type: TypeMuteChanged, RoomID: roomID, UserID: userID, IsMuted: &isMuted})
}

func (c *Client) SendHeartbeat(ctx context.Context, roomID, userID string, states domain.HealthSnapshot) error {
	return c.send(Message{Type: TypeHeartbeat, RoomID: roomID, UserID: userID, ConnectionStates: snapshotToWire(states)})
}

func (c *Client) SendConnectionFailed(ctx context.Context, roomID, fromUserID string) error {
	return c.send(Message{Type: TypeConnectionFailed, RoomID: roomID, FromUserID: fromUserID})
}

func (c *Client) SendReconnectRequest(ctx context.Context, roomID, fromUserID, targetUserID string) error {
	return c.send(Message{Type: TypeReconnectRequested, RoomID: roomID, FromUserID: fromUserID, TargetUserID: targetUserID})
}

// Close shuts the connection down for good. The read pump sees the closed
// flag and does not report a transport loss.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
