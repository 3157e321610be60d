// Package hub coordinates presence, point-to-point messaging and call
// signaling between connected users.
//
// Every inbound event is handled against the presence and call registries and
// produces a list of outbound notifications. Handle computes that list and
// Dispatch also delivers it, so tests can assert on notifications without a
// transport.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"svyaz/internal/calls"
	"svyaz/internal/metrics"
	"svyaz/internal/models"
	"svyaz/internal/presence"
)

var (
	ErrCalleeOffline     = errors.New("callee offline")
	ErrCallNotFound      = errors.New("call not found")
	ErrPersistence       = errors.New("persistence failed")
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrUnknownSender     = errors.New("sender identity unknown")
	ErrInvalidEvent      = errors.New("invalid event")
)

// Reasons carried by call-failed and message-failed notifications.
const (
	ReasonCalleeOffline = "callee offline"
	ReasonCallNotFound  = "call not found"
	ReasonBusy          = "busy"
	ReasonInvalid       = "invalid request"
	ReasonNotSaved      = "message could not be saved"
)

const (
	DefaultAudioCallLabel = "Audio call"
	DefaultVideoCallLabel = "Video call"
)

// MessageStore persists chat messages. It assigns id and timestamp.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
}

// Notifier is told about messages whose receiver was offline.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg models.ChatMessage)
}

type Config struct {
	// Text of persisted call records.
	AudioCallLabel string
	VideoCallLabel string
	// Reject call-initiate while the pair already has a session.
	StrictPairCalls bool
}

// Outbound is one notification addressed to a live connection.
type Outbound struct {
	Conn presence.Conn
	Msg  models.ServerMessage
	// Undelivered runs when Conn could not queue Msg. The notifications it
	// returns are delivered in its place.
	Undelivered func() []Outbound
}

type Hub struct {
	cfg      Config
	presence *presence.Registry
	calls    *calls.Registry
	store    MessageStore
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	// Held across a presence mutation and the delivery of its broadcast so
	// every connection sees broadcasts in mutation order.
	broadcastMu sync.Mutex
}

type Option func(*Hub)

func WithNotifier(n Notifier) Option {
	return func(h *Hub) { h.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(cfg Config, presenceRegistry *presence.Registry, callRegistry *calls.Registry, store MessageStore, opts ...Option) *Hub {
	if cfg.AudioCallLabel == "" {
		cfg.AudioCallLabel = DefaultAudioCallLabel
	}
	if cfg.VideoCallLabel == "" {
		cfg.VideoCallLabel = DefaultVideoCallLabel
	}

	h := &Hub{
		cfg:      cfg,
		presence: presenceRegistry,
		calls:    callRegistry,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Presence() *presence.Registry {
	return h.presence
}

func (h *Hub) Calls() *calls.Registry {
	return h.calls
}

// Handle applies one inbound event from conn to the registries and returns
// the notifications it produced. The returned error describes why the event
// failed; notifications telling the client about it are still returned.
func (h *Hub) Handle(ctx context.Context, conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	switch msg.Type {
	case models.ClientMessageTypeAnnounceOnline:
		return h.announce(conn, msg)
	case models.ClientMessageTypeSendMessage:
		return h.sendMessage(ctx, conn, msg)
	case models.ClientMessageTypeCallInitiate:
		return h.initiate(conn, msg)
	case models.ClientMessageTypeCallAnswer:
		return h.answer(conn, msg)
	case models.ClientMessageTypeCallDecline:
		return h.decline(conn, msg)
	case models.ClientMessageTypeCallEnd:
		return h.end(ctx, conn, msg)
	case models.ClientMessageTypeCallLeave:
		return h.leave(conn, msg), nil
	case models.ClientMessageTypeCallRejoin:
		return h.rejoin(conn, msg)
	case models.ClientMessageTypeCallRejoinAnswer:
		return h.relay(conn, msg, models.ServerMessage{
			Type:   models.ServerMessageTypeCallRejoined,
			CallID: msg.CallID,
			Answer: msg.Answer,
		}), nil
	case models.ClientMessageTypeICECandidate:
		return h.relay(conn, msg, models.ServerMessage{
			Type:      models.ServerMessageTypeICECandidate,
			CallID:    msg.CallID,
			Candidate: msg.Candidate,
		}), nil
	case models.ClientMessageTypeVideoRenegotiate:
		return h.relay(conn, msg, models.ServerMessage{
			Type:   models.ServerMessageTypeVideoRenegotiate,
			CallID: msg.CallID,
			Offer:  msg.Offer,
		}), nil
	case models.ClientMessageTypeVideoRenegotiateAnswer:
		return h.relay(conn, msg, models.ServerMessage{
			Type:   models.ServerMessageTypeVideoRenegotiateAnswer,
			CallID: msg.CallID,
			Answer: msg.Answer,
		}), nil
	case models.ClientMessageTypeCheckActiveCall:
		return h.checkActiveCall(conn, msg)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, msg.Type)
	}
}

// Dispatch handles the event and delivers the resulting notifications.
func (h *Hub) Dispatch(ctx context.Context, conn presence.Conn, msg models.ClientMessage) error {
	if msg.Type == models.ClientMessageTypeAnnounceOnline {
		h.broadcastMu.Lock()
		defer h.broadcastMu.Unlock()
	}
	out, err := h.Handle(ctx, conn, msg)
	h.Deliver(out)
	return err
}

// Deliver sends notifications without blocking. Events a connection could
// not queue are dropped.
func (h *Hub) Deliver(out []Outbound) {
	for _, o := range out {
		if o.Conn.Send(o.Msg) {
			continue
		}
		slog.Debug("dropped outbound event", "conn_id", o.Conn.ID(), "type", o.Msg.Type)
		if o.Undelivered != nil {
			h.Deliver(o.Undelivered())
		}
	}
}

// requester returns the identity conn acts for. An announced identity always
// wins over the one claimed in the event.
func (h *Hub) requester(conn presence.Conn, claimed string) string {
	if id, ok := h.presence.UserOf(conn.ID()); ok {
		return id
	}
	return claimed
}

// to addresses msg to the live connection of userID. Unreachable targets are
// dropped and counted.
func (h *Hub) to(userID string, msg models.ServerMessage) (Outbound, bool) {
	if userID == "" {
		return Outbound{}, false
	}
	conn, ok := h.presence.Resolve(userID)
	if !ok {
		h.metrics.SignalDropped(msg.Type)
		slog.Debug("target offline", "user_id", userID, "type", msg.Type, "error", ErrTargetUnreachable)
		return Outbound{}, false
	}
	return Outbound{Conn: conn, Msg: msg}, true
}

func (h *Hub) appendTo(out []Outbound, userID string, msg models.ServerMessage) []Outbound {
	if o, ok := h.to(userID, msg); ok {
		out = append(out, o)
	}
	return out
}

func reply(conn presence.Conn, msg models.ServerMessage) Outbound {
	return Outbound{Conn: conn, Msg: msg}
}

func (h *Hub) Stats() models.Stats {
	return models.Stats{
		OnlineUsers: h.presence.OnlineUsers(),
		ActiveCalls: h.calls.Count(),
	}
}
