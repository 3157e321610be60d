package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"svyaz/internal/calls"
	"svyaz/internal/content"
	"svyaz/internal/metrics"
	"svyaz/internal/models"
	"svyaz/internal/presence"
)

// initiate creates a ringing session when the callee is online and hands it
// the offer. Nothing is created for an offline callee, and the session is
// dropped again when the callee's connection cannot take the offer.
func (h *Hub) initiate(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	caller := h.requester(conn, msg.From)
	callee := msg.To
	if caller == "" || callee == "" || caller == callee {
		h.metrics.CallEvent(metrics.CallFailed)
		return []Outbound{callFailed(conn, "", callee, ReasonInvalid)}, fmt.Errorf("%w: call from %q to %q", ErrInvalidEvent, caller, callee)
	}

	calleeConn, ok := h.presence.Resolve(callee)
	if !ok {
		h.metrics.CallEvent(metrics.CallFailed)
		return []Outbound{callFailed(conn, "", callee, ReasonCalleeOffline)}, ErrCalleeOffline
	}

	session, err := h.calls.Create(caller, callee, content.SanitizeName(msg.FromName), msg.IsVideo, h.now(), h.cfg.StrictPairCalls)
	if err != nil {
		h.metrics.CallEvent(metrics.CallFailed)
		if errors.Is(err, calls.ErrPairBusy) {
			return []Outbound{callFailed(conn, "", callee, ReasonBusy)}, err
		}
		return []Outbound{callFailed(conn, "", callee, ReasonInvalid)}, err
	}
	h.metrics.CallEvent(metrics.CallInitiated)
	h.metrics.SetActiveCalls(h.calls.Count())

	out := []Outbound{
		reply(conn, models.ServerMessage{
			Type:    models.ServerMessageTypeCallInitiated,
			CallID:  session.ID,
			To:      callee,
			IsVideo: session.IsVideo,
		}),
		{
			Conn: calleeConn,
			Msg: models.ServerMessage{
				Type:     models.ServerMessageTypeIncomingCall,
				CallID:   session.ID,
				From:     caller,
				FromName: session.CallerName,
				Offer:    msg.Offer,
				IsVideo:  session.IsVideo,
			},
			Undelivered: func() []Outbound { return h.unreachableCallee(conn, session) },
		},
	}

	slog.Info("call initiated", "call_id", session.ID, "caller", caller, "callee", callee, "video", session.IsVideo)
	return out, nil
}

// unreachableCallee removes a session whose callee never got the offer.
func (h *Hub) unreachableCallee(caller presence.Conn, session calls.Session) []Outbound {
	if _, ok := h.calls.Remove(session.ID); !ok {
		return nil
	}
	h.metrics.CallEvent(metrics.CallFailed)
	h.metrics.SetActiveCalls(h.calls.Count())
	slog.Info("callee unreachable", "call_id", session.ID, "callee", session.Other(session.CallerID))
	return []Outbound{callFailed(caller, session.ID, session.Other(session.CallerID), ReasonCalleeOffline)}
}

// participant returns the session when userID takes part in it. A session
// that exists but belongs to others is reported as ErrCallNotFound.
func (h *Hub) participant(callID, userID string) (calls.Session, bool, error) {
	session, ok := h.calls.Get(callID)
	if !ok {
		return calls.Session{}, false, nil
	}
	if !session.Has(userID) {
		h.metrics.CallEvent(metrics.CallFailed)
		return calls.Session{}, false, fmt.Errorf("%w: %s is not in %s", ErrCallNotFound, userID, callID)
	}
	return session, true, nil
}

// answer activates the session and forwards the answer to the caller. Without
// a session the answer still goes to the "to" user.
func (h *Hub) answer(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	answerer := h.requester(conn, msg.From)
	target := msg.To
	_, ok, err := h.participant(msg.CallID, answerer)
	if err != nil {
		return []Outbound{callFailed(conn, msg.CallID, "", ReasonCallNotFound)}, err
	}
	if ok {
		if session, ok := h.calls.Answer(msg.CallID, h.now()); ok {
			target = session.CallerID
			h.metrics.CallEvent(metrics.CallAnswered)
			slog.Info("call answered", "call_id", session.ID)
		}
	}

	return h.appendTo(nil, target, models.ServerMessage{
		Type:   models.ServerMessageTypeCallAnswered,
		CallID: msg.CallID,
		From:   answerer,
		Answer: msg.Answer,
	}), nil
}

func (h *Hub) decline(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	decliner := h.requester(conn, msg.From)
	target := msg.To
	if msg.CallID != "" {
		_, ok, err := h.participant(msg.CallID, decliner)
		if err != nil {
			return []Outbound{callFailed(conn, msg.CallID, "", ReasonCallNotFound)}, err
		}
		if ok {
			if session, ok := h.calls.Remove(msg.CallID); ok {
				target = session.Other(decliner)
				h.metrics.CallEvent(metrics.CallDeclined)
				h.metrics.SetActiveCalls(h.calls.Count())
				slog.Info("call declined", "call_id", session.ID)
			}
		}
	}

	return h.appendTo(nil, target, models.ServerMessage{
		Type:   models.ServerMessageTypeCallDeclined,
		CallID: msg.CallID,
		From:   decliner,
	}), nil
}

// end removes the session. An answered call leaves a call record from the
// caller to the other participant, pushed to both. The end notice goes to the
// other participant, or to the "to" user when there is no session.
func (h *Hub) end(ctx context.Context, conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	ender := h.requester(conn, msg.From)
	target := msg.To

	if _, _, err := h.participant(msg.CallID, ender); err != nil {
		return []Outbound{callFailed(conn, msg.CallID, "", ReasonCallNotFound)}, err
	}

	var out []Outbound
	var persistErr error

	// Removing first makes concurrent ends of the same call produce one record.
	session, ok := h.calls.Remove(msg.CallID)
	if ok {
		h.metrics.CallEvent(metrics.CallEnded)
		h.metrics.SetActiveCalls(h.calls.Count())
		target = session.Other(ender)

		if session.StartTime != nil {
			record, err := h.saveCallRecord(ctx, session)
			if err != nil {
				persistErr = err
			} else {
				for _, p := range session.Participants {
					out = h.appendTo(out, p, models.ServerMessage{
						Type:    models.ServerMessageTypeCallMessage,
						CallID:  session.ID,
						Message: &record,
					})
				}
			}
		}
		slog.Info("call ended", "call_id", session.ID, "answered", session.StartTime != nil)
	}

	out = h.appendTo(out, target, models.ServerMessage{
		Type:   models.ServerMessageTypeCallEnded,
		CallID: msg.CallID,
		From:   ender,
	})
	return out, persistErr
}

func (h *Hub) saveCallRecord(ctx context.Context, session calls.Session) (models.ChatMessage, error) {
	label := h.cfg.AudioCallLabel
	if session.IsVideo {
		label = h.cfg.VideoCallLabel
	}

	record, err := h.store.CreateMessage(ctx, models.ChatMessage{
		SenderID:   session.CallerID,
		ReceiverID: session.Other(session.CallerID),
		Text:       label,
		Kind:       models.CallKind(session.IsVideo),
		Duration:   session.Duration(h.now()),
	})
	if err != nil {
		h.metrics.PersistenceFailed()
		slog.Error("failed to save call record", "call_id", session.ID, "error", err)
		return models.ChatMessage{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	h.metrics.MessageStored(record.Kind)
	return record, nil
}

// leave tells the peer that the user stepped away. The session stays so
// either side can rejoin.
func (h *Hub) leave(conn presence.Conn, msg models.ClientMessage) []Outbound {
	return h.appendTo(nil, msg.To, models.ServerMessage{
		Type:   models.ServerMessageTypeCallUserLeft,
		CallID: msg.CallID,
		From:   h.requester(conn, msg.From),
	})
}

func (h *Hub) rejoin(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	userID := h.requester(conn, msg.UserID)
	session, ok := h.calls.Get(msg.CallID)
	if !ok || !session.Has(userID) {
		h.metrics.CallEvent(metrics.CallFailed)
		return []Outbound{callFailed(conn, msg.CallID, "", ReasonCallNotFound)}, ErrCallNotFound
	}
	h.metrics.CallEvent(metrics.CallRejoined)

	return h.appendTo(nil, session.Other(userID), models.ServerMessage{
		Type:    models.ServerMessageTypeCallRejoinRequest,
		CallID:  session.ID,
		From:    userID,
		Offer:   msg.Offer,
		IsVideo: session.IsVideo,
	}), nil
}

// relay forwards a signaling payload to msg.To as-is.
func (h *Hub) relay(conn presence.Conn, msg models.ClientMessage, forward models.ServerMessage) []Outbound {
	forward.From = h.requester(conn, msg.From)
	return h.appendTo(nil, msg.To, forward)
}

func (h *Hub) checkActiveCall(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	userID := h.requester(conn, msg.UserID)
	if userID == "" || msg.OtherID == "" {
		return []Outbound{reply(conn, models.ServerMessage{Type: models.ServerMessageTypeNoActiveCall})}, nil
	}

	session, ok := h.calls.Find(userID, msg.OtherID)
	if !ok {
		return []Outbound{reply(conn, models.ServerMessage{
			Type: models.ServerMessageTypeNoActiveCall,
			To:   msg.OtherID,
		})}, nil
	}

	return []Outbound{reply(conn, models.ServerMessage{
		Type:    models.ServerMessageTypeActiveCallFound,
		CallID:  session.ID,
		IsVideo: session.IsVideo,
		Call:    session.Info(),
	})}, nil
}

func callFailed(conn presence.Conn, callID, to, reason string) Outbound {
	return reply(conn, models.ServerMessage{
		Type:   models.ServerMessageTypeCallFailed,
		CallID: callID,
		To:     to,
		Reason: reason,
	})
}
