package hub

import (
	"context"
	"fmt"
	"log/slog"

	"svyaz/internal/content"
	"svyaz/internal/models"
	"svyaz/internal/presence"
)

// sendMessage persists a text message, pushes it to the receiver when online
// and always echoes the stored copy back to the sending connection.
func (h *Hub) sendMessage(ctx context.Context, conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	sender := h.requester(conn, msg.SenderID)
	if sender == "" {
		return []Outbound{messageFailed(conn, ReasonInvalid)}, ErrUnknownSender
	}
	if msg.ReceiverID == "" {
		return []Outbound{messageFailed(conn, ReasonInvalid)}, fmt.Errorf("%w: message without receiver", ErrInvalidEvent)
	}

	text, err := content.PrepareMessage(msg.Text)
	if err != nil {
		return []Outbound{messageFailed(conn, err.Error())}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	stored, err := h.store.CreateMessage(ctx, models.ChatMessage{
		SenderID:   sender,
		ReceiverID: msg.ReceiverID,
		Text:       text,
		Kind:       models.MessageKindText,
	})
	if err != nil {
		h.metrics.PersistenceFailed()
		return []Outbound{messageFailed(conn, ReasonNotSaved)}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	h.metrics.MessageStored(stored.Kind)

	var out []Outbound
	if o, ok := h.to(stored.ReceiverID, models.ServerMessage{
		Type:    models.ServerMessageTypeNewMessage,
		Message: &stored,
	}); ok {
		out = append(out, o)
	} else if h.notifier != nil {
		go h.notifier.NotifyMessage(context.WithoutCancel(ctx), stored)
	}

	out = append(out, reply(conn, models.ServerMessage{
		Type:    models.ServerMessageTypeMessageSent,
		Message: &stored,
	}))

	slog.Debug("message stored", "message_id", stored.ID, "sender", sender, "receiver", stored.ReceiverID)
	return out, nil
}

func messageFailed(conn presence.Conn, reason string) Outbound {
	return reply(conn, models.ServerMessage{
		Type:   models.ServerMessageTypeMessageFailed,
		Reason: reason,
	})
}
