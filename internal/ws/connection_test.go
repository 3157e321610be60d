package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"svyaz/internal/models"
	"svyaz/internal/presence"
)

type mockWS struct {
	readCh      chan models.ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closeOnce   sync.Once
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}

func (m *mockWS) closed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	dispatchCh chan models.ClientMessage
	leaveCh    chan presence.Conn
	// echo every dispatched event back to its connection
	echo bool
}

func newMockHub() *mockHub {
	return &mockHub{
		dispatchCh: make(chan models.ClientMessage, 10),
		leaveCh:    make(chan presence.Conn, 10),
	}
}

func (m *mockHub) Dispatch(ctx context.Context, conn presence.Conn, msg models.ClientMessage) error {
	m.dispatchCh <- msg
	if m.echo {
		conn.Send(models.ServerMessage{Type: models.ServerMessageTypeMessageSent, From: msg.SenderID})
	}
	return nil
}

func (m *mockHub) Leave(conn presence.Conn) {
	m.leaveCh <- conn
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	user := models.User{ID: "user1", DisplayName: "Alice"}

	conn := NewConnection(hub, ws, user, 0)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}
	if conn.ID() == "" {
		t.Error("Connection has no id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client -> Hub, identity is stamped from the session.
	ws.readCh <- models.ClientMessage{
		Type:       models.ClientMessageTypeSendMessage,
		SenderID:   "someone-else",
		ReceiverID: "user2",
		Text:       "hello",
	}

	select {
	case received := <-hub.dispatchCh:
		if received.Text != "hello" {
			t.Errorf("Hub received wrong text: %v", received)
		}
		if received.SenderID != user.ID || received.From != user.ID || received.UserID != user.ID {
			t.Errorf("Identity not stamped: %+v", received)
		}
		if received.FromName != "Alice" {
			t.Errorf("Expected display name Alice, got %q", received.FromName)
		}
	case <-time.After(1 * time.Second):
		t.Error("Hub did not receive dispatched message")
	}

	// 2. Server -> Client
	if !conn.Send(models.ServerMessage{Type: models.ServerMessageTypeIncomingCall, CallID: "call1"}) {
		t.Fatal("Send rejected event on idle connection")
	}

	select {
	case received := <-ws.writeCh:
		sMsg, ok := received.(models.ServerMessage)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if sMsg.CallID != "call1" {
			t.Errorf("WS received wrong event: %v", sMsg)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server message")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case left := <-hub.leaveCh:
		if left.ID() != conn.ID() {
			t.Errorf("Expected Leave with %s, got %s", conn.ID(), left.ID())
		}
	default:
		t.Error("Leave not called")
	}

	if !ws.closed() {
		t.Error("WS Close not called")
	}

	if conn.Send(models.ServerMessage{Type: models.ServerMessageTypeCallEnded}) {
		t.Error("Send accepted event after connection closed")
	}
}

func TestConnection_EchoToSelf(t *testing.T) {
	hub := newMockHub()
	hub.echo = true
	ws := newMockWS()

	conn := NewConnection(hub, ws, models.User{ID: "user1"}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Handle(ctx)

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeSendMessage, ReceiverID: "user2", Text: "hi"}

	select {
	case received := <-ws.writeCh:
		sMsg := received.(models.ServerMessage)
		if sMsg.Type != models.ServerMessageTypeMessageSent || sMsg.From != "user1" {
			t.Errorf("Unexpected echo: %+v", sMsg)
		}
	case <-time.After(1 * time.Second):
		t.Error("Echo was not written")
	}
}

func TestConnection_SendFullQueue(t *testing.T) {
	conn := NewConnection(newMockHub(), newMockWS(), models.User{ID: "user1"}, 2)

	for i := 0; i < 2; i++ {
		if !conn.Send(models.ServerMessage{Type: models.ServerMessageTypeICECandidate}) {
			t.Fatalf("Send %d rejected", i)
		}
	}
	if conn.Send(models.ServerMessage{Type: models.ServerMessageTypeICECandidate}) {
		t.Error("Send to full queue should be dropped")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, models.User{ID: "user2"}, 0)

	// Simulate ReadJSON error immediately
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed() {
		t.Error("WS Close not called")
	}

	select {
	case <-hub.leaveCh:
	default:
		t.Error("Leave not called")
	}
}
