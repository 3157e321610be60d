package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"svyaz/internal/hub"
	"svyaz/internal/models"
	"svyaz/internal/presence"

	"github.com/google/uuid"
)

const DefaultOutboundBuffer = 64

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Dispatch(ctx context.Context, conn presence.Conn, msg models.ClientMessage) error
	Leave(conn presence.Conn)
}

// Connection is one authenticated websocket client. It implements
// presence.Conn: the hub queues events with Send and the connection writes
// them in order.
type Connection struct {
	id          string
	ws          wsConnection
	hub         messageHub
	userID      string
	displayName string
	fromClient  chan models.ClientMessage
	fromServer  chan models.ServerMessage
	errorCh     chan error
	done        chan struct{}
	closeOnce   sync.Once
}

var _ presence.Conn = (*Connection)(nil)

func NewConnection(
	hub messageHub,
	ws wsConnection,
	user models.User,
	bufferSize int,
) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultOutboundBuffer
	}
	return &Connection{
		id:          uuid.NewString(),
		ws:          ws,
		hub:         hub,
		userID:      user.ID,
		displayName: user.DisplayName,
		fromClient:  make(chan models.ClientMessage),
		fromServer:  make(chan models.ServerMessage, bufferSize),
		errorCh:     make(chan error, 2),
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserID() string {
	return c.userID
}

// Send queues msg without blocking. It reports false when the queue is full
// or the connection is gone.
func (c *Connection) Send(msg models.ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.fromServer <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		c.closeOnce.Do(func() { close(c.done) })
		c.hub.Leave(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(ctx, msg)
		case msg := <-c.fromServer:
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage stamps the authenticated identity on the event before
// it reaches the hub. A failed event never closes the connection.
func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) {
	msg.UserID = c.userID
	msg.SenderID = c.userID
	msg.From = c.userID
	if msg.FromName == "" {
		msg.FromName = c.displayName
	}

	if err := c.hub.Dispatch(ctx, c, msg); err != nil {
		if errors.Is(err, hub.ErrPersistence) {
			slog.Error("event failed", "conn_id", c.id, "user_id", c.userID, "type", msg.Type, "error", err)
			return
		}
		slog.Debug("event rejected", "conn_id", c.id, "user_id", c.userID, "type", msg.Type, "error", err)
	}
}
