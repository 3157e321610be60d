// Package push delivers Web Push notifications for messages sent to offline
// users.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"svyaz/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const maxBodyLength = 120

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Contact for the push service, a mailto: or https: URL.
	Subscriber string
	// Link opened when the notification is clicked.
	BaseURL string
	TTL     int
}

func (c *Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func (c *Config) Validate() error {
	if c.VAPIDPublicKey == "" && c.VAPIDPrivateKey == "" {
		return nil
	}
	if !c.Enabled() {
		return errors.New("both VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required for push")
	}
	if c.Subscriber == "" {
		return errors.New("VAPID_SUBJECT is required for push")
	}
	if c.TTL <= 0 {
		c.TTL = 60
	}
	return nil
}

type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

// UserDirectory resolves sender display names for notification titles.
type UserDirectory interface {
	GetUser(id string) (models.User, bool)
}

type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url,omitempty"`
	Sender string `json:"sender"`
}

type Notifier struct {
	cfg    Config
	store  SubscriptionStore
	users  UserDirectory
	client webpush.HTTPClient
}

func NewNotifier(cfg Config, store SubscriptionStore, users UserDirectory) *Notifier {
	return &Notifier{
		cfg:    cfg,
		store:  store,
		users:  users,
		client: http.DefaultClient,
	}
}

// NotifyMessage pushes msg to every subscription of its receiver. Endpoints
// the push service reports as gone are removed.
func (n *Notifier) NotifyMessage(ctx context.Context, msg models.ChatMessage) {
	subs, err := n.store.ListPushSubscriptions(msg.ReceiverID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", msg.ReceiverID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(n.payload(msg))
	if err != nil {
		slog.Error("failed to encode push payload", "error", err)
		return
	}

	for _, sub := range subs {
		if err := n.send(ctx, payload, sub); err != nil {
			slog.Warn("push notification failed", "user_id", msg.ReceiverID, "endpoint", sub.Endpoint, "error", err)
			if errors.Is(err, errGone) {
				if err := n.store.DeletePushSubscription(msg.ReceiverID, sub.Endpoint); err != nil {
					slog.Error("failed to delete push subscription", "user_id", msg.ReceiverID, "error", err)
				}
			}
		}
	}
}

var errGone = errors.New("subscription gone")

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "push service responded " + http.StatusText(e.code) + ": " + e.body
}

func (e *statusError) Is(target error) bool {
	return target == errGone && (e.code == http.StatusNotFound || e.code == http.StatusGone)
}

func (n *Notifier) send(ctx context.Context, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      n.client,
		Subscriber:      n.cfg.Subscriber,
		VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
		TTL:             n.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return nil
}

func (n *Notifier) payload(msg models.ChatMessage) Payload {
	title := msg.SenderID
	if n.users != nil {
		if u, ok := n.users.GetUser(msg.SenderID); ok && u.DisplayName != "" {
			title = u.DisplayName
		}
	}

	body := msg.Text
	if utf8.RuneCountInString(body) > maxBodyLength {
		body = string([]rune(body)[:maxBodyLength]) + "…"
	}

	return Payload{
		Title:  title,
		Body:   body,
		URL:    n.cfg.BaseURL,
		Sender: msg.SenderID,
	}
}
