package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"svyaz/internal/auth"
	"svyaz/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketMessages          = []byte("messages")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
	// last assigned message timestamp, only touched inside Update transactions
	lastTimestamp int64
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	s := &BboltStorage{db: db, now: time.Now}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketMessages, bucketPushSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		// Resume the timestamp sequence from the newest stored message.
		return tx.Bucket(bucketMessages).ForEachBucket(func(k []byte) error {
			c := tx.Bucket(bucketMessages).Bucket(k).Cursor()
			if key, v := c.Last(); key != nil {
				var m DBMessage
				if err := m.UnmarshalBinary(v); err != nil {
					return err
				}
				if m.Timestamp > s.lastTimestamp {
					s.lastTimestamp = m.Timestamp
				}
			}
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return s, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			PasswordHash: credentials.PasswordHash,
			CreatedAt:    credentials.CreatedAt,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					CreatedAt:   dbUser.CreatedAt,
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// CreateMessage assigns an id and a store-unique, increasing timestamp to the
// message and saves it into the conversation of its two participants.
func (s *BboltStorage) CreateMessage(ctx context.Context, message models.ChatMessage) (models.ChatMessage, error) {
	if message.SenderID == "" || message.ReceiverID == "" {
		return models.ChatMessage{}, errors.New("message missing sender or receiver")
	}
	if message.Kind == "" {
		message.Kind = models.MessageKindText
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(conversationKey(message.SenderID, message.ReceiverID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		ts := s.now().UnixMilli()
		if ts <= s.lastTimestamp {
			ts = s.lastTimestamp + 1
		}

		dbMessage := DBMessage{
			ID:         uuid.NewString(),
			SenderID:   message.SenderID,
			ReceiverID: message.ReceiverID,
			Text:       message.Text,
			Kind:       string(message.Kind),
			Duration:   message.Duration,
			Timestamp:  ts,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		s.lastTimestamp = ts
		message.ID = dbMessage.ID
		message.Timestamp = ts
		message.Read = false
		return nil
	})
	if err != nil {
		return models.ChatMessage{}, err
	}

	return message, nil
}

// ListMessages returns up to limit newest messages between a and b in
// chronological order. A non-positive limit returns the whole conversation.
func (s *BboltStorage) ListMessages(a, b string, limit int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket(conversationKey(a, b))
		if convBucket == nil {
			return nil // No messages for this conversation
		}

		c := convBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(messages) >= limit {
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toMessage(dbMsg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return messages, nil
}

// MarkRead flags all messages from senderID to readerID as read and returns
// how many changed.
func (s *BboltStorage) MarkRead(readerID, senderID string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket(conversationKey(readerID, senderID))
		if convBucket == nil {
			return nil
		}

		type change struct {
			key  []byte
			data []byte
		}
		var changes []change

		err := convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.Read || dbMsg.ReceiverID != readerID || dbMsg.SenderID != senderID {
				return nil
			}
			dbMsg.Read = true
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			changes = append(changes, change{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}

		// Buckets must not be modified while iterating.
		for _, c := range changes {
			if err := convBucket.Put(c.key, c.data); err != nil {
				return err
			}
		}
		updated = len(changes)
		return nil
	})
	return updated, err
}

func (s *BboltStorage) UpsertPushSubscription(userID string, sub models.PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("push subscription missing endpoint")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubscriptions).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		dbSub := &DBPushSubscription{
			UserID:   userID,
			Endpoint: sub.Endpoint,
			P256dh:   sub.Keys.P256dh,
			Auth:     sub.Keys.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbSub.Endpoint,
				Keys: models.PushKeys{
					P256dh: dbSub.P256dh,
					Auth:   dbSub.Auth,
				},
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}

func toMessage(m DBMessage) models.ChatMessage {
	return models.ChatMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Kind:       models.MessageKind(m.Kind),
		Duration:   m.Duration,
		Timestamp:  m.Timestamp,
		Read:       m.Read,
	}
}

// conversationKey is the same for both directions of a conversation.
func conversationKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}
