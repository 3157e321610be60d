package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"svyaz/internal/auth"
	"svyaz/internal/models"
)

func TestStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	fixed := time.Unix(1700000000, 0)
	store.now = func() time.Time { return fixed }

	ctx := context.Background()

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:          "user1",
				UserName:    "alice",
				DisplayName: "Alice",
				CreatedAt:   fixed.Unix(),
			},
			PasswordHash: "hash",
		}

		if err := store.UpsertCredentials(creds); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		list, err := store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 credential, got %d", len(list))
		}
		if list[0].ID != creds.ID || list[0].PasswordHash != "hash" || list[0].DisplayName != "Alice" {
			t.Errorf("unexpected credentials: %+v", list[0])
		}
	})

	t.Run("Messages", func(t *testing.T) {
		m1, err := store.CreateMessage(ctx, models.ChatMessage{SenderID: "u1", ReceiverID: "u2", Text: "hello"})
		if err != nil {
			t.Fatalf("CreateMessage 1 failed: %v", err)
		}
		m2, err := store.CreateMessage(ctx, models.ChatMessage{SenderID: "u2", ReceiverID: "u1", Text: "world"})
		if err != nil {
			t.Fatalf("CreateMessage 2 failed: %v", err)
		}
		m3, err := store.CreateMessage(ctx, models.ChatMessage{
			SenderID:   "u1",
			ReceiverID: "u2",
			Text:       "Audio call",
			Kind:       models.MessageKindAudioCall,
			Duration:   5,
		})
		if err != nil {
			t.Fatalf("CreateMessage 3 failed: %v", err)
		}

		if m1.ID == "" || m1.ID == m2.ID {
			t.Errorf("expected distinct ids, got %q and %q", m1.ID, m2.ID)
		}
		if m1.Kind != models.MessageKindText {
			t.Errorf("expected default kind text, got %s", m1.Kind)
		}
		// Clock is frozen, timestamps must still increase.
		if !(m1.Timestamp < m2.Timestamp && m2.Timestamp < m3.Timestamp) {
			t.Errorf("timestamps not increasing: %d %d %d", m1.Timestamp, m2.Timestamp, m3.Timestamp)
		}

		msgs, err := store.ListMessages("u2", "u1", 0)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Text != "hello" || msgs[2].Duration != 5 || msgs[2].Kind != models.MessageKindAudioCall {
			t.Errorf("unexpected messages: %+v", msgs)
		}

		last, err := store.ListMessages("u1", "u2", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(last) != 2 || last[0].ID != m2.ID || last[1].ID != m3.ID {
			t.Errorf("expected last two messages, got %+v", last)
		}

		none, err := store.ListMessages("u1", "u3", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("expected empty conversation, got %d", len(none))
		}

		if _, err := store.CreateMessage(ctx, models.ChatMessage{SenderID: "u1"}); err == nil {
			t.Error("expected error for message without receiver")
		}
	})

	t.Run("MarkRead", func(t *testing.T) {
		n, err := store.MarkRead("u2", "u1")
		if err != nil {
			t.Fatalf("MarkRead failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 messages marked, got %d", n)
		}

		msgs, _ := store.ListMessages("u1", "u2", 0)
		for _, m := range msgs {
			wantRead := m.ReceiverID == "u2"
			if m.Read != wantRead {
				t.Errorf("message %s read=%v, want %v", m.ID, m.Read, wantRead)
			}
		}

		n, err = store.MarkRead("u2", "u1")
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("expected nothing left to mark, got %d", n)
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			Endpoint: "https://push.example.com/abc",
			Keys:     models.PushKeys{P256dh: "p", Auth: "a"},
		}
		if err := store.UpsertPushSubscription("u1", sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}

		subs, err := store.ListPushSubscriptions("u1")
		if err != nil {
			t.Fatalf("ListPushSubscriptions failed: %v", err)
		}
		if len(subs) != 1 || subs[0] != sub {
			t.Errorf("unexpected subscriptions: %+v", subs)
		}

		if err := store.DeletePushSubscription("u1", sub.Endpoint); err != nil {
			t.Fatalf("DeletePushSubscription failed: %v", err)
		}
		subs, _ = store.ListPushSubscriptions("u1")
		if len(subs) != 0 {
			t.Errorf("expected subscription to be deleted")
		}

		if err := store.UpsertPushSubscription("u1", models.PushSubscription{}); err == nil {
			t.Error("expected error for empty endpoint")
		}
	})
}

func TestStorage_ResumesTimestamps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "resume.db")
	fixed := time.Unix(1700000000, 0)

	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	store.now = func() time.Time { return fixed }
	first, err := store.CreateMessage(context.Background(), models.ChatMessage{SenderID: "a", ReceiverID: "b", Text: "1"})
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	reopened.now = func() time.Time { return fixed.Add(-time.Minute) }

	second, err := reopened.CreateMessage(context.Background(), models.ChatMessage{SenderID: "b", ReceiverID: "a", Text: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Timestamp <= first.Timestamp {
		t.Errorf("expected %d > %d", second.Timestamp, first.Timestamp)
	}
}
