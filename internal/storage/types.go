package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Text       string `msgpack:"text"`
	Kind       string `msgpack:"kind"`
	Duration   int64  `msgpack:"duration"`
	Timestamp  int64  `msgpack:"timestamp"`
	Read       bool   `msgpack:"read"`
}

// Key orders messages of one conversation by timestamp.
// Timestamps are unique per store.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Timestamp))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
