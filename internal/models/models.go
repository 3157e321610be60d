package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// User represents a user in the system.
type User struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
	Online      bool   `json:"online"`
	CreatedAt   int64  `json:"createdAt"` // Unix timestamp (seconds)
}

type MessageKind string

const (
	MessageKindText      MessageKind = "text"
	MessageKindAudioCall MessageKind = "audio_call"
	MessageKindVideoCall MessageKind = "video_call"
)

// CallKind returns the call record kind for a call with the given video flag.
func CallKind(isVideo bool) MessageKind {
	if isVideo {
		return MessageKindVideoCall
	}
	return MessageKindAudioCall
}

// ChatMessage is a persisted point-to-point message or call record.
type ChatMessage struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Text       string      `json:"text"`
	Kind       MessageKind `json:"kind,omitempty"`
	Duration   int64       `json:"duration,omitempty"` // Call duration (seconds)
	Timestamp  int64       `json:"timestamp"`          // Unix timestamp (milliseconds)
	Read       bool        `json:"read"`
}

// CallInfo describes an active call session to clients.
type CallInfo struct {
	CallID       string   `json:"callId"`
	Participants []string `json:"participants"`
	CallerID     string   `json:"callerId"`
	CallerName   string   `json:"callerName,omitempty"`
	IsVideo      bool     `json:"isVideo"`
	StartTime    *int64   `json:"startTime,omitempty"` // Unix timestamp (milliseconds), nil until answered
}

// ClientMessage is an inbound event sent from the client to the server.
// Signaling payloads are relayed as-is and never interpreted.
type ClientMessage struct {
	Type       ClientMessageType `json:"type"`
	UserID     string            `json:"userId,omitempty"`
	OtherID    string            `json:"otherId,omitempty"`
	SenderID   string            `json:"senderId,omitempty"`
	ReceiverID string            `json:"receiverId,omitempty"`
	Text       string            `json:"text,omitempty"`
	To         string            `json:"to,omitempty"`
	From       string            `json:"from,omitempty"`
	FromName   string            `json:"fromName,omitempty"`
	CallID     string            `json:"callId,omitempty"`
	IsVideo    bool              `json:"isVideo,omitempty"`
	Offer      json.RawMessage   `json:"offer,omitempty"`
	Answer     json.RawMessage   `json:"answer,omitempty"`
	Candidate  json.RawMessage   `json:"candidate,omitempty"`
}

// ServerMessage is an outbound notification to the client.
type ServerMessage struct {
	Type      ServerMessageType `json:"type"`
	Users     []string          `json:"users,omitempty"`
	Message   *ChatMessage      `json:"message,omitempty"`
	CallID    string            `json:"callId,omitempty"`
	From      string            `json:"from,omitempty"`
	FromName  string            `json:"fromName,omitempty"`
	To        string            `json:"to,omitempty"`
	IsVideo   bool              `json:"isVideo,omitempty"`
	Offer     json.RawMessage   `json:"offer,omitempty"`
	Answer    json.RawMessage   `json:"answer,omitempty"`
	Candidate json.RawMessage   `json:"candidate,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Call      *CallInfo         `json:"call,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeAnnounceOnline         ClientMessageType = "announce-online"
	ClientMessageTypeSendMessage            ClientMessageType = "send-message"
	ClientMessageTypeCallInitiate           ClientMessageType = "call-initiate"
	ClientMessageTypeCallAnswer             ClientMessageType = "call-answer"
	ClientMessageTypeCallDecline            ClientMessageType = "call-decline"
	ClientMessageTypeCallEnd                ClientMessageType = "call-end"
	ClientMessageTypeCallLeave              ClientMessageType = "call-leave"
	ClientMessageTypeCallRejoin             ClientMessageType = "call-rejoin"
	ClientMessageTypeCallRejoinAnswer       ClientMessageType = "call-rejoin-answer"
	ClientMessageTypeICECandidate           ClientMessageType = "ice-candidate"
	ClientMessageTypeVideoRenegotiate       ClientMessageType = "video-renegotiate"
	ClientMessageTypeVideoRenegotiateAnswer ClientMessageType = "video-renegotiate-answer"
	ClientMessageTypeCheckActiveCall        ClientMessageType = "check-active-call"
)

type ServerMessageType string

const (
	ServerMessageTypeOnlineUsers            ServerMessageType = "online-users"
	ServerMessageTypeNewMessage             ServerMessageType = "new-message"
	ServerMessageTypeMessageSent            ServerMessageType = "message-sent"
	ServerMessageTypeMessageFailed          ServerMessageType = "message-failed"
	ServerMessageTypeIncomingCall           ServerMessageType = "incoming-call"
	ServerMessageTypeCallInitiated          ServerMessageType = "call-initiated"
	ServerMessageTypeCallFailed             ServerMessageType = "call-failed"
	ServerMessageTypeCallAnswered           ServerMessageType = "call-answered"
	ServerMessageTypeCallDeclined           ServerMessageType = "call-declined"
	ServerMessageTypeCallEnded              ServerMessageType = "call-ended"
	ServerMessageTypeCallUserLeft           ServerMessageType = "call-user-left"
	ServerMessageTypeCallRejoinRequest      ServerMessageType = "call-rejoin-request"
	ServerMessageTypeCallRejoined           ServerMessageType = "call-rejoined"
	ServerMessageTypeICECandidate           ServerMessageType = "ice-candidate"
	ServerMessageTypeVideoRenegotiate       ServerMessageType = "video-renegotiate"
	ServerMessageTypeVideoRenegotiateAnswer ServerMessageType = "video-renegotiate-answer"
	ServerMessageTypeCallMessage            ServerMessageType = "call-message"
	ServerMessageTypeActiveCallFound        ServerMessageType = "active-call-found"
	ServerMessageTypeNoActiveCall           ServerMessageType = "no-active-call"
)

// PushSubscription is a browser Web Push endpoint registered by a user.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}

type PushKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// Stats is a point-in-time view of the coordinator state.
type Stats struct {
	OnlineUsers []string `json:"onlineUsers"`
	ActiveCalls int      `json:"activeCalls"`
}
