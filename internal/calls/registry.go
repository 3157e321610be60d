// Package calls keeps the in-memory registry of call sessions.
//
// A session is created when the callee is notified and lives until the call
// is declined or ended. Participants dropping their connection do not remove
// it, so they can rejoin.
package calls

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"svyaz/internal/models"
)

var (
	ErrPairBusy = errors.New("participants already have a call")
)

type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
)

// Session is a snapshot of one call. Registry methods return copies.
type Session struct {
	ID           string
	Participants [2]string
	CallerID     string
	CallerName   string
	IsVideo      bool
	CreatedAt    time.Time
	// StartTime is nil until the call is answered.
	StartTime *time.Time
}

func (s Session) State() State {
	if s.StartTime == nil {
		return StateRinging
	}
	return StateActive
}

// Has reports whether userID takes part in the call.
func (s Session) Has(userID string) bool {
	return s.Participants[0] == userID || s.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (s Session) Other(userID string) string {
	if s.Participants[0] == userID {
		return s.Participants[1]
	}
	return s.Participants[0]
}

// Duration returns the whole seconds between answer and at, never negative.
func (s Session) Duration(at time.Time) int64 {
	if s.StartTime == nil {
		return 0
	}
	d := at.Sub(*s.StartTime)
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

// Info converts the session to its wire form.
func (s Session) Info() *models.CallInfo {
	info := &models.CallInfo{
		CallID:       s.ID,
		Participants: []string{s.Participants[0], s.Participants[1]},
		CallerID:     s.CallerID,
		CallerName:   s.CallerName,
		IsVideo:      s.IsVideo,
	}
	if s.StartTime != nil {
		ms := s.StartTime.UnixMilli()
		info.StartTime = &ms
	}
	return info
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create registers a ringing session between caller and callee.
// With exclusive set it fails with ErrPairBusy when the pair already has one.
func (r *Registry) Create(callerID, calleeID, callerName string, isVideo bool, at time.Time, exclusive bool) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exclusive {
		if _, ok := r.find(callerID, calleeID); ok {
			return Session{}, ErrPairBusy
		}
	}

	id := callID(callerID, calleeID, at)
	for n := 1; ; n++ {
		if _, exists := r.sessions[id]; !exists {
			break
		}
		id = fmt.Sprintf("%s_%d", callID(callerID, calleeID, at), n)
	}

	s := &Session{
		ID:           id,
		Participants: [2]string{callerID, calleeID},
		CallerID:     callerID,
		CallerName:   callerName,
		IsVideo:      isVideo,
		CreatedAt:    at,
	}
	r.sessions[id] = s
	return *s, nil
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Answer moves a ringing session to active. Answering an active session
// keeps the original start time.
func (r *Registry) Answer(id string, at time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	if s.StartTime == nil {
		start := at
		s.StartTime = &start
	}
	return *s, true
}

func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	return *s, true
}

// Find returns the session between a and b in either order.
// When several exist the most recently created one wins.
func (r *Registry) Find(a, b string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.find(a, b)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) find(a, b string) (*Session, bool) {
	var found *Session
	for _, s := range r.sessions {
		if !s.Has(a) || !s.Has(b) {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) ||
			s.CreatedAt.Equal(found.CreatedAt) && s.ID > found.ID {
			found = s
		}
	}
	return found, found != nil
}

func callID(callerID, calleeID string, at time.Time) string {
	return fmt.Sprintf("call_%s_%s_%d", callerID, calleeID, at.UnixNano())
}
