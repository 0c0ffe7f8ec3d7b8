// Package session holds the credentials the realtime connection authenticates with,
// and signals credential changes to whoever watches them.
package session

import (
	"sync"
)

// Token carries the two credential shapes accepted by the backend.
type Token struct {
	// Token is the session (cookie flow) token.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// AccessToken is the OAuth access token.
	AccessToken string `json:"accessToken,omitempty" yaml:"access_token,omitempty"`
	// RefreshToken is kept so callers can refresh OAuth credentials.
	// The realtime connection never uses it.
	RefreshToken string `json:"refreshToken,omitempty" yaml:"refresh_token,omitempty"`
}

// AuthToken returns the token to authenticate the realtime connection with.
// The session token wins over the OAuth access token.
// ok is false when neither is set; no connection must be opened then.
func AuthToken(t *Token) (token string, ok bool) {
	if t == nil {
		return "", false
	}
	if t.Token != "" {
		return t.Token, true
	}
	if t.AccessToken != "" {
		return t.AccessToken, true
	}
	return "", false
}

type Event string

const (
	EventLogin          Event = "login"
	EventTokenRefreshed Event = "tokenRefreshed"
	EventLogout         Event = "logout"
)

// Provider is what the realtime client needs from a session.
type Provider interface {
	// Token returns the current credentials, or nil.
	Token() *Token
	// Watch registers fn for session events and returns a function removing it.
	Watch(fn func(Event)) (stop func())
}

// Session is an in-memory Provider.
type Session struct {
	mu        sync.RWMutex
	token     *Token
	watchers  map[int]func(Event)
	watcherID int
}

var _ Provider = (*Session)(nil)

// New returns a session holding a copy of token.
func New(token *Token) *Session {
	s := &Session{watchers: make(map[int]func(Event))}
	if token != nil {
		t := *token
		s.token = &t
	}
	return s
}

func (s *Session) Token() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return nil
	}
	t := *s.token
	return &t
}

func (s *Session) Watch(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.watcherID
	s.watcherID++
	s.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Login replaces the credentials and emits EventLogin.
func (s *Session) Login(token *Token) {
	s.set(token, EventLogin)
}

// RefreshToken replaces the credentials and emits EventTokenRefreshed.
func (s *Session) RefreshToken(token *Token) {
	s.set(token, EventTokenRefreshed)
}

// Logout drops the credentials and emits EventLogout.
func (s *Session) Logout() {
	s.set(nil, EventLogout)
}

func (s *Session) set(token *Token, ev Event) {
	s.mu.Lock()
	if token != nil {
		t := *token
		token = &t
	}
	s.token = token
	watchers := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(ev)
	}
}
