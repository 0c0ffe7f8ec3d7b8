package session

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthToken(t *testing.T) {
	testcases := []struct {
		name  string
		token *Token
		want  string
		ok    bool
	}{
		{name: "nil session", token: nil},
		{name: "no token", token: &Token{}},
		{name: "session token", token: &Token{Token: "cookie"}, want: "cookie", ok: true},
		{name: "oauth token", token: &Token{AccessToken: "oauth"}, want: "oauth", ok: true},
		{name: "both prefer session token", token: &Token{Token: "cookie", AccessToken: "oauth"}, want: "cookie", ok: true},
		{name: "refresh token alone is not enough", token: &Token{RefreshToken: "refresh"}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := AuthToken(tc.token)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSession_Watch(t *testing.T) {
	s := New(&Token{Token: "first"})

	var events []Event
	stop := s.Watch(func(ev Event) {
		events = append(events, ev)
	})

	s.Login(&Token{Token: "second"})
	s.RefreshToken(&Token{AccessToken: "third"})

	got, ok := AuthToken(s.Token())
	require.True(t, ok)
	assert.Equal(t, "third", got)

	stop()
	stop()
	s.Logout()

	assert.Equal(t, []Event{EventLogin, EventTokenRefreshed}, events)
	assert.Nil(t, s.Token())
}

func TestSession_TokenIsACopy(t *testing.T) {
	original := &Token{Token: "first"}
	s := New(original)

	s.Token().Token = "mutated"
	original.Token = "mutated too"

	got, _ := AuthToken(s.Token())
	assert.Equal(t, "first", got)

	var calls atomic.Int32
	s.Watch(func(Event) { calls.Add(1) })
	tok := &Token{Token: "second"}
	s.Login(tok)
	tok.Token = "changed after login"

	got, _ = AuthToken(s.Token())
	assert.Equal(t, "second", got)
	assert.Equal(t, int32(1), calls.Load())
}
