package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozy/realtime.go/pkg/constants"
)

func TestSocketURL(t *testing.T) {
	testcases := []struct {
		base string
		want string
	}{
		{base: "http://cozy.tools:8888", want: "ws://cozy.tools:8888/realtime/"},
		{base: "https://a.cozy.url", want: "wss://a.cozy.url/realtime/"},
		{base: "https://a.cozy.url/", want: "wss://a.cozy.url/realtime/"},
		{base: "https://a.cozy.url/prefix", want: "wss://a.cozy.url/prefix/realtime/"},
		{base: "wss://a.cozy.url", want: "wss://a.cozy.url/realtime/"},
		{base: "http://cozy.tools:8888/?x=1#frag", want: "ws://cozy.tools:8888/realtime/"},
	}

	for _, tc := range testcases {
		t.Run(tc.base, func(t *testing.T) {
			got, err := SocketURL(tc.base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSocketURL_Invalid(t *testing.T) {
	_, err := SocketURL("ftp://a.cozy.url")
	assert.True(t, errors.Is(err, constants.ErrUnsupportedScheme))

	_, err = SocketURL("https://")
	assert.Error(t, err)

	_, err = SocketURL("://bad")
	assert.Error(t, err)
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig("https://a.cozy.url")
	require.NoError(t, err)

	assert.Equal(t, "wss://a.cozy.url/realtime/", cfg.URL)
	assert.Equal(t, "https://a.cozy.url", cfg.Header.Get("Origin"))
	assert.NotNil(t, cfg.Marshaler)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, constants.DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestCommands(t *testing.T) {
	cfg, err := NewConfig("http://cozy.tools:8888")
	require.NoError(t, err)

	var got []error
	tk := NewToolkit(cfg, ListenerFuncs{Error: func(err error) { got = append(got, err) }})

	data, err := tk.Encode(AuthCommand("tok"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"AUTH","payload":"tok"}`, string(data))

	cases := []struct {
		cmd  Command
		want string
	}{
		{cmd: SubscribeCommand(docKey("abc").Target()), want: `{"method":"SUBSCRIBE","payload":{"type":"io.cozy.files","id":"abc"}}`},
		{cmd: SubscribeCommand(wideKey().Target()), want: `{"method":"SUBSCRIBE","payload":{"type":"io.cozy.files"}}`},
		{cmd: UnsubscribeCommand(docKey("abc").Target()), want: `{"method":"UNSUBSCRIBE","payload":{"type":"io.cozy.files","id":"abc"}}`},
	}
	for _, m := range cases {
		data, err := tk.Encode(m.cmd)
		require.NoError(t, err)
		assert.JSONEq(t, m.want, string(data))
	}

	tk.Fail(errors.New("first"))
	tk.Fail(errors.New("second"))
	require.Len(t, got, 1)
	assert.EqualError(t, got[0], "first")
}

func TestToolkit_Silence(t *testing.T) {
	cfg := &Config{}
	called := false
	tk := NewToolkit(cfg, ListenerFuncs{Error: func(error) { called = true }})

	tk.Silence()
	tk.Fail(errors.New("late"))
	assert.False(t, called)
}

func TestToolkit_ListenerClosesTransport(t *testing.T) {
	cfg := &Config{}
	calls := 0
	var tk *Toolkit
	tk = NewToolkit(cfg, ListenerFuncs{Error: func(err error) {
		calls++
		// What a Close from inside the listener does.
		tk.Silence()
		tk.Fail(errors.New("while closing"))
	}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Fail(errors.New("lost"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fail did not return")
	}
	assert.Equal(t, 1, calls)
}
