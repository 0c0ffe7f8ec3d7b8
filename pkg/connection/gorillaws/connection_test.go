package gorillaws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
)

// echoServer is a minimal realtime endpoint recording the frames it receives.
type echoServer struct {
	*httptest.Server

	mu          sync.Mutex
	frames      []string
	subprotocol string
	conns       []*gorilla.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	s := &echoServer{}
	upgrader := gorilla.Upgrader{Subprotocols: []string{constants.Subprotocol}}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.subprotocol = conn.Subprotocol()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, string(data))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *echoServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.frames...)
}

func (s *echoServer) conn() *gorilla.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conns[len(s.conns)-1]
}

type recorder struct {
	messages chan string
	errors   chan error
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan string, 10),
		errors:   make(chan error, 10),
	}
}

func (r *recorder) OnMessage(data []byte) { r.messages <- string(data) }
func (r *recorder) OnError(err error)     { r.errors <- err }

func dial(t *testing.T, s *echoServer, l connection.Listener) connection.Transport {
	t.Helper()

	cfg, err := connection.NewConfig(s.URL)
	require.NoError(t, err)
	cfg.Logger = logger.Discard()

	tr, err := New(cfg, l)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	return tr
}

func TestConnection_Commands(t *testing.T) {
	s := newEchoServer(t)
	rec := newRecorder()
	tr := dial(t, s, rec)
	defer tr.Close(context.Background())

	ctx := context.Background()
	assert.True(t, tr.IsOpen())

	require.NoError(t, tr.Authenticate(ctx, "secret"))
	require.NoError(t, tr.Subscribe(ctx, models.NewKey(models.EventUpdated, "io.cozy.files").Target()))
	require.NoError(t, tr.Unsubscribe(ctx, models.NewDocumentKey(models.EventDeleted, "io.cozy.files", "abc").Target()))

	require.Eventually(t, func() bool { return len(s.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		`{"method":"AUTH","payload":"secret"}`,
		`{"method":"SUBSCRIBE","payload":{"type":"io.cozy.files"}}`,
		`{"method":"UNSUBSCRIBE","payload":{"type":"io.cozy.files","id":"abc"}}`,
	}, s.received())

	s.mu.Lock()
	assert.Equal(t, constants.Subprotocol, s.subprotocol)
	s.mu.Unlock()
}

func TestConnection_DeliversFrames(t *testing.T) {
	s := newEchoServer(t)
	rec := newRecorder()
	tr := dial(t, s, rec)
	defer tr.Close(context.Background())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 1
	}, time.Second, 5*time.Millisecond)

	frame := `{"event":"CREATED","payload":{"type":"io.cozy.files","id":"1","doc":{}}}`
	require.NoError(t, s.conn().WriteMessage(gorilla.TextMessage, []byte(frame)))

	select {
	case got := <-rec.messages:
		assert.Equal(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}
}

func TestConnection_ReportsLoss(t *testing.T) {
	s := newEchoServer(t)
	rec := newRecorder()
	tr := dial(t, s, rec)
	defer tr.Close(context.Background())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.conn().Close())

	select {
	case err := <-rec.errors:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("loss was not reported")
	}

	// Errors are reported once.
	assert.Never(t, func() bool { return len(rec.errors) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnection_CloseIsSilent(t *testing.T) {
	s := newEchoServer(t)
	rec := newRecorder()
	tr := dial(t, s, rec)

	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))
	assert.False(t, tr.IsOpen())

	assert.ErrorIs(t, tr.Subscribe(context.Background(), models.NewKey(models.EventUpdated, "io.cozy.files").Target()), constants.ErrNotOpen)
	assert.Never(t, func() bool { return len(rec.errors) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnection_DialFailure(t *testing.T) {
	s := newEchoServer(t)

	cfg, err := connection.NewConfig(s.URL + "/elsewhere")
	require.NoError(t, err)

	tr, err := New(cfg, newRecorder())
	require.NoError(t, err)

	err = tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gorillaws: dial"))
	assert.False(t, tr.IsOpen())
}

func TestNew_MissingURL(t *testing.T) {
	_, err := New(&connection.Config{}, newRecorder())
	assert.Error(t, err)
}
