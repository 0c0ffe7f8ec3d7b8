package testenv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cozy/realtime.go/internal/fakecozy"
)

// StartServer starts a fake realtime endpoint on a random port and stops it
// when the test ends.
func StartServer(tb testing.TB) *fakecozy.Server {
	tb.Helper()

	server := fakecozy.NewServer("127.0.0.1:0")
	require.NoError(tb, server.Start())
	tb.Cleanup(func() {
		_ = server.Stop()
	})

	return server
}
