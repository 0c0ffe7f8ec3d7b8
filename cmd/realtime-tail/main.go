// Command realtime-tail prints the change notifications of a Cozy instance.
//
//	realtime-tail --url https://alice.cozy.example --token $COZY_TOKEN updated/io.cozy.files
//
// Subscriptions can also come from a YAML file, see [Config].
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
