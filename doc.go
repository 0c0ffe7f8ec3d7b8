// The [realtime] package notifies Go programs of changes made to the documents
// of a Cozy instance.
//
// Any number of callers can [Realtime.Subscribe] to created, updated or deleted
// events of a doctype, or [Realtime.SubscribeDocument] to a single document.
// All subscriptions share a single websocket to the instance's /realtime/
// endpoint, which is opened with the first subscription and closed with the
// last one.
//
// # Connection Engines
//
// There are 2 websocket engines, [github.com/cozy/realtime.go/pkg/connection/gorillaws]
// (the default) and [github.com/cozy/realtime.go/pkg/connection/gws].
// Set [Config.NewTransport] to choose.
//
// # Reliability
//
// A lost connection is retried with the configured [github.com/cozy/realtime.go/pkg/connection/rews.Retryer].
// When it comes back, every live subscription is sent again. Events that
// happened while disconnected are not replayed. Once retries are exhausted, the
// functions registered with [Realtime.OnError] receive a [ConnectivityError].
//
// The connection authenticates with the token of the [github.com/cozy/realtime.go/pkg/session.Provider],
// and authenticates again, without reconnecting, whenever the session emits a
// login or tokenRefreshed event.
package realtime
