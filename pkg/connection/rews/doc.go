// Package rews keeps one realtime websocket alive on behalf of many subscribers.
//
// A Manager owns the subscription registry and the Transport. It opens the
// transport lazily when the first subscription is registered, closes it as soon
// as the last one goes away, and reconnects with a Retryer when the transport
// is lost. Every time the connection becomes open again, each live
// subscription key is replayed to the backend once.
//
// The state machine is:
//
//	Closed -> Connecting -> Open
//	Open/Connecting -> Retrying -> Connecting   (transport lost, retries left)
//	Open/Connecting -> Failed                   (retries exhausted)
//	Failed -> Connecting                        (new subscription)
//	any -> Closed                               (Close, last unsubscribe)
//
// Example:
//
//	m, err := rews.NewManager(rews.Config{
//		NewFunc:   gorillaws.New,
//		Transport: transportConfig,
//		Tokens:    func() (string, bool) { return session.AuthToken(sess.Token()) },
//		Retryer:   rews.RetryPolicy{Delay: 10 * time.Second, Limit: 60},
//		Logger:    log,
//	})
package rews
