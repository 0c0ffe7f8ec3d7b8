package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	realtime "github.com/cozy/realtime.go"
	"github.com/cozy/realtime.go/pkg/connection/gws"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
	"github.com/cozy/realtime.go/pkg/session"
)

// tail subscribes to keys and prints documents to out until ctx is done
// or the connection is given up.
func tail(ctx context.Context, cfg *Config, keys []models.SubscriptionKey, out io.Writer, log logger.Logger) error {
	rcfg, err := realtime.NewConfig(cfg.URL, session.New(&cfg.Session))
	if err != nil {
		return err
	}
	rcfg.WithLogger(log)
	rcfg.Retryer = cfg.retryer()
	if cfg.Transport == transportGWS {
		rcfg.NewTransport = gws.New
	}

	rt, err := realtime.New(rcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Warn("realtime-tail: close failed", "error", err)
		}
	}()

	failed := make(chan error, 1)
	rt.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	p := &printer{out: out, format: cfg.Format}
	for _, key := range keys {
		var sub *realtime.Subscription
		if key.HasID() {
			sub, err = rt.SubscribeDocument(ctx, key.Event, key.Doctype, key.ID, p.print)
		} else {
			sub, err = rt.Subscribe(ctx, key.Event, key.Doctype, p.print)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
		log.Info("realtime-tail: subscribed", "key", sub.Key.String())
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}

type printer struct {
	mu     sync.Mutex
	out    io.Writer
	format string
}

type jsonLine struct {
	Event   models.EventType `json:"event"`
	Doctype string           `json:"doctype"`
	ID      string           `json:"id,omitempty"`
	Doc     json.RawMessage  `json:"doc"`
}

func (p *printer) print(doc models.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == formatJSON {
		_ = json.NewEncoder(p.out).Encode(jsonLine{
			Event:   doc.Event,
			Doctype: doc.Doctype,
			ID:      doc.ID,
			Doc:     doc.Raw,
		})
		return
	}
	fmt.Fprintf(p.out, "%s %s %s %s\n", doc.Event, doc.Doctype, doc.ID, doc.Rev())
}
