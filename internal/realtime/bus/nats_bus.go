package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/platform/logger"
	"github.com/homecart/listsync/internal/sharding"
)

// natsConn is the slice of *nats.Conn the bus uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSBus publishes each list on its own sharded subject and forwards
// everything matching the list wildcard.
type NATSBus struct {
	conn natsConn
	log  *logger.Logger
}

func NewNATSBus(conn *nats.Conn, log *logger.Logger) (*NATSBus, error) {
	if conn == nil {
		return nil, errors.New("nats connection required")
	}
	return newNATSBus(conn, log), nil
}

func newNATSBus(conn natsConn, log *logger.Logger) *NATSBus {
	if log == nil {
		log = logger.Nop()
	}
	return &NATSBus{conn: conn, log: log.With("component", "nats-relay")}
}

func (b *NATSBus) Publish(_ context.Context, ev contracts.ListEvent) error {
	payload, err := json.Marshal(ev.Event)
	if err != nil {
		return err
	}
	return b.conn.Publish(sharding.ListEventSubject(ev.ListID), payload)
}

func (b *NATSBus) StartForwarder(ctx context.Context, onMsg func(ev contracts.ListEvent)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	sub, err := b.conn.Subscribe(sharding.ListEventWildcard, func(msg *nats.Msg) {
		if ev, ok := b.decode(msg); ok {
			onMsg(ev)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	go func() {
		<-ctx.Done()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()
	return nil
}

func (b *NATSBus) decode(msg *nats.Msg) (contracts.ListEvent, bool) {
	listID, ok := sharding.ListFromSubject(msg.Subject)
	if !ok {
		relayErrors.WithLabelValues("decode").Inc()
		b.log.Warn("unexpected relay subject", "subject", msg.Subject)
		return contracts.ListEvent{}, false
	}
	var wire contracts.WireEvent
	if err := json.Unmarshal(msg.Data, &wire); err != nil || wire.Kind == "" {
		relayErrors.WithLabelValues("decode").Inc()
		b.log.Warn("bad relay payload", "subject", msg.Subject, "error", err)
		return contracts.ListEvent{}, false
	}
	relayMessages.WithLabelValues("received").Inc()
	return contracts.ListEvent{ListID: listID, Event: wire}, true
}

// Close is a no-op; the connection belongs to the caller.
func (b *NATSBus) Close() error { return nil }
