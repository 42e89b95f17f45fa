// Package bus fans coordinator state and notifications out to front-ends.
package bus

import (
	"reflect"

	"github.com/cskr/pubsub"

	"github.com/yllada/vpn-dialer/common"
)

// Topics published by the connection coordinator.
const (
	// TopicState carries vpn.ObservableState snapshots.
	TopicState = "vpn.state"
	// TopicNotification carries vpn.Notification values.
	TopicNotification = "vpn.notification"
)

// defaultCapacity is the per-subscriber channel buffer.
const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type PubSubBus struct {
	ps     *pubsub.PubSub
	logger common.Logger
}

// New creates a bus. A nil logger uses the application logger.
func New(logger common.Logger) *PubSubBus {
	if logger == nil {
		logger = common.GetLogger().Component("bus")
	}
	return &PubSubBus{
		ps:     pubsub.New(defaultCapacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish topic=%s payload_type=%s", topic, payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe topics=%v", topics)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe mode=all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe topics=%v", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
