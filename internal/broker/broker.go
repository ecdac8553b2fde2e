// Package broker bridges locally-handled chat messages to a shared Redis
// pub/sub channel per room, and broker deliveries back to the local hub.
// This is what makes fan-out correct when the service runs on several
// instances: a message published on one instance reaches subscribers
// connected anywhere.
//
// The channel is a liveness optimization, not the durability guarantee:
// delivery is at-most-once and clients recover gaps through the
// recent-messages query.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
)

const (
	channelPrefix  = "chat:room:"
	publishTimeout = 3 * time.Second
)

// ChannelName returns the broker channel for a room.
func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

// RoomFromChannel inverts ChannelName.
func RoomFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	return channel[len(channelPrefix):], true
}

// Encode serializes a message for the wire. The payload shape is identical
// to the persisted Message entity.
func Encode(m *model.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("broker.Encode: %w", err)
	}
	return data, nil
}

// Decode deserializes a broker payload.
func Decode(data []byte) (*model.Message, error) {
	m := &model.Message{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("broker.Decode: %w", err)
	}
	return m, nil
}

// DeliverFunc receives every decoded broker delivery for a locally-watched
// room. It must not block: it runs on the single receive loop.
type DeliverFunc func(roomID string, m *model.Message)

// Broker owns one Redis pub/sub connection. Room channels are added and
// removed dynamically: the hub acquires a room when its first local watcher
// subscribes and releases it when the last one leaves, so each instance
// holds exactly one broker subscription per actively-watched room.
type Broker struct {
	cli     *redis.Client
	deliver DeliverFunc

	mu     sync.Mutex
	refs   map[string]int
	pubsub *redis.PubSub

	wg sync.WaitGroup
}

func New(cli *redis.Client, deliver DeliverFunc) *Broker {
	return &Broker{
		cli:     cli,
		deliver: deliver,
		refs:    make(map[string]int),
	}
}

// Start opens the pub/sub connection (no channels yet) and launches the
// receive loop. The loop exits when Close is called.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	b.pubsub = b.cli.Subscribe(ctx)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.receiveLoop()
}

func (b *Broker) receiveLoop() {
	defer b.wg.Done()
	// Channel() closes when the PubSub is closed.
	for msg := range b.pubsub.Channel() {
		roomID, ok := RoomFromChannel(msg.Channel)
		if !ok {
			continue
		}
		m, err := Decode([]byte(msg.Payload))
		if err != nil {
			// Bad payloads are dropped per message; the loop and the other
			// rooms keep going.
			logger.Errorf("broker: drop undecodable payload room=%s: %v", roomID, err)
			continue
		}
		b.deliver(roomID, m)
	}
}

// Publish sends a serialized message to the room's channel with a bounded
// timeout. Errors here are transient delivery failures: the caller logs
// them and must not fail the originating request, since the message is
// already persisted.
func (b *Broker) Publish(ctx context.Context, m *model.Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.cli.Publish(ctx, ChannelName(m.RoomID), data).Err(); err != nil {
		return fmt.Errorf("broker.Publish room=%s: %w", m.RoomID, err)
	}
	return nil
}

// Acquire registers a local watcher for the room, opening the broker
// subscription on the first one.
func (b *Broker) Acquire(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[roomID]++
	if b.refs[roomID] > 1 {
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, ChannelName(roomID)); err != nil {
		b.refs[roomID]--
		if b.refs[roomID] == 0 {
			delete(b.refs, roomID)
		}
		return fmt.Errorf("broker.Acquire room=%s: %w", roomID, err)
	}
	return nil
}

// Release drops a local watcher, closing the broker subscription when the
// last one leaves. Releasing an unknown room is a no-op.
func (b *Broker) Release(ctx context.Context, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.refs[roomID]
	if !ok {
		return
	}
	if n > 1 {
		b.refs[roomID] = n - 1
		return
	}
	delete(b.refs, roomID)
	if err := b.pubsub.Unsubscribe(ctx, ChannelName(roomID)); err != nil {
		logger.Errorf("broker: unsubscribe room=%s: %v", roomID, err)
	}
}

// Watched returns the number of rooms with at least one local watcher.
func (b *Broker) Watched() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refs)
}

// Close terminates the pub/sub connection and waits for the receive loop.
func (b *Broker) Close() {
	b.mu.Lock()
	ps := b.pubsub
	b.mu.Unlock()
	if ps != nil {
		if err := ps.Close(); err != nil {
			logger.Errorf("broker: close: %v", err)
		}
	}
	b.wg.Wait()
}
