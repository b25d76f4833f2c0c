// Package broker runs an embedded MQTT broker that a PLEN bridge can attach
// to when no external broker is available.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	log "github.com/sirupsen/logrus"
)

// Broker wraps a mochi MQTT server with a single TCP listener.
type Broker struct {
	server *mochi.Server
	logger log.FieldLogger

	mu                  sync.Mutex
	subscriberIdCounter int
}

// New creates a broker listening on addr. Clients are not authenticated.
func New(addr string, logger log.FieldLogger) (*Broker, error) {
	// mochi logs through slog; route it into logrus at debug level.
	writer := log.StandardLogger().WriterLevel(log.DebugLevel)
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(writer, nil)),
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "plen-tcp", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &Broker{
		server: server,
		logger: logger,
	}, nil
}

// Run serves MQTT clients until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.server.Serve()
	}()
	b.logger.Debug("Embedded MQTT broker started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("broker failed: %w", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	b.logger.Debug("Stopping embedded MQTT broker")
	return b.server.Close()
}

// Subscribe registers fn for messages matching filter using the inline
// client.
func (b *Broker) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriberIdCounter++
	return b.server.Subscribe(filter, b.subscriberIdCounter, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}

// Publish sends payload on topic from the inline client.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 1)
}
