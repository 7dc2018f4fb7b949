// Package bus carries outbound frames to connections that live on another
// node. Each node subscribes to one subject per local connection, so a
// publish reaches exactly the node holding that socket.
package bus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	URL    string
	Name   string
	Prefix string
}

type NATSBus struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func Connect(cfg Config, logger *zap.Logger) (*NATSBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", cfg.URL)
	}

	return &NATSBus{nc: nc, prefix: cfg.Prefix, logger: logger}, nil
}

func (b *NATSBus) subject(connID string) string {
	return b.prefix + ".conn." + connID
}

// Publish hands data to whichever node subscribed for connID. Nobody
// listening is not an error: the connection is gone.
func (b *NATSBus) Publish(_ context.Context, connID string, data []byte) error {
	return errors.Wrap(b.nc.Publish(b.subject(connID), data), "nats publish")
}

// Subscribe routes frames addressed to connID into deliver. The returned
// func cancels the subscription.
func (b *NATSBus) Subscribe(connID string, deliver func([]byte)) (func() error, error) {
	sub, err := b.nc.Subscribe(b.subject(connID), func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return nil, errors.Wrap(err, "nats subscribe")
	}
	return sub.Unsubscribe, nil
}

func (b *NATSBus) Flush() error {
	return b.nc.Flush()
}

func (b *NATSBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
