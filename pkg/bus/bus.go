// Package bus wraps NATS JetStream connection and startup concerns shared
// by every relbot component: an optional embedded server for single-binary
// deployment, the core pub/sub used for internal fan-out, and JetStream
// KeyValue buckets used for conversation state.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bus holds the live NATS connection and JetStream context, plus the
// embedded server instance when one was started.
type Bus struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	embedded *server.Server
}

// Connect dials url if non-empty, otherwise starts an embedded JetStream
// server on a random port, matching the teacher's startNATS fallback in
// cmd/semspec/app.go.
func Connect(ctx context.Context, url string) (*Bus, error) {
	if url != "" {
		conn, err := nats.Connect(url, nats.Name("relbot"))
		if err != nil {
			return nil, fmt.Errorf("bus: connect %s: %w", url, err)
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("bus: jetstream: %w", err)
		}
		return &Bus{conn: conn, js: js}, nil
	}

	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("bus: start embedded server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("bus: embedded server not ready within timeout")
	}

	conn, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("bus: connect to embedded server: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("bus: jetstream on embedded server: %w", err)
	}
	return &Bus{conn: conn, js: js, embedded: ns}, nil
}

// JetStream returns the JetStream context for stream/consumer/KV access.
func (b *Bus) JetStream() jetstream.JetStream { return b.js }

// Conn returns the underlying core NATS connection for plain pub/sub.
func (b *Bus) Conn() *nats.Conn { return b.conn }

// Close drains the connection and stops the embedded server, if any.
func (b *Bus) Close(timeout time.Duration) {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}

// EnsureKV returns the named KeyValue bucket, creating it if absent.
func EnsureKV(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, TTL: ttl})
	if err != nil {
		return nil, fmt.Errorf("bus: create kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}
