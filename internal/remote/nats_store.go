// Package remote connects the device to the backing NATS deployment:
// attendance records go to a JetStream stream, unregistered taps to a
// pending-registration subject, and the user directory is mirrored from a
// KV bucket.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/taptrack/internal/config"
	"git.home.luguber.info/inful/taptrack/internal/directory"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/record"
	"git.home.luguber.info/inful/taptrack/internal/syncer"
)

// pendingUserEvent is the payload published for taps by unknown cards.
type pendingUserEvent struct {
	UID       string `json:"uid"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// NATSStore manages the NATS connection and implements the remote store
// contract expected by the sync coordinator.
type NATSStore struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	cfg     *config.RemoteConfig
	device  string
	confirm chan syncer.Confirmation
	changes chan directory.Change

	mu       sync.Mutex
	kv       jetstream.KeyValue
	topology bool
}

// Connect establishes the NATS connection. The connection retries in the
// background forever; a device parked in a network shadow must come back on
// its own, and an offline boot must still succeed so queued taps keep
// accumulating locally. Stream and bucket setup is deferred to
// EnsureTopology once the server is reachable.
func Connect(cfg *config.RemoteConfig, deviceID string, reconnectWait time.Duration) (*NATSStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("remote config is required")
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("taptrack-"+deviceID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", logfields.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &NATSStore{
		conn:    conn,
		js:      js,
		cfg:     cfg,
		device:  deviceID,
		confirm: make(chan syncer.Confirmation, 16),
		changes: make(chan directory.Change, 64),
	}

	slog.Info("Remote store initialized",
		"url", cfg.URL,
		"stream", cfg.Stream,
		"kv_bucket", cfg.UserBucket,
		"connected", s.Ready())

	return s, nil
}

// EnsureTopology creates or updates the attendance stream and the user KV
// bucket. Idempotent; fails until the server is reachable, so callers retry
// it on the reconnect cadence.
func (s *NATSStore) EnsureTopology(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topology {
		return nil
	}
	if !s.Ready() {
		return fmt.Errorf("not connected")
	}
	if err := s.ensureStream(ctx); err != nil {
		return err
	}
	if err := s.initUserBucket(ctx); err != nil {
		return err
	}
	s.topology = true
	return nil
}

func (s *NATSStore) ensureStream(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.AttendanceSubject, s.cfg.PendingSubject},
		Storage:  jetstream.FileStorage,
		// Duplicate window backs the Nats-Msg-Id dedup that makes retried
		// pushes of the same sync id idempotent server-side.
		Duplicates: 2 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}

func (s *NATSStore) initUserBucket(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	kv, err := s.js.KeyValue(ctx, s.cfg.UserBucket)
	if err == nil {
		s.kv = kv
		return nil
	}

	kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.cfg.UserBucket,
		Description: "Registered card holders for TapTrack devices",
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to create user KV bucket: %w", err)
	}

	s.kv = kv
	slog.Info("Created user KV bucket", "bucket", s.cfg.UserBucket)
	return nil
}

// Ready reports whether the connection can carry a push right now.
func (s *NATSStore) Ready() bool {
	return s.conn != nil && s.conn.Status() == nats.CONNECTED
}

// Push publishes the record asynchronously. A nil return means JetStream
// accepted the message for delivery; the durable-store acknowledgement is
// reported later on the Confirmations channel, keyed by the record's sync id.
// The sync id doubles as the Nats-Msg-Id, so a record re-pushed after an
// uncertain outcome deduplicates server-side instead of double-counting.
func (s *NATSStore) Push(_ context.Context, rec record.AttendanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.cfg.AttendanceSubject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", rec.SyncID)
	msg.Header.Set("Taptrack-Device", s.device)

	future, err := s.js.PublishMsgAsync(msg)
	if err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}

	syncID := rec.SyncID
	go func() {
		select {
		case <-future.Ok():
			s.deliver(syncer.Confirmation{SyncID: syncID})
		case err := <-future.Err():
			s.deliver(syncer.Confirmation{SyncID: syncID, Err: err})
		}
	}()

	slog.Debug("Record push in flight", logfields.UID(rec.UID), logfields.SyncID(syncID))
	return nil
}

// deliver hands a confirmation to the coordinator without ever blocking the
// ack goroutine. The channel is sized well past the single in-flight slot;
// overflow means the consumer is gone and the confirmation is moot.
func (s *NATSStore) deliver(conf syncer.Confirmation) {
	select {
	case s.confirm <- conf:
	default:
		slog.Warn("Dropping confirmation, channel full", logfields.SyncID(conf.SyncID))
	}
}

// PushPendingUser publishes an unregistered tap to the pending-registration
// subject. Synchronous and best-effort: it rides outside the attendance
// queue and its confirmation protocol.
func (s *NATSStore) PushPendingUser(ctx context.Context, uid, timestamp string) error {
	data, err := json.Marshal(pendingUserEvent{UID: uid, Timestamp: timestamp, Source: s.device})
	if err != nil {
		return fmt.Errorf("failed to marshal pending user event: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.cfg.PendingSubject, data); err != nil {
		return fmt.Errorf("failed to publish pending user: %w", err)
	}

	slog.Info("Pending user forwarded for registration", logfields.UID(uid))
	return nil
}

// Confirmations returns the channel carrying push resolutions.
func (s *NATSStore) Confirmations() <-chan syncer.Confirmation { return s.confirm }

// Changes returns the live feed of directory updates. Populated once
// WatchDirectory is running.
func (s *NATSStore) Changes() <-chan directory.Change { return s.changes }

func (s *NATSStore) userBucket() (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return nil, fmt.Errorf("user bucket not initialized, call EnsureTopology first")
	}
	return s.kv, nil
}

// FetchAll reads the full user directory from the KV bucket.
func (s *NATSStore) FetchAll(ctx context.Context) ([]directory.User, error) {
	kv, err := s.userBucket()
	if err != nil {
		return nil, err
	}
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory keys: %w", err)
	}

	var users []directory.User
	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if err == jetstream.ErrKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to read directory entry %s: %w", key, err)
		}
		users = append(users, directory.User{UID: key, Name: string(entry.Value())})
	}
	return users, nil
}

// WatchDirectory mirrors KV bucket updates onto the Changes feed until ctx
// is cancelled. Keys are card UIDs, values are display names; a delete or
// purge revokes the card.
func (s *NATSStore) WatchDirectory(ctx context.Context) error {
	kv, err := s.userBucket()
	if err != nil {
		return err
	}
	watcher, err := kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("failed to watch user bucket: %w", err)
	}
	defer watcher.Stop() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok {
				return fmt.Errorf("user bucket watcher closed")
			}
			if entry == nil {
				continue
			}
			change := directory.Change{UID: entry.Key(), Name: string(entry.Value())}
			if entry.Operation() != jetstream.KeyValuePut {
				change = directory.Change{UID: entry.Key(), Removed: true}
			}
			select {
			case s.changes <- change:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// CheckConnectivity round-trips the server to distinguish a live link from a
// half-open one. Used by the periodic connectivity probe.
func (s *NATSStore) CheckConnectivity(ctx context.Context) bool {
	if !s.Ready() {
		return false
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		slog.Debug("Connectivity probe failed", logfields.Error(err))
		return false
	}
	return true
}

// Reconnect forces the client off its current server connection. Invoked
// when forced-online mode finds the link down and does not want to wait out
// the automatic reconnect backoff.
func (s *NATSStore) Reconnect() error {
	if s.conn == nil {
		return fmt.Errorf("connection not initialized")
	}
	if s.conn.Status() == nats.CONNECTED {
		return nil
	}
	return s.conn.ForceReconnect()
}

// Close drains and closes the connection.
func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
