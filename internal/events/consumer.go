// Package events subscribes to session lifecycle announcements on NATS and
// translates them into cache operations. The event stream is an optional
// convenience: every operation it triggers is also reachable through the
// coordinator API, so a missed event degrades freshness, never correctness.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/record"
	"github.com/wardenlabs/wardstate/internal/wserrors"
)

// Registry is the slice of the coordinator the consumer drives.
type Registry interface {
	GetOrCreate(actorID, name string) *record.SessionRecord
	Release(actorID string)
}

// SessionStartEvent announces an actor joining.
type SessionStartEvent struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// SessionEndEvent announces an actor leaving.
type SessionEndEvent struct {
	ActorID string `json:"actor_id"`
}

// Consumer holds the NATS subscriptions for session lifecycle events.
type Consumer struct {
	conn     *nats.Conn
	registry Registry
	prefix   string
	subs     []*nats.Subscription
}

// NewConsumer connects to NATS and subscribes to the lifecycle subjects.
func NewConsumer(url, subjectPrefix string, registry Registry) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.Name("wardstate"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		// Not fatal: the daemon degrades to running without events.
		return nil, wserrors.Wrap(wserrors.CategoryEvents, wserrors.SeverityError,
			"failed to connect to NATS", err)
	}

	c := &Consumer{
		conn:     conn,
		registry: registry,
		prefix:   subjectPrefix,
	}
	if err := c.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Session event consumer started",
		slog.String("url", url),
		slog.String("subject_prefix", subjectPrefix))
	return c, nil
}

func (c *Consumer) subscribe() error {
	startSubject := c.prefix + ".session.start"
	endSubject := c.prefix + ".session.end"

	sub, err := c.conn.Subscribe(startSubject, c.handleStart)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", startSubject, err)
	}
	c.subs = append(c.subs, sub)

	sub, err = c.conn.Subscribe(endSubject, c.handleEnd)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", endSubject, err)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// handleStart warms the cache for a joining actor so the first state read
// after join is already a hit.
func (c *Consumer) handleStart(msg *nats.Msg) {
	var ev SessionStartEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("Malformed session start event",
			logfields.Subject(msg.Subject), logfields.Error(err))
		return
	}
	if ev.ActorID == "" {
		slog.Warn("Session start event without actor_id", logfields.Subject(msg.Subject))
		return
	}
	c.registry.GetOrCreate(ev.ActorID, ev.Name)
	slog.Debug("Session started", logfields.ActorID(ev.ActorID), logfields.ActorName(ev.Name))
}

// handleEnd flushes and evicts the leaving actor's record.
func (c *Consumer) handleEnd(msg *nats.Msg) {
	var ev SessionEndEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("Malformed session end event",
			logfields.Subject(msg.Subject), logfields.Error(err))
		return
	}
	if ev.ActorID == "" {
		slog.Warn("Session end event without actor_id", logfields.Subject(msg.Subject))
		return
	}
	c.registry.Release(ev.ActorID)
	slog.Debug("Session ended", logfields.ActorID(ev.ActorID))
}

// Close drains the subscriptions and closes the connection. Draining lets
// in-flight handlers finish before the connection drops.
func (c *Consumer) Close() error {
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			slog.Warn("Failed to drain subscription", logfields.Error(err))
		}
	}
	c.conn.Close()
	return nil
}
