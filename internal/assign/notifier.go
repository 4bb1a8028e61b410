// Package assign publishes workflow handoff intents to the assignment
// system. The engine emits intents on state transitions; routing them to
// actual assignees happens downstream.
package assign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Assignment types emitted on version transitions.
const (
	TypeApprovalRequested = "APPROVAL_REQUESTED"
	TypeReviewCompleted   = "REVIEW_COMPLETED"
	TypeChangesRequested  = "CHANGES_REQUESTED"
)

// Intent describes a single handoff between roles.
type Intent struct {
	AssignmentType string     `json:"assignment_type"`
	FromRole       string     `json:"from_role"`
	ToRole         string     `json:"to_role"`
	PhaseContextID string     `json:"phase_context_id"`
	VersionID      string     `json:"version_id"`
	Priority       string     `json:"priority"`
	DueBy          *time.Time `json:"due_by,omitempty"`
}

// Notifier delivers assignment intents. Delivery is best effort; a failed
// notification never rolls back the state transition that produced it.
type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
	Close() error
}

// RedisNotifier publishes intents onto a Redis stream so downstream
// consumers can fan them out to work queues.
type RedisNotifier struct {
	client *redis.Client
	stream string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(redisURL, stream string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisNotifier{client: client, stream: stream}, nil
}

// NewRedisNotifierWithClient creates a notifier from an existing client.
func NewRedisNotifierWithClient(client *redis.Client, stream string) *RedisNotifier {
	return &RedisNotifier{client: client, stream: stream}
}

func (n *RedisNotifier) Notify(ctx context.Context, intent Intent) error {
	values := map[string]any{
		"assignment_type":  intent.AssignmentType,
		"from_role":        intent.FromRole,
		"to_role":          intent.ToRole,
		"phase_context_id": intent.PhaseContextID,
		"version_id":       intent.VersionID,
		"priority":         intent.Priority,
	}
	if intent.DueBy != nil {
		values["due_by"] = intent.DueBy.UTC().Format(time.RFC3339)
	}

	if err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publish assignment intent: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Ping checks if Redis is reachable
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// LogNotifier writes intents to the process log. Used when no Redis URL is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, intent Intent) error {
	log.Printf("assign: %s context=%s version=%s %s->%s priority=%s",
		intent.AssignmentType, intent.PhaseContextID, intent.VersionID,
		intent.FromRole, intent.ToRole, intent.Priority)
	return nil
}

func (LogNotifier) Close() error { return nil }
