package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sbenjam1n/eggsync/internal/gamification"
)

const (
	// StreamNotifications is the default Redis stream notifications are pushed to.
	StreamNotifications = "gamification_notifications"
	// GroupNotifiers is the consumer group for notification delivery workers.
	GroupNotifiers = "notifier_pool"
)

// ErrNoMessages is returned by ReadNotification when the block timeout
// elapses without a message.
var ErrNoMessages = errors.New("no messages")

// Queue publishes gamification notifications to a Redis stream.
type Queue struct {
	client *redis.Client
	stream string
}

// New creates a Queue on the given stream. An empty stream uses
// StreamNotifications.
func New(client *redis.Client, stream string) *Queue {
	if stream == "" {
		stream = StreamNotifications
	}
	return &Queue{client: client, stream: stream}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Stream returns the stream name.
func (q *Queue) Stream() string {
	return q.stream
}

// EnsureStreams creates the consumer group if it doesn't exist.
func (q *Queue) EnsureStreams(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, GroupNotifiers, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", GroupNotifiers, q.stream, err)
	}
	return nil
}

// PublishNotification adds n to the stream.
func (q *Queue) PublishNotification(ctx context.Context, n *gamification.Notification) error {
	values, err := messageValues(n)
	if err != nil {
		return err
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func messageValues(n *gamification.Notification) (map[string]any, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", n.ID, err)
	}
	return map[string]any{
		"notification_id": n.ID,
		"recipient_id":    n.RecipientID,
		"type":            string(n.Type),
		"payload":         string(payload),
	}, nil
}

// ReadNotification reads one notification for consumer, waiting up to block.
func (q *Queue) ReadNotification(ctx context.Context, consumer string, block time.Duration) (*gamification.Notification, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupNotifiers,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNoMessages
	}
	if err != nil {
		return nil, "", fmt.Errorf("read notification: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			n, err := decodeMessage(msg.Values)
			if err != nil {
				return nil, msg.ID, err
			}
			return n, msg.ID, nil
		}
	}
	return nil, "", ErrNoMessages
}

func decodeMessage(values map[string]any) (*gamification.Notification, error) {
	var n gamification.Notification
	if err := json.Unmarshal([]byte(getString(values, "payload")), &n); err != nil {
		return nil, fmt.Errorf("decode notification %s: %w", getString(values, "notification_id"), err)
	}
	return &n, nil
}

// Ack acknowledges a notification message.
func (q *Queue) Ack(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, q.stream, GroupNotifiers, msgID).Err()
}

// Status returns the stream length and the number of messages delivered to
// the group but not yet acknowledged.
func (q *Queue) Status(ctx context.Context) (length, pending int64, err error) {
	length, err = q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, 0, err
	}
	info, err := q.client.XPending(ctx, q.stream, GroupNotifiers).Result()
	if err != nil {
		return length, 0, err
	}
	return length, info.Count, nil
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
