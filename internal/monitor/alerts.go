package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// Pub/sub channels for alert fan-out.
const (
	ChannelSignalAlerts = "alerts:signal"
	ChannelRatioAlerts  = "alerts:ratio"
)

// RedisAlertPublisher broadcasts alerts as JSON over Redis pub/sub so
// dashboards and notifiers outside this process can react.
type RedisAlertPublisher struct {
	client *redis.Client
}

// NewRedisAlertPublisher wraps an existing client.
func NewRedisAlertPublisher(client *redis.Client) *RedisAlertPublisher {
	return &RedisAlertPublisher{client: client}
}

// PublishSignalAlert sends one signal alert to the signal channel.
func (p *RedisAlertPublisher) PublishSignalAlert(ctx context.Context, a domain.Alert) error {
	return p.publish(ctx, ChannelSignalAlerts, a)
}

// PublishRatioAlert sends one ratio alert to the ratio channel.
func (p *RedisAlertPublisher) PublishRatioAlert(ctx context.Context, a domain.RatioAlert) error {
	return p.publish(ctx, ChannelRatioAlerts, a)
}

func (p *RedisAlertPublisher) publish(ctx context.Context, channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// NoopAlertPublisher discards alerts; used when Redis is not configured.
type NoopAlertPublisher struct{}

func (NoopAlertPublisher) PublishSignalAlert(context.Context, domain.Alert) error     { return nil }
func (NoopAlertPublisher) PublishRatioAlert(context.Context, domain.RatioAlert) error { return nil }
