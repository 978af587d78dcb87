package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

func TestRedisAlertPublisherSignalRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, ChannelSignalAlerts)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	sent := domain.Alert{
		ID:            "a-1",
		RuleID:        "r-1",
		AlertType:     domain.AlertSignalDead,
		PreviousState: domain.SignalWeak,
		CurrentState:  domain.SignalDead,
		GapMinutes:    300,
		Count24h:      11,
		Message:       "signal lost",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pub := NewRedisAlertPublisher(client)
	if err := pub.PublishSignalAlert(ctx, sent); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-sub.Channel():
		var got domain.Alert
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatal(err)
		}
		if got.RuleID != sent.RuleID || got.AlertType != sent.AlertType ||
			got.GapMinutes != sent.GapMinutes || got.Count24h != sent.Count24h {
			t.Errorf("received alert = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert received")
	}
}

func TestRedisAlertPublisherRatioRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, ChannelRatioAlerts)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	sent := domain.RatioAlert{
		MonitorID:     "m-1",
		PreviousState: domain.RatioHealthy,
		CurrentState:  domain.RatioAlerted,
		FirstCount:    120,
		SecondCount:   12,
		CurrentRatio:  10,
		Message:       "conversion collapsed",
	}
	pub := NewRedisAlertPublisher(client)
	if err := pub.PublishRatioAlert(ctx, sent); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-sub.Channel():
		var got domain.RatioAlert
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatal(err)
		}
		if got.MonitorID != sent.MonitorID || got.CurrentState != sent.CurrentState ||
			got.CurrentRatio != sent.CurrentRatio {
			t.Errorf("received alert = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert received")
	}
}

func TestNoopAlertPublisher(t *testing.T) {
	ctx := context.Background()
	var p NoopAlertPublisher
	if err := p.PublishSignalAlert(ctx, domain.Alert{}); err != nil {
		t.Fatal(err)
	}
	if err := p.PublishRatioAlert(ctx, domain.RatioAlert{}); err != nil {
		t.Fatal(err)
	}
}
