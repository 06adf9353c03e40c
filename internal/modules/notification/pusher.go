// README: FCM topic pusher and a logging fallback.
package notification

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// Sender is the part of *messaging.Client the pusher needs.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMPusher sends to the per-user topic "user_<id>" that clients subscribe to.
type FCMPusher struct {
	client Sender
	log    *zap.Logger
}

func NewFCMPusher(client Sender, log *zap.Logger) *FCMPusher {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCMPusher{client: client, log: log}
}

func Topic(n Notification) string {
	return "user_" + string(n.UserID)
}

func (p *FCMPusher) Push(ctx context.Context, n Notification) error {
	msg := &messaging.Message{
		Topic: Topic(n),
		Data:  n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	id, err := p.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to %s: %w", msg.Topic, err)
	}
	p.log.Debug("push sent", zap.String("user_id", string(n.UserID)), zap.String("message_id", id))
	return nil
}

type LogPusher struct {
	Log *zap.Logger
}

func (p LogPusher) Push(_ context.Context, n Notification) error {
	if p.Log != nil {
		p.Log.Info("push notification",
			zap.String("user_id", string(n.UserID)),
			zap.String("title", n.Title),
			zap.String("body", n.Body),
		)
	}
	return nil
}
