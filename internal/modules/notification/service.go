// README: Notification service turns trip events into de-duplicated pushes.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ridehail/internal/events"
)

type Service struct {
	pusher Pusher
	dedupe Deduper
	log    *zap.Logger
}

func NewService(pusher Pusher, dedupe Deduper, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pusher: pusher, dedupe: dedupe, log: log}
}

// Handle delivers the pushes for e once per (trip, event type). A failed push
// releases the claim and returns the error so the broker redelivers.
func (s *Service) Handle(ctx context.Context, e events.TripEvent) error {
	if e.TripID == "" || e.RiderID == "" {
		return fmt.Errorf("%w: trip event without trip or rider id", events.ErrPoison)
	}
	msgs := Messages(e)
	if len(msgs) == 0 {
		s.log.Debug("no recipients", zap.String("event", string(e.Type)), zap.String("trip_id", e.TripID))
		return nil
	}

	key := e.Key()
	first, err := s.dedupe.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !first {
		s.log.Info("duplicate trip event skipped", zap.String("event", string(e.Type)), zap.String("trip_id", e.TripID))
		return nil
	}

	for _, n := range msgs {
		if err := s.pusher.Push(ctx, n); err != nil {
			if relErr := s.dedupe.Release(ctx, key); relErr != nil {
				s.log.Warn("release dedupe key", zap.String("key", key), zap.Error(relErr))
			}
			return err
		}
	}
	s.log.Info("trip event notified",
		zap.String("event", string(e.Type)),
		zap.String("trip_id", e.TripID),
		zap.Int("recipients", len(msgs)),
	)
	return nil
}
