// Package worker consumes published lifecycle events into the warehouse.
package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/mealrun-backend/internal/analytics"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type projector interface {
	Project(analytics.Message) (*analytics.LifecycleRow, error)
}

type rowWriter interface {
	Insert(ctx context.Context, row *analytics.LifecycleRow) error
}

type eventGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	Subscription receiver
	Projector    projector
	Writer       rowWriter
	Guard        eventGuard
	Logger       *logger.Logger
}

// Service acks malformed and duplicate messages and nacks anything that may
// succeed on redelivery.
type Service struct {
	subscription receiver
	projector    projector
	writer       rowWriter
	guard        eventGuard
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case params.Projector == nil:
		return nil, errors.New("projector is required")
	case params.Writer == nil:
		return nil, errors.New("row writer is required")
	case params.Guard == nil:
		return nil, errors.New("event guard is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		projector:    params.Projector,
		writer:       params.Writer,
		guard:        params.Guard,
		logg:         params.Logger,
	}, nil
}

// Run blocks until ctx is canceled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		ack := s.handle(innerCtx, analytics.Message{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes})
		if ack {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (s *Service) handle(ctx context.Context, msg analytics.Message) bool {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": msg.Attributes["event_type"],
	})

	row, err := s.projector.Project(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping malformed lifecycle message")
		return true
	}
	logCtx = s.logg.WithField(logCtx, "event_id", row.EventID)

	seen, err := s.guard.Seen(logCtx, row.EventID)
	if err != nil {
		s.logg.Error(logCtx, "analytics dedupe check failed", err)
		return false
	}
	if seen {
		s.logg.Debug(logCtx, "lifecycle event already recorded")
		return true
	}

	if err := s.writer.Insert(logCtx, row); err != nil {
		s.logg.Error(logCtx, "lifecycle row insert failed", err)
		if forgetErr := s.guard.Forget(context.WithoutCancel(logCtx), row.EventID); forgetErr != nil {
			s.logg.Error(logCtx, "analytics dedupe rollback failed", forgetErr)
		}
		return false
	}
	s.logg.Info(logCtx, "lifecycle event recorded")
	return true
}
