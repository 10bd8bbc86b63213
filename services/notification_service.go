package services

import (
	"context"
	"fmt"

	"relay-lab/contract"
	"relay-lab/delivery"
	"relay-lab/domain/event"
	"relay-lab/errors"
)

var _ contract.RecordHandler = (*NotificationService)(nil)

// NotificationService is the side effect behind the notification
// consumer binding: decode the record and hand it to the delivery
// router. A recipient with no live session completes as a no-op, so the
// consumer still acknowledges; transport failures bubble up into the
// consumer's retry chain.
type NotificationService struct {
	router *delivery.Router
}

func NewNotificationService(router *delivery.Router) *NotificationService {
	return &NotificationService{router: router}
}

func (s *NotificationService) Handle(ctx context.Context, value []byte) error {
	evt, err := event.DecodeNotification(value)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return s.router.Deliver(ctx, evt)
}
