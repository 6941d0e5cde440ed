package lib

import (
	"context"
	"errors"
	"fmt"
	"lovia/src/types"
	"strings"
)

const (
	TopicPaymentPaid  = "payment.paid"
	TopicPaymentAlert = "payment.alert"
)

// EventPublisher pushes payment events to the message bus.
type EventPublisher interface {
	Name() string
	Publish(ctx context.Context, topic string, payload types.JSONB) error
}

// FanoutPublisher hands every event to each publisher and reports all failures.
type FanoutPublisher []EventPublisher

func (f FanoutPublisher) Name() string {
	names := make([]string, 0, len(f))
	for _, p := range f {
		names = append(names, p.Name())
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f FanoutPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
