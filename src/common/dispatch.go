package common

import (
	"context"
	"fmt"
	"log"
	"lovia/src/lib"
	"lovia/src/models"
	"lovia/src/types"
	"sync"
	"time"
)

const (
	ActionProjectTotal      = "project_total"
	ActionConfirmationEmail = "confirmation_email"
	ActionReceiptEmail      = "receipt_email"
	ActionPaymentEvent      = "payment_event"
)

// sideEffectTimeout caps a single action, independent of the caller's request.
const sideEffectTimeout = 30 * time.Second

type ActionResult struct {
	Action string
	Err    error
}

type action struct {
	name string
	run  func(ctx context.Context, order *models.Order) error
}

// Dispatcher fans out the effects of a paid transition. Every action runs
// on its own goroutine; one failing never affects another or the order.
type Dispatcher struct {
	directory Directory
	books     Bookkeeper
	notifier  Notifier
	publisher lib.EventPublisher
	wait      time.Duration
}

func NewDispatcher(directory Directory, books Bookkeeper, notifier Notifier, publisher lib.EventPublisher, wait time.Duration) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		books:     books,
		notifier:  notifier,
		publisher: publisher,
		wait:      wait,
	}
}

func (d *Dispatcher) actions(order *models.Order) []action {
	acts := []action{{name: ActionProjectTotal, run: d.incrementTotal}}
	if d.notifier != nil {
		acts = append(acts, action{name: ActionConfirmationEmail, run: d.sendConfirmation})
		if order.ReceiptWanted() {
			acts = append(acts, action{name: ActionReceiptEmail, run: d.sendReceipt})
		}
	}
	if d.publisher != nil {
		acts = append(acts, action{name: ActionPaymentEvent, run: d.publishPaid})
	}
	return acts
}

// Dispatch returns the results of the actions that finished within the wait
// bound. Actions still running keep going in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order) []ActionResult {
	acts := d.actions(order)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	results := make(chan ActionResult, len(acts))

	var wg sync.WaitGroup
	for _, a := range acts {
		wg.Add(1)
		go func(a action) {
			defer wg.Done()
			results <- runAction(actx, a, order)
		}(a)
	}
	go func() {
		wg.Wait()
		cancel()
	}()

	out := make([]ActionResult, 0, len(acts))
	timer := time.NewTimer(d.wait)
	defer timer.Stop()
	for len(out) < len(acts) {
		select {
		case r := <-results:
			if r.Err != nil {
				log.Printf("[Dispatch] %s failed for order %s: %s\n", r.Action, order.OrderUUID, r.Err.Error())
			}
			out = append(out, r)
		case <-timer.C:
			log.Printf("[Dispatch] %d action(s) still running for order %s\n", len(acts)-len(out), order.OrderUUID)
			return out
		}
	}
	return out
}

func runAction(ctx context.Context, a action, order *models.Order) (res ActionResult) {
	res.Action = a.name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	res.Err = a.run(ctx, order)
	return res
}

func (d *Dispatcher) incrementTotal(ctx context.Context, order *models.Order) error {
	return d.books.IncrementProjectTotal(ctx, order.ProjectID, order.Amount)
}

func (d *Dispatcher) loadMailData(ctx context.Context, order *models.Order) (string, *mailData, error) {
	user, err := d.directory.FindUser(ctx, order.UserID)
	if err != nil {
		return "", nil, err
	}
	if user.Email == "" {
		return "", nil, fmt.Errorf("user %d has no email", user.ID)
	}
	project, err := d.directory.FindProject(ctx, order.ProjectID)
	if err != nil {
		return "", nil, err
	}
	plan, err := d.directory.FindPlan(ctx, order.PlanID)
	if err != nil {
		return "", nil, err
	}
	return user.Email, newMailData(order, user, project, plan), nil
}

func (d *Dispatcher) sendConfirmation(ctx context.Context, order *models.Order) error {
	to, data, err := d.loadMailData(ctx, order)
	if err != nil {
		return err
	}
	subject, body, err := renderConfirmation(data)
	if err != nil {
		return err
	}
	return d.notifier.Send(ctx, to, subject, body)
}

func (d *Dispatcher) sendReceipt(ctx context.Context, order *models.Order) error {
	to, data, err := d.loadMailData(ctx, order)
	if err != nil {
		return err
	}
	subject, body, err := renderReceipt(data)
	if err != nil {
		return err
	}
	return d.notifier.Send(ctx, to, subject, body)
}

func (d *Dispatcher) publishPaid(ctx context.Context, order *models.Order) error {
	payload := types.JSONB{
		"order_uuid": order.OrderUUID.String(),
		"user_id":    order.UserID,
		"project_id": order.ProjectID,
		"plan_id":    order.PlanID,
		"amount":     order.Amount,
	}
	if order.PaymentMethod != nil {
		payload["payment_method"] = *order.PaymentMethod
	}
	if order.PaidAt != nil {
		payload["paid_at"] = order.PaidAt.UTC().Format(time.RFC3339)
	}
	return d.publisher.Publish(ctx, lib.TopicPaymentPaid, payload)
}
