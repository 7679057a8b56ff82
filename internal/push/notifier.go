package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/overlap/internal/model"
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Subscriptions is the subscription storage the notifier reads and prunes.
type Subscriptions interface {
	List(ctx context.Context) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

const (
	defaultMaxRetries = 3
	sendTimeout       = 30 * time.Second
)

// Notifier broadcasts conflict notifications to every subscription. Delivery
// runs in the background and never reports back to the caller.
type Notifier struct {
	sender     Sender
	subs       Subscriptions
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewNotifier(sender Sender, subs Subscriptions, maxRetries int, logger *slog.Logger) *Notifier {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &Notifier{
		sender:     sender,
		subs:       subs,
		maxRetries: uint64(maxRetries),
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
}

// Schedule queues a "conflict detected" notification and returns immediately.
func (n *Notifier) Schedule(conflictID uuid.UUID, title, body string) {
	payload := Payload{
		Title: title,
		Body:  body,
		URL:   "/conflicts/" + conflictID.String(),
		Tag:   "conflict-" + conflictID.String(),
		Type:  model.NotifTypeConflictDetected,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.Broadcast(ctx, payload)
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Broadcast sends payload to every subscription and returns how many
// deliveries succeeded. Expired subscriptions are removed.
func (n *Notifier) Broadcast(ctx context.Context, payload Payload) int {
	subs, err := n.subs.List(ctx)
	if err != nil {
		n.logger.Error("list push subscriptions", "error", err)
		return 0
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		err := n.send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			n.logger.Info("removing expired push subscription", "subscription_id", sub.ID)
			if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				n.logger.Error("delete expired push subscription", "subscription_id", sub.ID, "error", err)
			}
		default:
			n.logger.Warn("push delivery failed", "subscription_id", sub.ID, "type", payload.Type, "error", err)
		}
	}
	n.logger.Debug("push broadcast", "type", payload.Type, "sent", sent, "subscriptions", len(subs))
	return sent
}

func (n *Notifier) send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	b := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.backoff))
	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := n.sender.Send(ctx, sub, payload)
		if err == nil || errors.Is(err, ErrExpired) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil && attempts > 1 {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return err
}
