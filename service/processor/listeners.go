package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/broswen/testnetpay/service/events"
	"github.com/broswen/testnetpay/service/metrics"
	"github.com/broswen/testnetpay/service/webhook"
)

// SettlementListener is notified exactly once when an invoice settles.
// Listeners must not block; anything slow belongs behind its own queue.
type SettlementListener interface {
	InvoiceSettled(inv Invoice)
}

// WebhookListener enqueues the settled invoice's full state for asynchronous
// delivery to the configured URL. Delivery failures are retried by the queue
// and never surface back to the settlement path.
type WebhookListener struct {
	Queue *webhook.Queue
	URL   string
}

func (l WebhookListener) InvoiceSettled(inv Invoice) {
	l.Queue.Add(l.URL, inv)
}

// EventListener publishes a settlement event to the event bus. Publish
// failures are logged and dropped; settlement is fire-and-forget from the
// processor's perspective.
type EventListener struct {
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (l EventListener) InvoiceSettled(inv Invoice) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &events.SettlementEvent{
		InvoiceID:      inv.ID,
		Currency:       inv.Currency,
		Amount:         inv.Amount,
		PaidAmount:     inv.PaidAmount,
		PaymentAddress: inv.PaymentAddress,
		CreatedAt:      inv.CreatedAt,
		SettledAt:      time.Now().UTC(),
		PublishedAt:    time.Now().UTC(),
	}
	// Label by the stream pattern, not the per-invoice subject, to keep
	// metric cardinality bounded.
	subject := events.StreamSubjects
	if err := l.Publisher.PublishSettlement(ctx, event); err != nil {
		if l.Metrics != nil {
			l.Metrics.RecordEventPublished(subject, "failure")
		}
		if l.Logger != nil {
			l.Logger.Error("failed to publish settlement event",
				"invoice_id", inv.ID, "error", err)
		}
		return
	}
	if l.Metrics != nil {
		l.Metrics.RecordEventPublished(subject, "success")
	}
}
