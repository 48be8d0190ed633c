package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/kaupa/internal/events"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/shopspring/decimal"
)

// OrderNotifier is an events.Publisher that sends the order receipt when an
// order is finalized, then forwards every event to the next publisher.
// Mail goes out in the background so a slow mail server never holds up the
// webhook that finalized the order. Close waits for pending sends.
type OrderNotifier struct {
	next    events.Publisher
	sender  Sender
	baseURL string
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewOrderNotifier wraps next. baseURL is used for the order lookup link.
func NewOrderNotifier(next events.Publisher, sender Sender, baseURL string, logger *slog.Logger) *OrderNotifier {
	if next == nil {
		next = events.NopPublisher{}
	}
	return &OrderNotifier{
		next:    next,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

func (n *OrderNotifier) Publish(ctx context.Context, subject string, event any) error {
	if subject == events.SubjectOrderFinalized {
		if e, ok := event.(events.OrderFinalized); ok && e.Email != "" {
			n.sendReceipt(ctx, e)
		}
	}
	return n.next.Publish(ctx, subject, event)
}

// Close waits for in-flight receipts and closes the next publisher.
func (n *OrderNotifier) Close() error {
	n.wg.Wait()
	return n.next.Close()
}

func (n *OrderNotifier) sendReceipt(ctx context.Context, e events.OrderFinalized) {
	msg := &Email{
		To:       []string{e.Email},
		Subject:  fmt.Sprintf("Order %s received", e.Number),
		TextBody: n.receiptBody(e),
		Headers:  map[string]string{"X-Order-Number": e.Number},
	}

	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer telemetry.RecoverWithSentry()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		id, err := n.sender.Send(ctx, msg)
		if err != nil {
			n.logger.Error("order receipt not sent", "order_number", e.Number, "error", err)
			return
		}
		n.logger.Info("order receipt sent", "order_number", e.Number, "message_id", id)
	}()
}

func (n *OrderNotifier) receiptBody(e events.OrderFinalized) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your order.\n\n")
	fmt.Fprintf(&b, "Order number: %s\n", e.Number)
	fmt.Fprintf(&b, "Total: %s %s\n", decimal.New(e.TotalCents, -2).StringFixed(2), strings.ToUpper(e.Currency))
	if e.Status == "pending" {
		fmt.Fprintf(&b, "\nYour payment is still clearing. We'll start on your order once it does.\n")
	}
	if n.baseURL != "" {
		fmt.Fprintf(&b, "\nLook up your order any time at %s/orders/lookup using this email address and order number.\n", n.baseURL)
	}
	return b.String()
}
