package bot

import (
	"context"
	"log"

	"rhyme-circle/internal/metrics"
)

// Sender delivers one message to one user over the transport.
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

// DeliveryResult is the outcome of one recipient's delivery attempt.
type DeliveryResult struct {
	UserID int64
	Err    error
}

// Notifier fans a message out to a set of users. A failed recipient (blocked
// bot, deleted account, transport error) is logged and counted but never
// stops delivery to the rest, and never reaches the triggering caller.
type Notifier struct {
	sender    Sender
	collector *metrics.Collector
}

func NewNotifier(sender Sender, collector *metrics.Collector) *Notifier {
	return &Notifier{sender: sender, collector: collector}
}

func (n *Notifier) NotifyAll(ctx context.Context, userIDs []int64, text string) {
	for _, result := range n.deliver(ctx, userIDs, text) {
		if n.collector != nil {
			n.collector.RecordNotification(result.Err == nil)
		}
		if result.Err != nil {
			log.Printf("notification failed user_id=%d err=%v", result.UserID, result.Err)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, userIDs []int64, text string) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(userIDs))
	for _, userID := range userIDs {
		err := n.sender.Send(ctx, userID, text)
		results = append(results, DeliveryResult{UserID: userID, Err: err})
	}
	return results
}
