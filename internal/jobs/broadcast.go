// Package jobs holds the scheduled job bodies and the subscriber fan-out
// they share.
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"integration-report-bot/internal/messenger"
	"integration-report-bot/internal/report"
)

// Recipients is the broadcast audience. subscribers.Service implements it.
type Recipients interface {
	List() []int64
	Deactivate(ctx context.Context, chatID int64) error
}

// Delivery sends one payload to one chat and reports the outcome of the
// first send that was not delivered, or Delivered.
type Delivery func(ctx context.Context, m messenger.Messenger, chatID int64) messenger.Outcome

// Text delivers text, split into Telegram-sized parts
func Text(text string, mode messenger.ParseMode) Delivery {
	parts := report.SplitMessage(text, report.MaxMessageLength)
	return func(ctx context.Context, m messenger.Messenger, chatID int64) messenger.Outcome {
		for _, part := range parts {
			if out := m.SendText(ctx, chatID, part, mode); !out.OK() {
				return out
			}
		}
		return messenger.Delivery()
	}
}

// Document delivers a file attachment
func Document(doc messenger.Document, caption string) Delivery {
	return func(ctx context.Context, m messenger.Messenger, chatID int64) messenger.Outcome {
		return m.SendDocument(ctx, chatID, doc, caption)
	}
}

// Sequence runs deliveries in order and stops at the first failure
func Sequence(steps ...Delivery) Delivery {
	return func(ctx context.Context, m messenger.Messenger, chatID int64) messenger.Outcome {
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				return messenger.Transient(err)
			}
			if out := step(ctx, m, chatID); !out.OK() {
				return out
			}
		}
		return messenger.Delivery()
	}
}

// Summary counts the outcomes of one broadcast
type Summary struct {
	Recipients  int
	Delivered   int
	Blocked     int
	Failed      int
	Skipped     int
	Deactivated []int64
}

// Broadcaster fans a delivery out to every recipient with bounded
// concurrency. One recipient's failure never affects another.
type Broadcaster struct {
	messenger   messenger.Messenger
	recipients  Recipients
	concurrency int
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. concurrency below 1 means 1.
func NewBroadcaster(m messenger.Messenger, recipients Recipients, concurrency int, logger *slog.Logger) *Broadcaster {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Broadcaster{
		messenger:   m,
		recipients:  recipients,
		concurrency: concurrency,
		logger:      logger.With("component", "broadcast"),
	}
}

// Recipients returns the current audience snapshot
func (b *Broadcaster) Recipients() []int64 {
	return b.recipients.List()
}

// Broadcast delivers to chatIDs. Recipients that blocked the bot are
// deactivated. Once ctx is cancelled the remaining recipients are skipped.
func (b *Broadcaster) Broadcast(ctx context.Context, chatIDs []int64, deliver Delivery) Summary {
	var (
		mu      sync.Mutex
		summary = Summary{Recipients: len(chatIDs)}
	)

	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for _, chatID := range chatIDs {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}

			out := deliver(ctx, b.messenger, chatID)

			switch out.Kind {
			case messenger.Delivered:
				mu.Lock()
				summary.Delivered++
				mu.Unlock()

			case messenger.PermanentlyBlocked:
				b.logger.Info("recipient blocked the bot, unsubscribing", "chat_id", chatID, "error", out.Err)
				// Unsubscribe even when the run was cancelled meanwhile
				err := b.recipients.Deactivate(context.WithoutCancel(ctx), chatID)
				if err != nil {
					b.logger.Error("failed to deactivate blocked recipient", "chat_id", chatID, "error", err)
				}
				mu.Lock()
				summary.Blocked++
				if err == nil {
					summary.Deactivated = append(summary.Deactivated, chatID)
				}
				mu.Unlock()

			default:
				b.logger.Warn("delivery failed", "chat_id", chatID, "error", out.Err)
				mu.Lock()
				summary.Failed++
				mu.Unlock()
			}
			return nil
		})
	}

	// Workers never return errors
	_ = g.Wait()

	b.logger.Info("broadcast finished",
		"recipients", summary.Recipients,
		"delivered", summary.Delivered,
		"blocked", summary.Blocked,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary
}
