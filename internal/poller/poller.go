// Package poller consumes checkout events and finishes checkouts whose cart
// could not be emptied when the order was created.
package poller

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/events"
)

const GroupID = "storefront-cart-reconciler"

type Reconciler interface {
	Reconcile(ctx context.Context, userID, orderID string, items []domain.LineItem) error
}

type Poller struct {
	reconciler Reconciler
	reader     *kafka.Reader
	lg         *zap.Logger
}

func NewPoller(reconciler Reconciler, lg *zap.Logger, topic string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{reconciler: reconciler, reader: reader, lg: lg}
}

// Run reads events until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		p.handleNext(ctx)
	}
}

func (p *Poller) Close() error {
	if err := p.reader.Close(); err != nil {
		return errors.Wrap(err, "close reader")
	}
	return nil
}

func (p *Poller) handleNext(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.lg.Warn("Read checkout event failed", zap.Error(err))
		}
		return
	}

	event, err := events.Decode(m.Value)
	if err != nil {
		p.lg.Warn("Skipping malformed checkout event",
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return
	}

	p.handle(ctx, event)
}

func (p *Poller) handle(ctx context.Context, event events.CheckoutEvent) {
	if event.CartCleared {
		return
	}

	lg := p.lg.With(
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID),
	)
	if err := p.reconciler.Reconcile(ctx, event.UserID, event.OrderID, event.Items); err != nil {
		lg.Error("Reconcile cart after checkout failed", zap.Error(err))
		return
	}
	lg.Info("Deducted ordered items left in cart", zap.Int("items", len(event.Items)))
}
