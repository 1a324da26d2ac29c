package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/metrics"
)

// Outbox is the slice of the appointment repository the relay needs.
type Outbox interface {
	DrainEvents(ctx context.Context, limit int, publish func(ctx context.Context, events []appointment.EventLog) error) (int, error)
}

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay moves outbox rows to a Publisher. A batch is marked published only
// after the publisher accepted it; failures are retried on the next tick.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

func NewRelay(outbox Outbox, publisher Publisher, cfg RelayConfig, logger zerolog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		log:       logger.With().Str("component", "event-relay").Logger(),
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Int("batch_size", r.batchSize).Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("event relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("outbox publish failed")
			}
		}
	}
}

// Flush drains full batches until the outbox is empty or a batch fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n < r.batchSize {
			return total, err
		}
	}
}

func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.outbox.DrainEvents(ctx, r.batchSize, func(ctx context.Context, logs []appointment.EventLog) error {
		batch := make([]Event, len(logs))
		for i, l := range logs {
			batch[i] = FromLog(l)
		}
		return r.publisher.Publish(ctx, batch)
	})
	metrics.RecordRelay(n, err)

	if n > 0 {
		r.log.Debug().Int("count", n).Msg("published outbox events")
	}
	return n, err
}
