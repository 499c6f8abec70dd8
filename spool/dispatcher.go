package spool

import (
	"context"
	"time"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts = 8
	DefaultInterval    = 30 * time.Second
	maxBackoff         = time.Hour
	batchSize          = 64
)

// A Sender delivers a single notice, eg. by handing it to a mail gateway
type Sender interface {
	Send(ctx context.Context, notice sealbox.ReceiptNotice) error
}

// Dispatcher drains a Spool through a Sender
type Dispatcher struct {
	Spool  *Spool
	Sender Sender

	// MaxAttempts is the number of failed attempts after which a notice is dead-lettered
	MaxAttempts int

	// Interval is the poll period and the first retry delay; later retries back off exponentially
	Interval time.Duration

	Logger zerolog.Logger
}

func NewDispatcher(spool *Spool, sender Sender) *Dispatcher {
	return &Dispatcher{
		Spool:       spool,
		Sender:      sender,
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
		Logger:      zerolog.Nop(),
	}
}

// Run delivers notices until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil {
			d.Logger.Error().Err(err).Msg("Notification spool error")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.Spool.Wake():
		}
	}
}

// RunOnce attempts every notice that is due and returns how many were delivered
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	entries, err := d.Spool.Due(d.Spool.now(), batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		log := d.Logger.With().Str("notice", e.ID).Str("token", e.Notice.VoteToken).Int("attempt", e.Attempts+1).Logger()

		sendErr := d.Sender.Send(ctx, e.Notice)
		if sendErr == nil {
			if err := d.Spool.Done(e.ID); err != nil {
				return delivered, err
			}
			delivered++
			log.Debug().Msg("Receipt notice delivered")
			continue
		}

		if e.Attempts+1 >= d.maxAttempts() {
			log.Error().Err(sendErr).Msg("Giving up on receipt notice")
			if err := d.Spool.Bury(e.ID, sendErr); err != nil {
				return delivered, err
			}
			continue
		}

		next := d.Spool.now().Add(d.backoff(e.Attempts))
		log.Warn().Err(sendErr).Time("next", next).Msg("Receipt notice not delivered")
		if err := d.Spool.Retry(e.ID, sendErr, next); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

// backoff is the delay after the given number of earlier failed attempts
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.interval()
	for i := 0; i < attempts && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (d *Dispatcher) interval() time.Duration {
	if d.Interval <= 0 {
		return DefaultInterval
	}
	return d.Interval
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return d.MaxAttempts
}
