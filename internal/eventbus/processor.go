package eventbus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Handler processes one delivery. It must be idempotent: the same delivery
// can arrive more than once.
type Handler func(ctx context.Context, d Delivery) error

type ProcessorConfig struct {
	Topic       string
	Group       string
	Consumer    string
	MaxAttempts int
	// RetryDelay is how long the loop waits after a failed handler before
	// asking for the next delivery (which will be the same one).
	RetryDelay time.Duration
	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration
}

func (c ProcessorConfig) normalized() ProcessorConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	return c
}

// Processor is the subscribe loop for one topic. It acknowledges a delivery
// only after the handler succeeds, and dead-letters it after MaxAttempts
// failures or a Permanent error.
type Processor struct {
	bus     Bus
	handler Handler
	cfg     ProcessorConfig
	logger  *zap.Logger
}

func NewProcessor(bus Bus, handler Handler, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	return &Processor{
		bus:     bus,
		handler: handler,
		cfg:     cfg,
		logger: logger.With(
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.Group),
			zap.String("consumer", cfg.Consumer),
		),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (p *Processor) Run(ctx context.Context) error {
	stream, err := p.bus.Subscribe(ctx, p.cfg.Topic, p.cfg.Group, p.cfg.Consumer)
	if err != nil {
		return err
	}
	defer stream.Close()

	p.logger.Info("consumer started")

	for {
		d, err := stream.Next(ctx)
		if ctx.Err() != nil {
			p.logger.Info("consumer stopped")
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			p.logger.Warn("read from stream failed", zap.Error(err))
			if !sleep(ctx, p.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		if !p.Process(ctx, d) {
			if !sleep(ctx, p.cfg.RetryDelay) {
				return nil
			}
		}
	}
}

// Process runs the handler for d and settles it. It reports whether the
// delivery was acknowledged.
func (p *Processor) Process(ctx context.Context, d Delivery) bool {
	log := p.logger.With(
		zap.String("delivery_id", d.ID),
		zap.String("key", d.Key),
		zap.Int("attempt", d.Attempt),
	)

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	err := p.handler(hctx, d)
	cancel()

	if err == nil {
		return p.ack(ctx, d, log)
	}

	if !IsPermanent(err) && d.Attempt < p.cfg.MaxAttempts {
		log.Warn("handler failed, leaving unacknowledged for redelivery", zap.Error(err))
		return false
	}

	log.Error("handler failed, dead-lettering", zap.Error(err), zap.Bool("permanent", IsPermanent(err)))
	if pubErr := p.bus.Publish(ctx, d.Topic+DeadLetterSuffix, d.Key, d.Payload); pubErr != nil {
		log.Error("dead-letter publish failed, leaving unacknowledged", zap.Error(pubErr))
		return false
	}
	return p.ack(ctx, d, log)
}

func (p *Processor) ack(ctx context.Context, d Delivery, log *zap.Logger) bool {
	if err := d.Ack(ctx); err != nil {
		// The handler is idempotent, so a lost ack only costs a redelivery.
		log.Warn("ack failed", zap.Error(err))
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
