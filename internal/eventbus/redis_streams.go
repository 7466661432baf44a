package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// errTrimmed reports that read settled a pending entry whose body is gone.
var errTrimmed = errors.New("pending entry trimmed")

type RedisStreamsConfig struct {
	// Block bounds one XREADGROUP wait for new entries.
	Block time.Duration
	// ClaimIdle is how long an entry must sit pending with another consumer
	// (e.g. a crashed replica) before this consumer takes it over.
	ClaimIdle time.Duration
	// MaxLen caps each stream approximately. Zero keeps everything.
	MaxLen int64
}

// RedisStreams is a Bus on Redis Streams: one stream per topic, one consumer
// group per subscribing service.
type RedisStreams struct {
	client *redis.Client
	cfg    RedisStreamsConfig
}

func NewRedisStreams(client *redis.Client, cfg RedisStreamsConfig) *RedisStreams {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	return &RedisStreams{client: client, cfg: cfg}
}

func (r *RedisStreams) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

func (r *RedisStreams) Subscribe(ctx context.Context, topic, group, consumer string) (Stream, error) {
	// Start a new group at the beginning of the stream so events published
	// before the consumer first came up are not skipped.
	err := r.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create group %s on %s: %w", group, topic, err)
	}

	return &redisStream{
		bus:      r,
		topic:    topic,
		group:    group,
		consumer: consumer,
		attempts: make(map[string]int),
	}, nil
}

type redisStream struct {
	bus       *RedisStreams
	topic     string
	group     string
	consumer  string
	attempts  map[string]int
	lastClaim time.Time
}

func (s *redisStream) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}

		if time.Since(s.lastClaim) >= s.bus.cfg.ClaimIdle {
			if err := s.claimAbandoned(ctx); err != nil {
				return Delivery{}, err
			}
			s.lastClaim = time.Now()
		}

		// Own pending entries first, so a failed entry is retried before
		// anything newer.
		d, ok, err := s.read(ctx, "0", -1)
		if errors.Is(err, errTrimmed) {
			continue
		}
		if err != nil {
			return Delivery{}, err
		}
		if ok {
			return d, nil
		}

		d, ok, err = s.read(ctx, ">", s.bus.cfg.Block)
		if errors.Is(err, errTrimmed) {
			continue
		}
		if err != nil {
			return Delivery{}, err
		}
		if ok {
			return d, nil
		}
	}
}

func (s *redisStream) claimAbandoned(ctx context.Context) error {
	_, _, err := s.bus.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.topic,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.bus.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xautoclaim %s: %w", s.topic, err)
	}
	return nil
}

// read issues one XREADGROUP for a single entry. block < 0 means do not block.
func (s *redisStream) read(ctx context.Context, id string, block time.Duration) (Delivery, bool, error) {
	res, err := s.bus.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.topic, id},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, fmt.Errorf("xreadgroup %s: %w", s.topic, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Delivery{}, false, nil
	}

	msg := res[0].Messages[0]

	// A pending entry whose body was trimmed away comes back without values.
	// Nothing can process it, so settle it and look at the next pending one.
	if len(msg.Values) == 0 {
		if err := s.ack(ctx, msg.ID); err != nil {
			return Delivery{}, false, err
		}
		return Delivery{}, false, errTrimmed
	}

	key, _ := msg.Values[fieldKey].(string)
	payload, _ := msg.Values[fieldPayload].(string)

	attempt, err := s.attempt(ctx, msg.ID)
	if err != nil {
		return Delivery{}, false, err
	}

	id = msg.ID
	return NewDelivery(id, s.topic, key, []byte(payload), attempt, func(ctx context.Context) error {
		return s.ack(ctx, id)
	}), true, nil
}

// attempt combines the server-side delivery counter, which survives
// restarts, with a local counter.
func (s *redisStream) attempt(ctx context.Context, id string) (int, error) {
	s.attempts[id]++
	local := s.attempts[id]

	pending, err := s.bus.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.topic,
		Group:  s.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", s.topic, err)
	}
	if len(pending) == 1 && int(pending[0].RetryCount) > local {
		return int(pending[0].RetryCount), nil
	}
	return local, nil
}

func (s *redisStream) ack(ctx context.Context, id string) error {
	if err := s.bus.client.XAck(ctx, s.topic, s.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", s.topic, id, err)
	}
	delete(s.attempts, id)
	return nil
}

func (s *redisStream) Close() error {
	return nil
}
