package status

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
)

const (
	fieldStatus      = "status"
	fieldPrevious    = "previous"
	fieldChangedAt   = "changed_at"
	fieldLastMessage = "last_message_at"
)

// Record is the persisted view of one chain's connection.
type Record struct {
	Chain         string    `json:"chain"`
	Status        string    `json:"status"`
	Previous      string    `json:"previous,omitempty"`
	ChangedAt     time.Time `json:"changedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

type update struct {
	change      *stream.StatusChange
	chain       string
	lastMessage time.Time
}

// Store mirrors manager status into redis hashes keyed per chain. Track and
// RecordLastMessage never block; updates are dropped when the queue is full.
type Store struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  logger.Logger
	updates chan update
}

func NewStore(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	return &Store{
		client:  client,
		ttl:     ttl,
		logger:  log.With("component", "status_store"),
		updates: make(chan update, constants.StatusQueueSize),
	}
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func Key(chainID string) string {
	return constants.StatusKeyPrefix + chainID
}

func (s *Store) Track(change stream.StatusChange) {
	s.enqueue(update{change: &change, chain: change.Chain})
}

func (s *Store) RecordLastMessage(chainID string, at time.Time) {
	s.enqueue(update{chain: chainID, lastMessage: at})
}

func (s *Store) enqueue(u update) {
	select {
	case s.updates <- u:
	default:
		metrics.IncStatusStoreWrite("dropped")
	}
}

// Run drains queued updates until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.updates:
			var err error
			if u.change != nil {
				err = s.WriteChange(ctx, *u.change)
			} else {
				err = s.WriteLastMessage(ctx, u.chain, u.lastMessage)
			}
			if err != nil && ctx.Err() == nil {
				s.logger.WarnwCtx(ctx, "Failed to persist status", "chain", u.chain, "error", err)
			}
		}
	}
}

func (s *Store) WriteChange(ctx context.Context, change stream.StatusChange) error {
	return s.write(ctx, change.Chain, map[string]interface{}{
		fieldStatus:    change.To.String(),
		fieldPrevious:  change.From.String(),
		fieldChangedAt: change.At.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Store) WriteLastMessage(ctx context.Context, chainID string, at time.Time) error {
	return s.write(ctx, chainID, map[string]interface{}{
		fieldLastMessage: at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Store) write(ctx context.Context, chainID string, fields map[string]interface{}) error {
	key := Key(chainID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.IncStatusStoreWrite("error")
		return err
	}
	metrics.IncStatusStoreWrite("ok")
	return nil
}

// Get returns redis.Nil when nothing is stored for the chain.
func (s *Store) Get(ctx context.Context, chainID string) (Record, error) {
	values, err := s.client.HGetAll(ctx, Key(chainID)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(values) == 0 {
		return Record{}, redis.Nil
	}

	rec := Record{
		Chain:    chainID,
		Status:   values[fieldStatus],
		Previous: values[fieldPrevious],
	}
	if v, ok := values[fieldChangedAt]; ok {
		rec.ChangedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := values[fieldLastMessage]; ok {
		rec.LastMessageAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return rec, nil
}
