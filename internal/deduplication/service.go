package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

// Service drops transfers a chain node delivers more than once, typically
// after a resubscription.
type Service struct {
	repo         Repository
	ttl          time.Duration
	onRedisError string
	logger       logger.Logger
}

func NewService(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTL
	}
	onRedisError := cfg.OnRedisError
	if onRedisError == "" {
		onRedisError = constants.FallbackAllow
	}
	return &Service{
		repo:         repo,
		ttl:          ttl,
		onRedisError: onRedisError,
		logger:       log.With("component", "deduplication"),
	}
}

func key(chainID, hash string) string {
	return constants.DedupKeyPrefix + chainID + ":" + hash
}

// Claim marks the payload as seen and reports whether this was the first
// time. Redis failures follow on_redis_error.
func (s *Service) Claim(ctx context.Context, chainID string, payload models.QueuePayload) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	k := key(chainID, Hash(chainID, payload))
	unique, err := s.repo.SetNX(ctx, k, time.Now().Unix(), s.ttl)
	if err != nil {
		metrics.IncDedupCheck(chainID, "error")
		if s.onRedisError == constants.FallbackAllow {
			s.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing payload (fallback: allow)",
				"error", err,
			)
			return true, nil
		}
		return false, fmt.Errorf("dedup check for chain %s: %w", chainID, err)
	}

	if unique {
		metrics.IncDedupCheck(chainID, "unique")
	} else {
		metrics.IncDedupCheck(chainID, "duplicate")
	}
	return unique, nil
}

// Release forgets a claimed payload so a later delivery is published again.
func (s *Service) Release(ctx context.Context, chainID string, payload models.QueuePayload) {
	if err := s.repo.Delete(ctx, key(chainID, Hash(chainID, payload))); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to release dedup key", "error", err)
	}
}
