package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mitul-open-wallet/cosmos-stream/internal/broker"
	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/logging"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

var newConsumer = broker.NewConsumer

func selectChain(cfg *config.Config, chainID string) (chain.Chain, error) {
	chains, err := cfg.ResolveChains()
	if err != nil {
		return chain.Chain{}, err
	}
	if len(chains) == 0 {
		return chain.Chain{}, fmt.Errorf("no chains configured")
	}
	if chainID == "" {
		return chains[0], nil
	}
	for _, c := range chains {
		if c.ID == chainID {
			return c, nil
		}
	}
	return chain.Chain{}, fmt.Errorf("chain %s is not configured", chainID)
}

// runTail prints every payload consumed from the chain's queue as one JSON
// line until ctx is cancelled.
func runTail(ctx context.Context, cfg *config.Config, chainID string, out io.Writer, log logger.Logger) error {
	c, err := selectChain(cfg, chainID)
	if err != nil {
		return err
	}

	consumer, err := newConsumer(cfg.Broker, c, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx = logging.WithChain(ctx, c.ID)
	log.InfowCtx(ctx, "Tailing payloads", "broker", cfg.Broker.Type, "routing_key", c.RoutingKey)

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	return consumer.Consume(ctx, func(ctx context.Context, payload models.QueuePayload) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(payload)
	})
}
