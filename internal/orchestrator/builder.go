package orchestrator

import (
	"fmt"
	"strconv"

	"github.com/mitul-open-wallet/cosmos-stream/internal/alert"
	"github.com/mitul-open-wallet/cosmos-stream/internal/broker"
	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/deduplication"
	"github.com/mitul-open-wallet/cosmos-stream/internal/extractor"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/status"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/cel"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/circuitbreaker"
)

// Dependencies are the shared collaborators handed to every pipeline. Nil
// members disable the feature they back.
type Dependencies struct {
	Dialer     stream.Dialer
	Store      *status.Store
	Alerter    *alert.MultiAlerter
	Dedup      *deduplication.Service
	NewGateway func(cfg config.BrokerConfig, c chain.Chain, log logger.Logger) (broker.Gateway, error)
}

// Build resolves the configured chains and assembles one pipeline per chain.
func Build(cfg *config.Config, deps Dependencies, log logger.Logger) ([]*Pipeline, error) {
	chains, err := cfg.ResolveChains()
	if err != nil {
		return nil, err
	}

	newGateway := deps.NewGateway
	if newGateway == nil {
		newGateway = broker.NewGateway
	}

	var filter *cel.Filter
	if cfg.Filter.Expression != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return nil, err
		}
		filter, err = evaluator.NewFilter(cfg.Filter.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
	}

	pipelines := make([]*Pipeline, 0, len(chains))
	for _, c := range chains {
		gateway, err := newGateway(cfg.Broker, c, log)
		if err != nil {
			return nil, err
		}

		manager := stream.NewManager(
			c,
			stream.OptionsFor(cfg.Stream, c),
			deps.Dialer,
			extractor.ForChain(c, log),
			log,
			managerOptions(c, deps)...,
		)

		opts := []PipelineOption{}
		if filter != nil {
			opts = append(opts, WithFilter(filter))
		}
		if deps.Dedup != nil {
			opts = append(opts, WithDeduplicator(deps.Dedup))
		}
		if cfg.CircuitBreaker.Enabled {
			opts = append(opts, WithBreaker(circuitbreaker.NewWrapper(
				circuitbreaker.FromConfig("publish:"+c.ID, cfg.CircuitBreaker),
			)))
		}
		if deps.Alerter != nil {
			opts = append(opts, WithNotifier(deps.Alerter))
		}
		if deps.Store != nil {
			opts = append(opts, WithPublishedHook(deps.Store.RecordLastMessage))
		}

		pipelines = append(pipelines, NewPipeline(manager, gateway, cfg.Stream.SupervisorInterval, log, opts...))
	}
	return pipelines, nil
}

func managerOptions(c chain.Chain, deps Dependencies) []stream.ManagerOption {
	var opts []stream.ManagerOption
	if deps.Store != nil {
		opts = append(opts, stream.WithStatusHook(deps.Store.Track))
	}
	if deps.Alerter != nil {
		alerter := deps.Alerter
		opts = append(opts, stream.WithGiveUpHook(func(chainID string, attempts int) {
			alerter.Notify(alert.Alert{
				Type:    alert.AlertTypeGivenUp,
				Chain:   chainID,
				Title:   "Reconnect attempts exhausted",
				Message: "stopped reconnecting to " + c.Endpoint,
				Fields: map[string]string{
					"attempts": strconv.Itoa(attempts),
					"endpoint": c.Endpoint,
				},
			})
		}))
	}
	return opts
}
