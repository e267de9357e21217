package bootstrap

import (
	"context"
	"fmt"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

type Base struct {
	Config         *config.Config
	Logger         logger.Logger
	TracerProvider *tracing.TracerProvider
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitTracing(serviceName string) error {
	tp, err := tracing.Init(b.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.TracerProvider = tp
	return nil
}

func (b *Base) ShutdownTracing(ctx context.Context) []error {
	if b.TracerProvider == nil {
		return nil
	}
	if err := b.TracerProvider.Shutdown(ctx); err != nil {
		return []error{fmt.Errorf("tracer provider shutdown error: %w", err)}
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownTracing(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
