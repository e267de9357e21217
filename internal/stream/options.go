package stream

import (
	"time"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
)

type Options struct {
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int
	// RestartDelay is the fixed wait after a close code that asks the client
	// to come back later.
	RestartDelay    time.Duration
	PingInterval    time.Duration
	StallThreshold  time.Duration
	ShutdownTimeout time.Duration
	DialTimeout     time.Duration
	BufferSize      int
	EchoNoOp        bool
}

func DefaultOptions() Options {
	return Options{
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     30 * time.Second,
		MaxReconnectAttempts:  10,
		RestartDelay:          time.Second,
		PingInterval:          7 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		DialTimeout:           15 * time.Second,
		BufferSize:            256,
	}
}

// OptionsFor merges the stream section with the chain's own stall threshold.
func OptionsFor(cfg config.StreamConfig, c chain.Chain) Options {
	opts := DefaultOptions()
	if cfg.InitialReconnectDelay > 0 {
		opts.InitialReconnectDelay = cfg.InitialReconnectDelay
	}
	if cfg.MaxReconnectDelay > 0 {
		opts.MaxReconnectDelay = cfg.MaxReconnectDelay
	}
	if cfg.MaxReconnectAttempts > 0 {
		opts.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	}
	if cfg.RestartDelay > 0 {
		opts.RestartDelay = cfg.RestartDelay
	}
	if cfg.PingInterval > 0 {
		opts.PingInterval = cfg.PingInterval
	}
	if cfg.ShutdownTimeout > 0 {
		opts.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.BufferSize > 0 {
		opts.BufferSize = cfg.BufferSize
	}
	opts.StallThreshold = c.StallThreshold
	if cfg.StallThreshold > 0 {
		opts.StallThreshold = cfg.StallThreshold
	}
	opts.EchoNoOp = cfg.EchoNoOp
	return opts
}
