package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	ChainKey       contextKey = "chain"
	TxHashKey      contextKey = "tx_hash"
	ServiceNameKey contextKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithChain(ctx context.Context, chain string) context.Context {
	return context.WithValue(ctx, ChainKey, chain)
}

func WithTxHash(ctx context.Context, txHash string) context.Context {
	return context.WithValue(ctx, TxHashKey, txHash)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetChain(ctx context.Context) string {
	return stringValue(ctx, ChainKey)
}

func GetTxHash(ctx context.Context) string {
	return stringValue(ctx, TxHashKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, string(TraceIDKey), traceID)
	}

	if chain := GetChain(ctx); chain != "" {
		fields = append(fields, string(ChainKey), chain)
	}

	if txHash := GetTxHash(ctx); txHash != "" {
		fields = append(fields, string(TxHashKey), txHash)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, string(ServiceNameKey), serviceName)
	}

	return fields
}
