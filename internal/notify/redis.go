package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"token-sniffer/internal/domain"
)

// Default stream names.
const (
	DefaultTokenStream = "sniffer:tokens"
	DefaultRunStream   = "sniffer:runs"
	DefaultStreamLen   = 10000
)

// RedisConfig configures a RedisNotifier.
type RedisConfig struct {
	Addr        string
	DB          int
	Username    string
	Password    string
	TokenStream string
	RunStream   string
	MaxLen      int64 // approximate stream cap
}

// RedisNotifier appends events to Redis streams.
type RedisNotifier struct {
	rdb         *redis.Client
	tokenStream string
	runStream   string
	maxLen      int64
}

// NewRedisNotifier creates a notifier and checks the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.TokenStream == "" {
		cfg.TokenStream = DefaultTokenStream
	}
	if cfg.RunStream == "" {
		cfg.RunStream = DefaultRunStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultStreamLen
	}

	return &RedisNotifier{
		rdb:         rdb,
		tokenStream: cfg.TokenStream,
		runStream:   cfg.RunStream,
		maxLen:      cfg.MaxLen,
	}, nil
}

// TokenAssessed appends the token to the token stream.
func (n *RedisNotifier) TokenAssessed(ctx context.Context, t *domain.TokenRecord) error {
	payload, err := json.Marshal(NewTokenEvent(t))
	if err != nil {
		return fmt.Errorf("encode token event: %w", err)
	}
	return n.add(ctx, n.tokenStream, "mint", t.Mint, "verdict", string(t.Verdict), "payload", payload)
}

// RunCompleted appends the run summary to the run stream.
func (n *RedisNotifier) RunCompleted(ctx context.Context, run *domain.AnalysisRun) error {
	payload, err := json.Marshal(NewRunEvent(run))
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	return n.add(ctx, n.runStream, "mint", run.Mint, "run_id", run.ID, "payload", payload)
}

// add appends one entry; values are field/value pairs in order.
func (n *RedisNotifier) add(ctx context.Context, stream string, values ...interface{}) error {
	err := n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// Close closes the redis client.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
