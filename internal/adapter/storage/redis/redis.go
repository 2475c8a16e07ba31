package redis

import (
	"context"
	"fmt"
	"strings"

	"ledger-mirror/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("Redis connection established")

	return client, nil
}

// Namespace scopes every key to one mirrored ledger, so several mirrors can
// share a Redis database.
func Namespace(ledgerAddress string) string {
	addr := strings.ToLower(ledgerAddress)
	if addr == "" {
		addr = "unconfigured"
	}
	return "ledger-mirror:" + addr + ":"
}
