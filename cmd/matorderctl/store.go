package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	sdk "github.com/matorder/matorder/sdk/go"
	"github.com/matorder/matorder/sdk/go/store/boltstore"
	"github.com/matorder/matorder/sdk/go/store/redisstore"
)

func openStore(ctx context.Context, cfg StoreConf) (sdk.TokenStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "bolt":
		s, err := boltstore.Open(cfg.StorePath(), boltstore.Options{EncryptionKey: cfg.EncryptionKey})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return redisstore.New(rdb, redisstore.Options{Prefix: cfg.RedisPrefix, TTL: cfg.RedisTTL}), rdb.Close, nil
	case "memory":
		return sdk.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (want bolt, redis or memory)", cfg.Kind)
	}
}
