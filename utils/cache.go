// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"time"

	"medicall/config"

	"github.com/go-redis/redis/v8"
)

// SignalClient is the redis client backing the shared room registry and presence.
var SignalClient *redis.Client

// InitSignalCache initializes the redis client for call room coordination (using REDIS_SIGNAL_DB).
func InitSignalCache() {
	SignalClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisSignalDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := SignalClient.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Failed to connect to Redis (Signal): %v", err)
	}
}

// GetSignalClient returns the redis client for call room coordination.
func GetSignalClient() *redis.Client {
	if SignalClient == nil {
		InitSignalCache()
	}
	return SignalClient
}
