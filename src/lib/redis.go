package lib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := os.Getenv("REDIS_HOST")
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

const (
	orderStatusTTL = 10 * time.Minute
)

// OrderCache keeps terminal order statuses and reserved wallet payment URLs.
type OrderCache struct {
	rdb *redis.Client
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	if rdb == nil {
		return nil
	}
	return &OrderCache{rdb: rdb}
}

func orderStatusKey(orderUUID string) string {
	return fmt.Sprintf("order:%s:status", orderUUID)
}

func paymentURLKey(orderUUID string) string {
	return fmt.Sprintf("order:%s:payment_url", orderUUID)
}

func (c *OrderCache) GetStatus(ctx context.Context, orderUUID string) (string, bool) {
	val, err := c.rdb.Get(ctx, orderStatusKey(orderUUID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[redis] Error reading status for %s: %s\n", orderUUID, err.Error())
		}
		return "", false
	}
	return val, true
}

func (c *OrderCache) SetStatus(ctx context.Context, orderUUID string, status string) {
	if err := c.rdb.SetEx(ctx, orderStatusKey(orderUUID), status, orderStatusTTL).Err(); err != nil {
		log.Printf("[redis] Error caching status for %s: %s\n", orderUUID, err.Error())
	}
}

func (c *OrderCache) GetPaymentURL(ctx context.Context, orderUUID string) (string, bool) {
	val, err := c.rdb.Get(ctx, paymentURLKey(orderUUID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[redis] Error reading payment url for %s: %s\n", orderUUID, err.Error())
		}
		return "", false
	}
	return val, true
}

func (c *OrderCache) SetPaymentURL(ctx context.Context, orderUUID string, url string, ttl time.Duration) {
	if err := c.rdb.SetEx(ctx, paymentURLKey(orderUUID), url, ttl).Err(); err != nil {
		log.Printf("[redis] Error caching payment url for %s: %s\n", orderUUID, err.Error())
	}
}

func (c *OrderCache) ForgetPaymentURL(ctx context.Context, orderUUID string) {
	if err := c.rdb.Del(ctx, paymentURLKey(orderUUID)).Err(); err != nil {
		log.Printf("[redis] Error removing payment url for %s: %s\n", orderUUID, err.Error())
	}
}
