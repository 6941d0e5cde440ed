package db

import (
	"context"
	"log"
	"lovia/src/config"
	"os"
	"strconv"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig sizes the connection pool. Webhook bursts from the gateways
// share it with the API, so it is tunable per deployment.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SlowQuery       time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		SlowQuery:       500 * time.Millisecond,
	}
}

// PoolConfigFromEnv reads DATABASE_MAX_IDLE_CONNS, DATABASE_MAX_OPEN_CONNS,
// DATABASE_CONN_MAX_LIFETIME and DATABASE_SLOW_QUERY. Bad values keep the default.
func PoolConfigFromEnv() PoolConfig {
	c := DefaultPoolConfig()
	c.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.MaxIdleConns)
	c.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", c.ConnMaxLifetime)
	c.SlowQuery = envDuration("DATABASE_SLOW_QUERY", c.SlowQuery)
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	return c
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[DB] Ignoring %s=%q\n", key, v)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[DB] Ignoring %s=%q\n", key, v)
		return def
	}
	return d
}

var (
	mu sync.Mutex
	db *gorm.DB
)

// Open connects to postgres and applies the pool settings.
func Open(dsn string, pool PoolConfig) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             pool.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if err := Configure(conn, pool); err != nil {
		return nil, err
	}
	return conn, nil
}

func Configure(conn *gorm.DB, pool PoolConfig) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return nil
}

// GetDb returns the shared connection, opening it on first use. The process
// cannot serve payments without it, so a failed connect panics.
func GetDb() *gorm.DB {
	mu.Lock()
	defer mu.Unlock()
	if db != nil {
		return db
	}
	conn, err := Open(config.GetDSN(), PoolConfigFromEnv())
	if err != nil {
		log.Printf("[DB] Error connecting to database: %s\n", err.Error())
		panic(err)
	}
	db = conn
	return db
}

// NewDB replaces the shared connection. Tests use it to install sqlmock.
func NewDB(conn *gorm.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = conn
}

// Ping checks the shared connection within ctx.
func Ping(ctx context.Context) error {
	sqlDB, err := GetDb().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the shared connection, if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("[DB] Error closing database: %s\n", err.Error())
		}
	}
	db = nil
}
