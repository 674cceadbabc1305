package database

import (
	"context"
	"fmt"
	"time"

	"entitlement-api/internal/config"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Init opens the database and Redis connections and migrates the schema.
func Init() (*gorm.DB, *redis.Client, error) {
	db, err := openGorm()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rdb, err := openRedis()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, rdb, nil
}

func openGorm() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		// Duplicate-key errors must surface as gorm.ErrDuplicatedKey:
		// the transaction ledger reads them as its idempotency signal.
		TranslateError: true,
	}

	var db *gorm.DB
	var err error

	if dsn := config.AppConfig.DatabaseURL; dsn == "" {
		// Fallback to SQLite for development
		logging.Infof("Database URL not set, using SQLite for development")
		db, err = gorm.Open(sqlite.Open("entitlement-api.db"), gormConfig)
	} else {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logging.Infof("Database connected successfully")
	return db, nil
}

func openRedis() (*redis.Client, error) {
	redisURL := config.AppConfig.RedisURL
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is not set")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return client, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProductMapping{},
		&models.Transaction{},
		&models.Subscription{},
		&models.CoinBalance{},
		&models.LedgerEntry{},
		&models.Profile{},
	)
}

// Close closes both connections, logging rather than failing on errors.
func Close(db *gorm.DB, rdb *redis.Client) {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}
}
