package db

import (
	"context"
	"fmt"
	"time"

	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 10

// Connect 连接 Postgres，容器未就绪时按递增间隔重试，ctx 结束则放弃。
func Connect(ctx context.Context, dsn string) (*gorm.DB, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		gdb, err := open(ctx, dsn)
		if err == nil {
			return gdb, nil
		}
		lastErr = err
		backoff := time.Duration(500+attempt*200) * time.Millisecond
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("db not ready")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", connectAttempts, lastErr)
}

func open(ctx context.Context, dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// Migrate 只迁移凭据表；房间与消息不落库。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Identity{})
}
