package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

const (
	maxRetries = 5
	retryDelay = 3 * time.Second
)

func InitDB(dsn string) error {
	pgConfig := postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // pgbouncer in transaction mode rejects prepared statements
	}

	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Error),
		PrepareStmt: false,
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(postgres.New(pgConfig), gormConfig)
		if err == nil {
			break
		}
		log.Warnf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		time.Sleep(retryDelay)
	}
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connected successfully")
	return nil
}

func GetDB() *gorm.DB {
	return DB
}

func MigrateDatabase(db *gorm.DB, models ...interface{}) error {
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
		log.Debugf("Migrated table for %T", model)
	}
	return nil
}
