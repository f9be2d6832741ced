package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Ananth-NQI/foodbot-backend/internal/config"
	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
)

// Connect opens the database named by cfg. Postgres is reached through the
// Cloud SQL unix socket when INSTANCE_CONNECTION_NAME is set and over TCP
// otherwise; DB_DRIVER=sqlite opens a local file.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		logger.Log.Infof("Opening SQLite database at %s", cfg.DBPath)
		dialector = sqlite.Open(cfg.DBPath + "?_busy_timeout=5000")
	case "postgres", "":
		dialector = postgres.Open(postgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// one writer keeps SQLite from returning SQLITE_BUSY under load
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	logger.Log.Info("✅ Database connected successfully!")
	return db, nil
}

func postgresDSN(cfg *config.Config) string {
	if cfg.InstanceConnectionName != "" {
		// Production: Connect via Unix socket
		logger.Log.Infof("Connecting to Cloud SQL via socket: %s", cfg.InstanceConnectionName)
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.InstanceConnectionName, cfg.DBUser, cfg.DBPass, cfg.DBName)
	}
	logger.Log.Infof("Connecting to PostgreSQL at %s:%d", cfg.DBHost, cfg.DBPort)
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBPort)
}
