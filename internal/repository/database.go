package repository

import (
	"fmt"
	"log"

	"github.com/bloxon/controlplane/internal/models"
	"github.com/bloxon/controlplane/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var dbProvider DatabaseProvider

// InitDB opens the Postgres connection and migrates every model this
// control plane owns: player_data, pending_payments, system_events. The
// accounts, tokens, friends, accessories and purchase tables belong to
// external services and are never migrated here.
func InitDB(cfg *config.Config) error {
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for PostgreSQL")
		}

		log.Printf("Connecting to PostgreSQL: %s", maskPassword(cfg.DatabaseURL))
		DB, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		dbProvider = &PostgreSQLProvider{db: DB}
		log.Println("PostgreSQL connection established")

	default:
		return fmt.Errorf("unsupported database type: %s (only 'postgres' is supported)", cfg.DatabaseType)
	}

	err = dbProvider.Migrate(
		&models.PlayerData{},
		&models.PendingPayment{},
		&models.SystemEvent{},
	)
	if err != nil {
		return err
	}

	log.Println("Database initialized successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// GetDBProvider returns the database provider instance
func GetDBProvider() DatabaseProvider {
	return dbProvider
}

// maskPassword masks the password in a connection string for logging
func maskPassword(url string) string {
	if len(url) < 20 {
		return "****"
	}

	start := -1
	end := -1
	for i := 0; i < len(url); i++ {
		if url[i] == ':' && start == -1 && i > 10 {
			start = i + 1
		}
		if url[i] == '@' && start != -1 {
			end = i
			break
		}
	}

	if start == -1 || end == -1 || start >= end {
		return "****"
	}

	return url[:start] + "****" + url[end:]
}
