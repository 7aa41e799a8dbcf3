package storage

import (
	"fmt"

	"custody-node/internal/config"
	"custody-node/internal/storage/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open initializes a database connection for the given dialector and
// migrates the schema. Production wiring passes a postgres dialector;
// tests pass an in-memory sqlite one.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = db.AutoMigrate(
		&models.Wallet{},
		&models.Signer{},
		&models.ApprovalRequest{},
		&models.SignerApproval{},
		&models.SigningRequest{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return db, nil
}

// OpenPostgres builds a postgres DSN from the config and opens it.
func OpenPostgres(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode, cfg.TimeZone)
	return Open(postgres.Open(dsn))
}
