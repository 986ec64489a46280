package repository

import (
	"gorm.io/gorm"
)

// DatabaseProvider abstracts the underlying SQL connection so callers never
// import gorm/postgres directly.
type DatabaseProvider interface {
	GetDB() *gorm.DB
	Migrate(models ...interface{}) error
	Close() error
	Ping() error
}

// PostgreSQLProvider is the only DatabaseProvider this control plane
// ships; no multi-database abstraction is needed beyond this interface
// boundary.
type PostgreSQLProvider struct {
	db *gorm.DB
}

func (p *PostgreSQLProvider) GetDB() *gorm.DB {
	return p.db
}

func (p *PostgreSQLProvider) Migrate(models ...interface{}) error {
	return p.db.AutoMigrate(models...)
}

func (p *PostgreSQLProvider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PostgreSQLProvider) Ping() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
