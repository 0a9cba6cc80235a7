package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shamsear/ssleague-api/internal/audit"
	"github.com/shamsear/ssleague-api/internal/database/migrations"
	"github.com/shamsear/ssleague-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// NewTestDatabase opens an isolated in-memory database for one test.
func NewTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.Season{},
		&types.Player{},
		&types.Round{},
		&types.RoundPlayer{},
		&types.Bid{},
		&types.Tiebreaker{},
		&types.TiebreakerBid{},
		&types.PendingAllocation{},
		&types.Allocation{},
		&types.TeamBudget{},
		&types.Transaction{},
		&audit.Entry{},
	)
	if err != nil {
		return err
	}

	if err := migrations.AddAuctionIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
