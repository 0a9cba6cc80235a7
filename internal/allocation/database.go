package allocation

import (
	"errors"

	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetRound(roundID string) (*types.Round, error) {
	var round types.Round
	if err := d.db.Where("round_id = ?", roundID).First(&round).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &round, nil
}

func (d *Database) GetTeamBudget(teamID, seasonID, currency string) (*types.TeamBudget, error) {
	var budget types.TeamBudget
	err := d.db.Where("team_id = ? AND season_id = ? AND currency = ?",
		teamID, seasonID, currency).First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

func (d *Database) CreatePendingAllocations(pending []types.PendingAllocation) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for i := range pending {
		// Staging is a replace per (round, player) so retries and repeat
		// stagings never accumulate duplicate rows.
		err := tx.Where("round_id = ? AND player_id = ?", pending[i].RoundID, pending[i].PlayerID).
			Delete(&types.PendingAllocation{}).Error
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Create(&pending[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetPendingAllocations(roundID string) ([]types.PendingAllocation, error) {
	var pending []types.PendingAllocation
	err := d.db.Where("round_id = ?", roundID).
		Order("player_id ASC").
		Find(&pending).Error
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (d *Database) GetAllocations(roundID string) ([]types.Allocation, error) {
	var allocations []types.Allocation
	err := d.db.Where("round_id = ?", roundID).
		Order("player_id ASC").
		Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (d *Database) GetTransactionsByReference(reference string) ([]types.Transaction, error) {
	var txns []types.Transaction
	err := d.db.Where("reference = ?", reference).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// FindCompletedRoundsWithoutLedger surfaces drift: rounds marked completed
// whose allocations lack matching ledger entries. Consumed by the
// reconciliation sweep and the external repair scripts.
func (d *Database) FindCompletedRoundsWithoutLedger() ([]string, error) {
	var roundIDs []string
	err := d.db.Raw(`
		SELECT DISTINCT a.round_id
		FROM allocations a
		LEFT JOIN transactions t
		  ON t.reference = a.allocation_id AND t.type = ?
		WHERE t.id IS NULL`, types.TransactionTypeAllocation).
		Scan(&roundIDs).Error
	if err != nil {
		return nil, err
	}
	return roundIDs, nil
}
