package bidding

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
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

func (d *Database) GetPlayer(playerID string) (*types.Player, error) {
	var player types.Player
	if err := d.db.Where("player_id = ?", playerID).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &player, nil
}

func (d *Database) IsPlayerInRound(roundID, playerID string) (bool, error) {
	var count int64
	err := d.db.Model(&types.RoundPlayer{}).
		Where("round_id = ? AND player_id = ?", roundID, playerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetTeamActiveBids returns a team's active bids in one round.
func (d *Database) GetTeamActiveBids(teamID, roundID string) ([]types.Bid, error) {
	var bids []types.Bid
	err := d.db.Where("team_id = ? AND round_id = ? AND status = ?",
		teamID, roundID, types.BidStatusActive).
		Order("created_at ASC").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// GetActiveBidsForRound returns every active bid in a round, for resolution.
func (d *Database) GetActiveBidsForRound(roundID string) ([]types.Bid, error) {
	var bids []types.Bid
	err := d.db.Where("round_id = ? AND status = ?", roundID, types.BidStatusActive).
		Order("bid_id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}
	return bids, nil
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

// CreateBidSuperseding writes a new bid and, when the team already held an
// active bid on the same player, withdraws the old one in the same
// transaction.
func (d *Database) CreateBidSuperseding(bid *types.Bid, supersededBidID string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if supersededBidID != "" {
		result := tx.Model(&types.Bid{}).
			Where("bid_id = ? AND status = ?", supersededBidID, types.BidStatusActive).
			Updates(map[string]interface{}{
				"status":     types.BidStatusWithdrawn,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			tx.Rollback()
			return result.Error
		}
		if result.RowsAffected == 0 {
			tx.Rollback()
			return errors.New("superseded bid no longer active")
		}
	}

	if err := tx.Create(bid).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) WithdrawBid(teamID, roundID, playerID string) (bool, error) {
	result := d.db.Model(&types.Bid{}).
		Where("team_id = ? AND round_id = ? AND player_id = ? AND status = ?",
			teamID, roundID, playerID, types.BidStatusActive).
		Updates(map[string]interface{}{
			"status":     types.BidStatusWithdrawn,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetBidAmount populates the plaintext amount column after finalization.
func (d *Database) SetBidAmount(bidID string, amount decimal.Decimal) error {
	return d.db.Model(&types.Bid{}).
		Where("bid_id = ?", bidID).
		Updates(map[string]interface{}{
			"amount":     amount,
			"updated_at": time.Now(),
		}).Error
}
