package rounds

import (
	"errors"
	"time"

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

func (d *Database) RoundIDExists(roundID string) (bool, error) {
	var count int64
	if err := d.db.Model(&types.Round{}).Where("round_id = ?", roundID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetActiveRound returns the season's single active round, if any.
func (d *Database) GetActiveRound(seasonID string) (*types.Round, error) {
	var round types.Round
	err := d.db.Where("season_id = ? AND status = ?", seasonID, types.RoundStatusActive).First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &round, nil
}

func (d *Database) NextRoundNumber(seasonID string) (int, error) {
	var max int
	err := d.db.Model(&types.Round{}).
		Where("season_id = ?", seasonID).
		Select("COALESCE(MAX(round_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// CreateRoundWithPlayers creates a round and its full player set in one
// transaction: a partial population failure rolls back round creation
// entirely, never leaving an orphan round.
func (d *Database) CreateRoundWithPlayers(round *types.Round, playerIDs []string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(round).Error; err != nil {
		tx.Rollback()
		return err
	}

	for _, playerID := range playerIDs {
		rp := types.RoundPlayer{RoundID: round.RoundID, PlayerID: playerID}
		if err := tx.Create(&rp).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// GetEligibleUnsoldPlayers lists the auction-eligible, not-yet-sold players
// for a season, optionally filtered by position.
func (d *Database) GetEligibleUnsoldPlayers(seasonID string, positions []string) ([]types.Player, error) {
	query := d.db.Where("season_id = ? AND auction_eligible = ? AND team_id = ?", seasonID, true, "")
	if len(positions) > 0 {
		query = query.Where("position IN ?", positions)
	}

	var players []types.Player
	if err := query.Order("player_id ASC").Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

func (d *Database) GetRoundPlayerIDs(roundID string) ([]string, error) {
	var ids []string
	err := d.db.Model(&types.RoundPlayer{}).
		Where("round_id = ?", roundID).
		Order("player_id ASC").
		Pluck("player_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetUnsoldRoundPlayers returns the players of a round that still have no
// owning team.
func (d *Database) GetUnsoldRoundPlayers(roundID string) ([]types.Player, error) {
	var players []types.Player
	err := d.db.
		Joins("JOIN round_players ON round_players.player_id = players.player_id").
		Where("round_players.round_id = ? AND players.team_id = ?", roundID, "").
		Order("players.player_id ASC").
		Find(&players).Error
	if err != nil {
		return nil, err
	}
	return players, nil
}

// UpdateRoundStatus performs the compare-and-swap status transition. Zero
// rows affected means a concurrent writer got there first.
func (d *Database) UpdateRoundStatus(roundID, fromStatus, toStatus string) (bool, error) {
	result := d.db.Model(&types.Round{}).
		Where("round_id = ? AND status = ?", roundID, fromStatus).
		Updates(map[string]interface{}{
			"status":     toStatus,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
