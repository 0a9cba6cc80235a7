package finalize

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

// GetExpiredActiveRounds finds rounds past their end time that no trigger has
// picked up yet. The sweep walks this list.
func (d *Database) GetExpiredActiveRounds(now time.Time) ([]types.Round, error) {
	var rounds []types.Round
	err := d.db.Where("status = ? AND end_time <= ?", types.RoundStatusActive, now).
		Order("end_time ASC").
		Find(&rounds).Error
	if err != nil {
		return nil, err
	}
	return rounds, nil
}

// TransitionRound moves a round between statuses only when it is still in the
// expected one, optionally flagging it for manual approval. Reports whether
// this caller performed the transition.
func (d *Database) TransitionRound(roundID, fromStatus, toStatus string, requiresApproval bool) (bool, error) {
	result := d.db.Model(&types.Round{}).
		Where("round_id = ? AND status = ?", roundID, fromStatus).
		Updates(map[string]interface{}{
			"status":            toStatus,
			"requires_approval": requiresApproval,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CloseSubmissions stamps an active round's end time to now, so the
// submission boundary rejects further bids before resolution reads the bid
// set. No-op on rounds that already expired or left ACTIVE.
func (d *Database) CloseSubmissions(roundID string, now time.Time) error {
	return d.db.Model(&types.Round{}).
		Where("round_id = ? AND status = ? AND end_time > ?", roundID, types.RoundStatusActive, now).
		Update("end_time", now).Error
}

// GetWinningBidID finds the team's surviving bid for a player in a round.
// Used to link a tiebreaker outcome back to the sealed bid that caused it.
func (d *Database) GetWinningBidID(roundID, playerID, teamID string) (string, error) {
	var bid types.Bid
	err := d.db.Where("round_id = ? AND player_id = ? AND team_id = ? AND status = ?",
		roundID, playerID, teamID, types.BidStatusActive).
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return bid.BidID, nil
}
