package tiebreaker

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

func (d *Database) CreateTiebreaker(tb *types.Tiebreaker) error {
	return d.db.Create(tb).Error
}

func (d *Database) GetTiebreaker(tiebreakerID string) (*types.Tiebreaker, error) {
	var tb types.Tiebreaker
	if err := d.db.Where("tiebreaker_id = ?", tiebreakerID).First(&tb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tb, nil
}

func (d *Database) UpdateTiebreaker(tb *types.Tiebreaker) error {
	return d.db.Save(tb).Error
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

// UpsertRebid stores one team's rebid for the current attempt, replacing any
// earlier rebid in the same attempt.
func (d *Database) UpsertRebid(tiebreakerID, teamID string, attempt int, encryptedAmount string) error {
	var existing types.TiebreakerBid
	err := d.db.Where("tiebreaker_id = ? AND team_id = ? AND attempt = ?",
		tiebreakerID, teamID, attempt).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return d.db.Create(&types.TiebreakerBid{
			TiebreakerID:    tiebreakerID,
			TeamID:          teamID,
			Attempt:         attempt,
			EncryptedAmount: encryptedAmount,
			CreatedAt:       time.Now(),
		}).Error
	}

	existing.EncryptedAmount = encryptedAmount
	return d.db.Save(&existing).Error
}

func (d *Database) GetRebids(tiebreakerID string, attempt int) ([]types.TiebreakerBid, error) {
	var rebids []types.TiebreakerBid
	err := d.db.Where("tiebreaker_id = ? AND attempt = ?", tiebreakerID, attempt).
		Order("team_id ASC").
		Find(&rebids).Error
	if err != nil {
		return nil, err
	}
	return rebids, nil
}

// GetPendingForRound lists a round's unresolved tiebreakers.
func (d *Database) GetPendingForRound(roundID string) ([]types.Tiebreaker, error) {
	var tbs []types.Tiebreaker
	err := d.db.Where("round_id = ? AND status = ?", roundID, types.TiebreakerStatusPending).
		Find(&tbs).Error
	if err != nil {
		return nil, err
	}
	return tbs, nil
}

// GetDue lists pending tiebreakers whose window has closed.
func (d *Database) GetDue(now time.Time) ([]types.Tiebreaker, error) {
	var tbs []types.Tiebreaker
	err := d.db.Where("status = ? AND end_time < ?", types.TiebreakerStatusPending, now).
		Order("tiebreaker_id ASC").
		Find(&tbs).Error
	if err != nil {
		return nil, err
	}
	return tbs, nil
}
