package league

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

func (d *Database) CreateSeason(season *types.Season) error {
	return d.db.Create(season).Error
}

func (d *Database) GetSeason(seasonID string) (*types.Season, error) {
	var season types.Season
	if err := d.db.Where("season_id = ?", seasonID).First(&season).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &season, nil
}

// CreateTeamBudgets writes every currency pool for a team in one transaction.
func (d *Database) CreateTeamBudgets(budgets []types.TeamBudget) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for i := range budgets {
		if err := tx.Create(&budgets[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetTeamBudgets(teamID, seasonID string) ([]types.TeamBudget, error) {
	var budgets []types.TeamBudget
	if err := d.db.Where("team_id = ? AND season_id = ?", teamID, seasonID).
		Order("currency ASC").Find(&budgets).Error; err != nil {
		return nil, err
	}
	return budgets, nil
}

// ImportPlayers inserts a batch of players; a partial failure rolls the whole
// import back.
func (d *Database) ImportPlayers(players []types.Player) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for i := range players {
		if err := tx.Create(&players[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
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

func (d *Database) GetTeamPlayers(teamID, seasonID string) ([]types.Player, error) {
	var players []types.Player
	if err := d.db.Where("team_id = ? AND season_id = ?", teamID, seasonID).
		Order("position ASC").Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}
