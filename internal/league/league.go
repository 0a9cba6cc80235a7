package league

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/types"
	"github.com/shamsear/ssleague-api/pkg/response"
)

// Service manages seasons, team registration, and the player pool. These are
// the collaborating records the auction engine allocates against.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

func (s *Service) CreateSeason(name string, dualCurrency bool) (*types.Season, error) {
	if name == "" {
		return nil, apperrors.Validationf("season name is required")
	}

	season := &types.Season{
		SeasonID:     "SSN_" + uuid.New().String(),
		Name:         name,
		DualCurrency: dualCurrency,
		CreatedAt:    time.Now(),
	}
	if err := s.db.CreateSeason(season); err != nil {
		return nil, err
	}
	return season, nil
}

// RegisterTeam creates the team's budget pools for a season: a single CLUB
// pool, or CLUB plus REAL under dual currency.
func (s *Service) RegisterTeam(teamID, seasonID string, clubBudget, realBudget decimal.Decimal) ([]types.TeamBudget, error) {
	if teamID == "" {
		return nil, apperrors.Validationf("team id is required")
	}

	season, err := s.db.GetSeason(seasonID)
	if err != nil {
		return nil, err
	}
	if season == nil {
		return nil, apperrors.Validationf("season %s not found", seasonID)
	}

	existing, err := s.db.GetTeamBudgets(teamID, seasonID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperrors.Conflictf("team %s is already registered for season %s", teamID, seasonID)
	}

	if clubBudget.IsNegative() || realBudget.IsNegative() {
		return nil, apperrors.Validationf("budgets must not be negative")
	}

	now := time.Now()
	budgets := []types.TeamBudget{
		{TeamID: teamID, SeasonID: seasonID, Currency: types.CurrencyClub, Balance: clubBudget, CreatedAt: now, UpdatedAt: now},
	}
	if season.DualCurrency {
		budgets = append(budgets, types.TeamBudget{
			TeamID: teamID, SeasonID: seasonID, Currency: types.CurrencyReal, Balance: realBudget, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err := s.db.CreateTeamBudgets(budgets); err != nil {
		return nil, err
	}
	return budgets, nil
}

// PlayerInput is one row of a player import.
type PlayerInput struct {
	Name            string `json:"name" binding:"required"`
	Position        string `json:"position" binding:"required"`
	AuctionEligible bool   `json:"auction_eligible"`
}

// ImportPlayers registers a batch of players into a season's pool.
func (s *Service) ImportPlayers(seasonID string, inputs []PlayerInput) ([]types.Player, error) {
	season, err := s.db.GetSeason(seasonID)
	if err != nil {
		return nil, err
	}
	if season == nil {
		return nil, apperrors.Validationf("season %s not found", seasonID)
	}
	if len(inputs) == 0 {
		return nil, apperrors.Validationf("at least one player is required")
	}

	now := time.Now()
	players := make([]types.Player, 0, len(inputs))
	for _, in := range inputs {
		players = append(players, types.Player{
			PlayerID:        "PLY_" + uuid.New().String(),
			SeasonID:        seasonID,
			Name:            in.Name,
			Position:        in.Position,
			AuctionEligible: in.AuctionEligible,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := s.db.ImportPlayers(players); err != nil {
		return nil, err
	}
	return players, nil
}

// GetTeamBudgets returns a team's budget pools for a season.
func (s *Service) GetTeamBudgets(teamID, seasonID string) ([]types.BudgetResponse, error) {
	budgets, err := s.db.GetTeamBudgets(teamID, seasonID)
	if err != nil {
		return nil, err
	}

	out := make([]types.BudgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, types.BudgetResponse{
			TeamID:   b.TeamID,
			SeasonID: b.SeasonID,
			Currency: b.Currency,
			Balance:  b.Balance,
		})
	}
	return out, nil
}

// GinHandlers contains HTTP handlers for league setup endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) CreateSeasonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Name         string `json:"name" binding:"required"`
			DualCurrency bool   `json:"dual_currency"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		season, err := h.service.CreateSeason(request.Name, request.DualCurrency)
		response.Handle(c, season, err)
	}
}

func (h *GinHandlers) RegisterTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		seasonID := c.Param("season_id")
		var request struct {
			TeamID     string          `json:"team_id" binding:"required"`
			ClubBudget decimal.Decimal `json:"club_budget"`
			RealBudget decimal.Decimal `json:"real_budget"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		budgets, err := h.service.RegisterTeam(request.TeamID, seasonID, request.ClubBudget, request.RealBudget)
		response.Handle(c, budgets, err)
	}
}

func (h *GinHandlers) ImportPlayersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		seasonID := c.Param("season_id")
		var request struct {
			Players []PlayerInput `json:"players" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		players, err := h.service.ImportPlayers(seasonID, request.Players)
		response.Handle(c, players, err)
	}
}

// GetBudgetsHandler serves a team's own budget pools.
func (h *GinHandlers) GetBudgetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("clientID")
		seasonID := c.Query("season_id")
		if seasonID == "" {
			response.BadRequest(c, "season_id query parameter is required")
			return
		}

		budgets, err := h.service.GetTeamBudgets(teamID, seasonID)
		response.Handle(c, budgets, err)
	}
}
