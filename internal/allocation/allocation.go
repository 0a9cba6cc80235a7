package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/types"
	"github.com/shamsear/ssleague-api/pkg/response"
)

// Service applies auction results to team budgets, player ownership and
// the transaction ledger. Every mutation for a round happens in a single
// database transaction guarded by a conditional status update, so a round
// is either fully applied or untouched no matter how many callers race.
type Service struct {
	db *Database
}

func NewService(db *Database) *Service {
	return &Service{db: db}
}

// Input describes one player award to apply.
type Input struct {
	TeamID   string
	PlayerID string
	BidID    string
	Amount   decimal.Decimal
	Phase    string
}

// Stage persists allocation inputs as pending rows so a later Apply (or a
// retry after a budget failure) works from durable state rather than an
// in-memory resolution.
func (s *Service) Stage(roundID string, allocs []Input) error {
	pending := make([]types.PendingAllocation, 0, len(allocs))
	for _, a := range allocs {
		pending = append(pending, types.PendingAllocation{
			RoundID:  roundID,
			TeamID:   a.TeamID,
			PlayerID: a.PlayerID,
			BidID:    a.BidID,
			Amount:   a.Amount,
			Phase:    a.Phase,
		})
	}
	return s.db.CreatePendingAllocations(pending)
}

// StagedInputs loads previously staged allocations back as apply inputs.
func (s *Service) StagedInputs(roundID string) ([]Input, error) {
	pending, err := s.db.GetPendingAllocations(roundID)
	if err != nil {
		return nil, err
	}
	allocs := make([]Input, 0, len(pending))
	for _, p := range pending {
		allocs = append(allocs, Input{
			TeamID:   p.TeamID,
			PlayerID: p.PlayerID,
			BidID:    p.BidID,
			Amount:   p.Amount,
			Phase:    p.Phase,
		})
	}
	return allocs, nil
}

// ValidateBudgets checks every team's committed total against its current
// balance without mutating anything. Used to pre-flight a staged batch.
func (s *Service) ValidateBudgets(round *types.Round, allocs []Input) []apperrors.Shortfall {
	totals := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		totals[a.TeamID] = totals[a.TeamID].Add(a.Amount)
	}

	var shortfalls []apperrors.Shortfall
	for teamID, required := range totals {
		budget, err := s.db.GetTeamBudget(teamID, round.SeasonID, round.Currency)
		available := decimal.Zero
		if err == nil && budget != nil {
			available = budget.Balance
		}
		if required.GreaterThan(available) {
			shortfalls = append(shortfalls, apperrors.Shortfall{
				TeamID:    teamID,
				Currency:  round.Currency,
				Required:  required,
				Available: available,
				Shortfall: required.Sub(available),
			})
		}
	}
	return shortfalls
}

// Apply commits a batch of allocations for a round atomically. The round's
// status is moved from expectedStatus to COMPLETED inside the same
// transaction as the budget, ownership and ledger writes; a zero-row status
// update means another caller got there first, in which case the batch is
// rolled back and ErrPersistenceConflict is returned for the caller to treat
// as already-done. If any team cannot cover its total the whole batch is
// rolled back and a BudgetInsufficientError lists every shortfall.
func (s *Service) Apply(roundID, expectedStatus string, allocs []Input, actorID string) error {
	logger := log.With().
		Str("round_id", roundID).
		Str("actor_id", actorID).
		Int("allocations", len(allocs)).
		Logger()

	round, err := s.db.GetRound(roundID)
	if err != nil {
		return fmt.Errorf("failed to load round: %w", err)
	}
	if round == nil {
		return apperrors.Validationf("round %s not found", roundID)
	}

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	now := time.Now()
	result := tx.Model(&types.Round{}).
		Where("round_id = ? AND status = ?", roundID, expectedStatus).
		Updates(map[string]interface{}{
			"status":            types.RoundStatusCompleted,
			"requires_approval": false,
			"completed_at":      now,
		})
	if result.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update round status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		logger.Info().Str("expected_status", expectedStatus).
			Msg("Round status transition lost, another finalizer won")
		return apperrors.ErrPersistenceConflict
	}

	// Budget check runs inside the transaction against locked state so a
	// concurrent adjustment cannot slip between validation and deduction.
	totals := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		totals[a.TeamID] = totals[a.TeamID].Add(a.Amount)
	}
	var shortfalls []apperrors.Shortfall
	budgets := make(map[string]*types.TeamBudget)
	for teamID, required := range totals {
		var budget types.TeamBudget
		err := tx.Where("team_id = ? AND season_id = ? AND currency = ?",
			teamID, round.SeasonID, round.Currency).First(&budget).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				shortfalls = append(shortfalls, apperrors.Shortfall{
					TeamID:    teamID,
					Currency:  round.Currency,
					Required:  required,
					Available: decimal.Zero,
					Shortfall: required,
				})
				continue
			}
			tx.Rollback()
			return fmt.Errorf("failed to load budget for team %s: %w", teamID, err)
		}
		if required.GreaterThan(budget.Balance) {
			shortfalls = append(shortfalls, apperrors.Shortfall{
				TeamID:    teamID,
				Currency:  round.Currency,
				Required:  required,
				Available: budget.Balance,
				Shortfall: required.Sub(budget.Balance),
			})
			continue
		}
		budgets[teamID] = &budget
	}
	if len(shortfalls) > 0 {
		tx.Rollback()
		logger.Warn().Int("shortfalls", len(shortfalls)).
			Msg("Allocation batch aborted, insufficient budgets")
		return &apperrors.BudgetInsufficientError{
			RoundID:    roundID,
			Shortfalls: shortfalls,
		}
	}

	for _, a := range allocs {
		budget := budgets[a.TeamID]
		balanceBefore := budget.Balance
		budget.Balance = budget.Balance.Sub(a.Amount)

		if err := tx.Model(&types.TeamBudget{}).
			Where("id = ?", budget.ID).
			Update("balance", budget.Balance).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to deduct budget for team %s: %w", a.TeamID, err)
		}

		soldPrice := a.Amount
		if err := tx.Model(&types.Player{}).
			Where("player_id = ?", a.PlayerID).
			Updates(map[string]interface{}{
				"team_id":    a.TeamID,
				"sold_price": soldPrice,
			}).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to assign player %s: %w", a.PlayerID, err)
		}

		allocation := types.Allocation{
			AllocationID: fmt.Sprintf("ALC_%s", uuid.New().String()),
			RoundID:      roundID,
			TeamID:       a.TeamID,
			PlayerID:     a.PlayerID,
			BidID:        a.BidID,
			Amount:       a.Amount,
			Phase:        a.Phase,
		}
		if err := tx.Create(&allocation).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create allocation for player %s: %w", a.PlayerID, err)
		}

		txn := types.Transaction{
			TransactionID: fmt.Sprintf("TXN_%s", uuid.New().String()),
			TeamID:        a.TeamID,
			SeasonID:      round.SeasonID,
			Type:          types.TransactionTypeAllocation,
			Currency:      round.Currency,
			Amount:        a.Amount.Neg(),
			BalanceBefore: balanceBefore,
			BalanceAfter:  budget.Balance,
			Reference:     allocation.AllocationID,
			Description:   fmt.Sprintf("Won %s in round %s", a.PlayerID, roundID),
		}
		if err := tx.Create(&txn).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record transaction for team %s: %w", a.TeamID, err)
		}
	}

	if err := tx.Where("round_id = ?", roundID).
		Delete(&types.PendingAllocation{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear pending allocations: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit allocation batch: %w", err)
	}

	logger.Info().Msg("Allocation batch applied")
	return nil
}

// RecordAdjustment applies a committee-issued penalty, refund or reward to a
// team budget and writes the matching ledger entry in one transaction.
func (s *Service) RecordAdjustment(teamID, seasonID, currency, adjType string, amount decimal.Decimal, description string) (*types.Transaction, error) {
	switch adjType {
	case types.TransactionTypePenalty, types.TransactionTypeRefund, types.TransactionTypeReward:
	default:
		return nil, apperrors.Validationf("unknown adjustment type: %s", adjType)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validationf("adjustment amount must be positive")
	}

	delta := amount
	if adjType == types.TransactionTypePenalty {
		delta = amount.Neg()
	}

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var budget types.TeamBudget
	err := tx.Where("team_id = ? AND season_id = ? AND currency = ?",
		teamID, seasonID, currency).First(&budget).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Validationf("no %s budget for team %s in season %s", currency, teamID, seasonID)
		}
		return nil, err
	}

	balanceBefore := budget.Balance
	balanceAfter := balanceBefore.Add(delta)
	if balanceAfter.LessThan(decimal.Zero) {
		tx.Rollback()
		return nil, &apperrors.BudgetInsufficientError{
			Shortfalls: []apperrors.Shortfall{{
				TeamID:    teamID,
				Currency:  currency,
				Required:  amount,
				Available: balanceBefore,
				Shortfall: balanceAfter.Neg(),
			}},
		}
	}

	if err := tx.Model(&types.TeamBudget{}).
		Where("id = ?", budget.ID).
		Update("balance", balanceAfter).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	txn := types.Transaction{
		TransactionID: fmt.Sprintf("TXN_%s", uuid.New().String()),
		TeamID:        teamID,
		SeasonID:      seasonID,
		Type:          adjType,
		Currency:      currency,
		Amount:        delta,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Description:   description,
	}
	if err := tx.Create(&txn).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("team_id", teamID).
		Str("type", adjType).
		Str("amount", amount.String()).
		Msg("Budget adjustment recorded")
	return &txn, nil
}

// ReconcileLedger reports completed rounds whose allocations have no matching
// ledger entry. A non-empty result means money moved without a record, which
// should never happen under the transactional apply path.
func (s *Service) ReconcileLedger() ([]string, error) {
	return s.db.FindCompletedRoundsWithoutLedger()
}

func (s *Service) ListAllocations(roundID string) ([]types.AllocationResponse, error) {
	allocations, err := s.db.GetAllocations(roundID)
	if err != nil {
		return nil, err
	}
	responses := make([]types.AllocationResponse, 0, len(allocations))
	for _, a := range allocations {
		responses = append(responses, types.AllocationResponse{
			AllocationID: a.AllocationID,
			RoundID:      a.RoundID,
			TeamID:       a.TeamID,
			PlayerID:     a.PlayerID,
			Amount:       a.Amount,
			Phase:        a.Phase,
			CreatedAt:    a.CreatedAt,
		})
	}
	return responses, nil
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) ListAllocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roundID := c.Param("round_id")
		allocations, err := h.service.ListAllocations(roundID)
		response.Handle(c, gin.H{"allocations": allocations}, err)
	}
}

func (h *GinHandlers) RecordAdjustmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TeamID      string `json:"team_id" binding:"required"`
			SeasonID    string `json:"season_id" binding:"required"`
			Currency    string `json:"currency" binding:"required"`
			Type        string `json:"type" binding:"required"`
			Amount      string `json:"amount" binding:"required"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.BadRequest(c, "invalid amount: "+err.Error())
			return
		}

		txn, err := h.service.RecordAdjustment(req.TeamID, req.SeasonID, req.Currency, req.Type, amount, req.Description)
		response.Handle(c, gin.H{"transaction": txn}, err)
	}
}
