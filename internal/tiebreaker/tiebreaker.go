package tiebreaker

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/crypto"
	"github.com/shamsear/ssleague-api/internal/types"
	"github.com/shamsear/ssleague-api/pkg/response"
)

// Rebid policy: a rebid must be STRICTLY GREATER than the floor (the tied
// amount). If a window closes with the contest still tied, the tied set is
// re-opened with a raised floor; teams that cannot afford the floor drop out.
// After MaxAttempts windows the contest is forcibly resolved: the tied team
// with the lowest team id wins at the floor amount. Termination holds because
// the tied set never grows, and the attempt cap bounds the no-progress case.

// Service runs tiebreaker sub-rounds.
type Service struct {
	db          *Database
	cipher      *crypto.Service
	window      time.Duration
	maxAttempts int
}

func NewService(gormDB *gorm.DB, cipher *crypto.Service, window time.Duration, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Service{
		db:          NewDatabase(gormDB),
		cipher:      cipher,
		window:      window,
		maxAttempts: maxAttempts,
	}
}

// Open creates a tiebreaker for one contested player.
func (s *Service) Open(round *types.Round, playerID string, teamIDs []string, floor decimal.Decimal) (*types.Tiebreaker, error) {
	sorted := append([]string(nil), teamIDs...)
	sort.Strings(sorted)
	tiedJSON, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tied teams: %w", err)
	}

	now := time.Now()
	tb := &types.Tiebreaker{
		TiebreakerID: "TBR_" + uuid.New().String(),
		RoundID:      round.RoundID,
		PlayerID:     playerID,
		TiedTeams:    string(tiedJSON),
		FloorAmount:  floor,
		Attempt:      1,
		Status:       types.TiebreakerStatusPending,
		EndTime:      now.Add(s.window),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.db.CreateTiebreaker(tb); err != nil {
		return nil, err
	}

	log.Info().
		Str("tiebreaker_id", tb.TiebreakerID).
		Str("round_id", round.RoundID).
		Str("player_id", playerID).
		Strs("tied_teams", sorted).
		Str("floor", floor.String()).
		Msg("tiebreaker opened")

	return tb, nil
}

// PlaceRebid accepts one tied team's sealed rebid. Only visible to the tied
// teams; the amount must beat the floor and fit the team's current balance.
func (s *Service) PlaceRebid(tiebreakerID, teamID string, amount decimal.Decimal) error {
	tb, err := s.db.GetTiebreaker(tiebreakerID)
	if err != nil {
		return err
	}
	if tb == nil {
		return apperrors.Validationf("tiebreaker %s not found", tiebreakerID)
	}
	if tb.Status != types.TiebreakerStatusPending {
		return apperrors.Validationf("tiebreaker %s is already resolved", tiebreakerID)
	}
	if time.Now().After(tb.EndTime) {
		return apperrors.Validationf("tiebreaker %s window has closed", tiebreakerID)
	}

	tied, err := decodeTiedTeams(tb.TiedTeams)
	if err != nil {
		return err
	}
	if !contains(tied, teamID) {
		return apperrors.Validationf("team %s is not part of tiebreaker %s", teamID, tiebreakerID)
	}

	if !amount.GreaterThan(tb.FloorAmount) {
		return apperrors.Validationf("rebid %s must be strictly greater than the tied amount %s",
			amount.String(), tb.FloorAmount.String())
	}

	round, err := s.db.GetRound(tb.RoundID)
	if err != nil {
		return err
	}
	if round == nil {
		return apperrors.Validationf("round %s not found", tb.RoundID)
	}

	budget, err := s.db.GetTeamBudget(teamID, round.SeasonID, round.Currency)
	if err != nil {
		return err
	}
	available := decimal.Zero
	if budget != nil {
		available = budget.Balance
	}
	if amount.GreaterThan(available) {
		return apperrors.Validationf("rebid of %s exceeds available budget %s", amount.String(), available.String())
	}

	encrypted, err := s.cipher.EncryptAmount(amount)
	if err != nil {
		return err
	}

	return s.db.UpsertRebid(tiebreakerID, teamID, tb.Attempt, encrypted)
}

// CloseResult reports the outcome of closing one tiebreaker window.
// AlreadyResolved marks a repeat close of a resolved contest; the winner has
// been staged already and must not be staged again.
type CloseResult struct {
	Tiebreaker      *types.Tiebreaker
	Resolved        bool
	AlreadyResolved bool
	WinnerTeamID    string
	WinningAmount   decimal.Decimal
	Reopened        bool
}

// Close evaluates the current window. A unique highest rebid resolves the
// contest. Otherwise the tied subset recurses: still-tied teams continue at a
// raised floor, non-bidders who can afford the floor stay in, and teams that
// cannot afford it drop out. Exceeding the attempt cap forces the documented
// terminal policy.
func (s *Service) Close(tiebreakerID string) (*CloseResult, error) {
	logger := log.With().
		Str("tiebreaker_id", tiebreakerID).
		Str("service", "tiebreaker").
		Logger()

	tb, err := s.db.GetTiebreaker(tiebreakerID)
	if err != nil {
		return nil, err
	}
	if tb == nil {
		return nil, apperrors.Validationf("tiebreaker %s not found", tiebreakerID)
	}
	if tb.Status != types.TiebreakerStatusPending {
		// Idempotent: closing an already-resolved tiebreaker is a no-op.
		return &CloseResult{
			Tiebreaker:      tb,
			Resolved:        true,
			AlreadyResolved: true,
			WinnerTeamID:    tb.WinnerTeamID,
			WinningAmount:   winningAmount(tb),
		}, nil
	}

	tied, err := decodeTiedTeams(tb.TiedTeams)
	if err != nil {
		return nil, err
	}

	round, err := s.db.GetRound(tb.RoundID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", tb.RoundID)
	}

	rebids, err := s.db.GetRebids(tiebreakerID, tb.Attempt)
	if err != nil {
		return nil, err
	}

	// Decrypt rebids; a failed decryption counts as a decline for that team.
	amounts := make(map[string]decimal.Decimal)
	for _, rb := range rebids {
		if !contains(tied, rb.TeamID) {
			continue
		}
		amount, err := s.cipher.DecryptAmount(rb.EncryptedAmount)
		if err != nil {
			logger.Warn().Err(err).Str("team_id", rb.TeamID).Msg("rebid excluded from tiebreaker")
			continue
		}
		if amount.GreaterThan(tb.FloorAmount) {
			amounts[rb.TeamID] = amount
		}
	}

	if len(amounts) > 0 {
		// Highest rebid; unique -> resolved, shared -> still tied at a
		// strictly higher floor.
		max := decimal.Zero
		for _, a := range amounts {
			if a.GreaterThan(max) {
				max = a
			}
		}
		var atMax []string
		for team, a := range amounts {
			if a.Equal(max) {
				atMax = append(atMax, team)
			}
		}
		sort.Strings(atMax)

		if len(atMax) == 1 {
			return s.resolve(tb, atMax[0], max)
		}
		if tb.Attempt >= s.maxAttempts {
			return s.forceResolve(tb, atMax, max)
		}
		return s.reopen(tb, atMax, max)
	}

	// Nobody rebid. Teams that cannot afford the floor are eliminated.
	var affordable []string
	for _, team := range tied {
		budget, err := s.db.GetTeamBudget(team, round.SeasonID, round.Currency)
		if err != nil {
			return nil, err
		}
		if budget != nil && !tb.FloorAmount.GreaterThan(budget.Balance) {
			affordable = append(affordable, team)
		}
	}
	sort.Strings(affordable)

	if len(affordable) == 1 {
		return s.resolve(tb, affordable[0], tb.FloorAmount)
	}
	if len(affordable) == 0 {
		// Every tied team lost the means to pay; fall back to the full
		// tied set for the terminal policy so the player still sells at
		// the amount that was genuinely offered.
		return s.forceResolve(tb, tied, tb.FloorAmount)
	}
	if tb.Attempt >= s.maxAttempts {
		return s.forceResolve(tb, affordable, tb.FloorAmount)
	}
	return s.reopen(tb, affordable, tb.FloorAmount)
}

// CloseDue closes every pending tiebreaker whose window has passed and
// returns the results, keyed for the caller to complete affected rounds.
func (s *Service) CloseDue(now time.Time) ([]*CloseResult, error) {
	due, err := s.db.GetDue(now)
	if err != nil {
		return nil, err
	}

	results := make([]*CloseResult, 0, len(due))
	for _, tb := range due {
		res, err := s.Close(tb.TiebreakerID)
		if err != nil {
			log.Error().Err(err).Str("tiebreaker_id", tb.TiebreakerID).Msg("failed to close tiebreaker")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// PendingCount reports how many tiebreakers still block a round.
func (s *Service) PendingCount(roundID string) (int, error) {
	pending, err := s.db.GetPendingForRound(roundID)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (s *Service) resolve(tb *types.Tiebreaker, winner string, amount decimal.Decimal) (*CloseResult, error) {
	tb.Status = types.TiebreakerStatusResolved
	tb.WinnerTeamID = winner
	tb.WinningAmount = &amount
	tb.UpdatedAt = time.Now()
	if err := s.db.UpdateTiebreaker(tb); err != nil {
		return nil, err
	}

	log.Info().
		Str("tiebreaker_id", tb.TiebreakerID).
		Str("winner", winner).
		Str("amount", amount.String()).
		Int("attempt", tb.Attempt).
		Msg("tiebreaker resolved")

	return &CloseResult{Tiebreaker: tb, Resolved: true, WinnerTeamID: winner, WinningAmount: amount}, nil
}

// forceResolve applies the terminal policy: lowest team id wins at the floor.
func (s *Service) forceResolve(tb *types.Tiebreaker, stillTied []string, floor decimal.Decimal) (*CloseResult, error) {
	sort.Strings(stillTied)
	winner := stillTied[0]

	log.Warn().
		Str("tiebreaker_id", tb.TiebreakerID).
		Strs("still_tied", stillTied).
		Int("attempt", tb.Attempt).
		Msg("tiebreaker attempt cap reached, applying terminal policy")

	return s.resolve(tb, winner, floor)
}

func (s *Service) reopen(tb *types.Tiebreaker, stillTied []string, newFloor decimal.Decimal) (*CloseResult, error) {
	tiedJSON, err := json.Marshal(stillTied)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tied teams: %w", err)
	}

	tb.TiedTeams = string(tiedJSON)
	tb.FloorAmount = newFloor
	tb.Attempt++
	tb.EndTime = time.Now().Add(s.window)
	tb.UpdatedAt = time.Now()
	if err := s.db.UpdateTiebreaker(tb); err != nil {
		return nil, err
	}

	log.Info().
		Str("tiebreaker_id", tb.TiebreakerID).
		Strs("still_tied", stillTied).
		Str("floor", newFloor.String()).
		Int("attempt", tb.Attempt).
		Msg("tiebreaker reopened")

	return &CloseResult{Tiebreaker: tb, Reopened: true}, nil
}

func decodeTiedTeams(raw string) ([]string, error) {
	var teams []string
	if err := json.Unmarshal([]byte(raw), &teams); err != nil {
		return nil, fmt.Errorf("failed to decode tied teams: %w", err)
	}
	return teams, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func winningAmount(tb *types.Tiebreaker) decimal.Decimal {
	if tb.WinningAmount != nil {
		return *tb.WinningAmount
	}
	return decimal.Zero
}

// GinHandlers contains HTTP handlers for team-facing tiebreaker endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PlaceRebidHandler handles POST requests from tied teams.
func (h *GinHandlers) PlaceRebidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("clientID")
		if teamID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var request struct {
			Amount decimal.Decimal `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.PlaceRebid(c.Param("tiebreaker_id"), teamID, request.Amount)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "rebid accepted"})
	}
}
