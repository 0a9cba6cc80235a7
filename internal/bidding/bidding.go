package bidding

import (
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

// Service is the encrypted bid store. Amounts are sealed at submission time
// and stay opaque until the round leaves ACTIVE; the plaintext column is only
// populated by RevealBids during finalization.
type Service struct {
	db     *Database
	cipher *crypto.Service
}

func NewService(gormDB *gorm.DB, cipher *crypto.Service) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		cipher: cipher,
	}
}

// PlaceBid validates and seals one team's offer for one player. Re-submitting
// the identical amount succeeds as a no-op; a different amount supersedes the
// earlier bid. Submissions after end_time are rejected at this boundary, not
// silently accepted and later ignored.
func (s *Service) PlaceBid(teamID, roundID, playerID string, amount decimal.Decimal) (*types.Bid, error) {
	logger := log.With().
		Str("team_id", teamID).
		Str("round_id", roundID).
		Str("player_id", playerID).
		Str("service", "bidding").
		Logger()

	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", roundID)
	}
	if round.Status != types.RoundStatusActive {
		return nil, apperrors.Validationf("round %s is not accepting bids (status %s)", roundID, round.Status)
	}
	if time.Now().After(round.EndTime) {
		return nil, apperrors.Validationf("round %s has expired", roundID)
	}

	inRound, err := s.db.IsPlayerInRound(roundID, playerID)
	if err != nil {
		return nil, err
	}
	if !inRound {
		return nil, apperrors.Validationf("player %s is not part of round %s", playerID, roundID)
	}

	player, err := s.db.GetPlayer(playerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, apperrors.Validationf("player %s not found", playerID)
	}
	if player.TeamID != "" {
		return nil, apperrors.Conflictf("player %s is already owned by team %s", playerID, player.TeamID)
	}

	if amount.LessThan(round.BasePrice) {
		return nil, apperrors.Validationf("bid %s is below the base price %s", amount.String(), round.BasePrice.String())
	}

	ownBids, err := s.db.GetTeamActiveBids(teamID, roundID)
	if err != nil {
		return nil, err
	}

	// Decrypt our own bids to enforce the per-team rules. Blind-bid secrecy
	// holds against other teams, not the bidder's own state.
	var supersededBidID string
	committed := decimal.Zero
	othersCount := 0
	for i := range ownBids {
		existing, err := s.cipher.DecryptAmount(ownBids[i].EncryptedAmount)
		if err != nil {
			return nil, &apperrors.DecryptionError{BidID: ownBids[i].BidID, Err: err}
		}

		if ownBids[i].PlayerID == playerID {
			if existing.Equal(amount) {
				logger.Debug().Str("bid_id", ownBids[i].BidID).Msg("identical re-submission, returning existing bid")
				return &ownBids[i], nil
			}
			supersededBidID = ownBids[i].BidID
			continue
		}

		// All active bids by a team within a round carry pairwise-distinct
		// amounts, preventing a fixed self-collision at resolution.
		if existing.Equal(amount) {
			return nil, apperrors.Conflictf("team %s already holds an active bid of %s in round %s", teamID, amount.String(), roundID)
		}

		committed = committed.Add(existing)
		othersCount++
	}

	if othersCount >= round.MaxBidsPerTeam {
		return nil, apperrors.Validationf("team %s already holds %d active bids (limit %d)", teamID, othersCount, round.MaxBidsPerTeam)
	}

	budget, err := s.db.GetTeamBudget(teamID, round.SeasonID, round.Currency)
	if err != nil {
		return nil, err
	}
	available := decimal.Zero
	if budget != nil {
		available = budget.Balance
	}
	if committed.Add(amount).GreaterThan(available) {
		return nil, apperrors.Validationf(
			"bid of %s would commit %s against a budget of %s",
			amount.String(), committed.Add(amount).String(), available.String())
	}

	encrypted, err := s.cipher.EncryptAmount(amount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	bid := &types.Bid{
		BidID:           "BID_" + uuid.New().String(),
		RoundID:         roundID,
		TeamID:          teamID,
		PlayerID:        playerID,
		EncryptedAmount: encrypted,
		Status:          types.BidStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.db.CreateBidSuperseding(bid, supersededBidID); err != nil {
		return nil, err
	}

	logger.Info().
		Str("bid_id", bid.BidID).
		Bool("superseded", supersededBidID != "").
		Msg("bid placed")

	return bid, nil
}

// WithdrawBid marks a team's active bid on a player as withdrawn while the
// round is still open.
func (s *Service) WithdrawBid(teamID, roundID, playerID string) error {
	round, err := s.db.GetRound(roundID)
	if err != nil {
		return err
	}
	if round == nil {
		return apperrors.Validationf("round %s not found", roundID)
	}
	if round.Status != types.RoundStatusActive || time.Now().After(round.EndTime) {
		return apperrors.Validationf("round %s is no longer accepting changes", roundID)
	}

	withdrawn, err := s.db.WithdrawBid(teamID, roundID, playerID)
	if err != nil {
		return err
	}
	if !withdrawn {
		return apperrors.Validationf("no active bid by team %s on player %s in round %s", teamID, playerID, roundID)
	}
	return nil
}

// ListTeamBids returns a team's own bids in a round. Amounts appear only
// after finalization populates them.
func (s *Service) ListTeamBids(teamID, roundID string) ([]types.BidResponse, error) {
	bids, err := s.db.GetTeamActiveBids(teamID, roundID)
	if err != nil {
		return nil, err
	}

	out := make([]types.BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, types.BidResponse{
			BidID:     b.BidID,
			RoundID:   b.RoundID,
			TeamID:    b.TeamID,
			PlayerID:  b.PlayerID,
			Amount:    b.Amount,
			Status:    b.Status,
			CreatedAt: b.CreatedAt,
		})
	}
	return out, nil
}

// RevealBids decrypts every active bid of a round into the plaintext amount
// column. Called once the round has left ACTIVE. Per-bid failures are logged
// and skipped; the round's finalization never aborts over them.
func (s *Service) RevealBids(roundID string) error {
	bids, err := s.db.GetActiveBidsForRound(roundID)
	if err != nil {
		return err
	}

	for _, b := range bids {
		amount, err := s.cipher.DecryptAmount(b.EncryptedAmount)
		if err != nil {
			log.Warn().Err(err).
				Str("bid_id", b.BidID).
				Str("round_id", roundID).
				Msg("failed to reveal bid amount")
			continue
		}
		if err := s.db.SetBidAmount(b.BidID, amount); err != nil {
			return err
		}
	}
	return nil
}

// GinHandlers contains HTTP handlers for bid endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PlaceBidHandler handles POST requests to submit sealed bids. The caller
// identity comes from the validated JWT claims.
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("clientID")
		if teamID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var request struct {
			PlayerID string          `json:"player_id" binding:"required"`
			Amount   decimal.Decimal `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		bid, err := h.service.PlaceBid(teamID, c.Param("round_id"), request.PlayerID, request.Amount)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		// Echo the submission without the amount: the stored bid is sealed.
		response.Success(c, types.BidResponse{
			BidID:     bid.BidID,
			RoundID:   bid.RoundID,
			TeamID:    bid.TeamID,
			PlayerID:  bid.PlayerID,
			Status:    bid.Status,
			CreatedAt: bid.CreatedAt,
		})
	}
}

func (h *GinHandlers) WithdrawBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("clientID")
		err := h.service.WithdrawBid(teamID, c.Param("round_id"), c.Param("player_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "bid withdrawn"})
	}
}

func (h *GinHandlers) ListTeamBidsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("clientID")
		bids, err := h.service.ListTeamBids(teamID, c.Param("round_id"))
		response.Handle(c, bids, err)
	}
}
