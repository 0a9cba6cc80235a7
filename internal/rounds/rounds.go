package rounds

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/identifier"
	"github.com/shamsear/ssleague-api/internal/types"
	"github.com/shamsear/ssleague-api/pkg/response"
)

// Service owns the round lifecycle: DRAFT -> ACTIVE ->
// {PENDING_FINALIZATION -> COMPLETED} | COMPLETED. Transitions out of ACTIVE
// happen only through the finalize pipeline.
type Service struct {
	db    *Database
	idGen *identifier.Generator
}

func NewService(gormDB *gorm.DB, idGen *identifier.Generator) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		idGen: idGen,
	}
}

// CreateRoundInput is the admin-supplied round configuration.
type CreateRoundInput struct {
	SeasonID       string          `json:"season_id" binding:"required"`
	Positions      string          `json:"positions"`
	RoundType      string          `json:"round_type"`
	Currency       string          `json:"currency"`
	MaxBidsPerTeam int             `json:"max_bids_per_team"`
	BasePrice      decimal.Decimal `json:"base_price"`
	DurationMins   int             `json:"duration_minutes" binding:"required"`
	PlayerIDs      []string        `json:"player_ids"`
	Activate       bool            `json:"activate"`
}

// CreateRound validates the single-active-round invariant, generates a short
// round id with bounded collision retry, and populates the player set. Bulk
// rounds auto-include every auction-eligible unsold player; normal rounds use
// the admin-curated list.
func (s *Service) CreateRound(input CreateRoundInput) (*types.Round, error) {
	logger := log.With().
		Str("season_id", input.SeasonID).
		Str("service", "rounds").
		Logger()

	if input.RoundType == "" {
		input.RoundType = types.RoundTypeNormal
	}
	if input.RoundType != types.RoundTypeNormal && input.RoundType != types.RoundTypeBulk {
		return nil, apperrors.Validationf("unknown round type %s", input.RoundType)
	}
	if input.Currency == "" {
		input.Currency = types.CurrencyClub
	}
	if input.Currency != types.CurrencyClub && input.Currency != types.CurrencyReal {
		return nil, apperrors.Validationf("unknown currency %s", input.Currency)
	}
	if input.MaxBidsPerTeam <= 0 {
		return nil, apperrors.Validationf("max_bids_per_team must be positive")
	}
	if input.BasePrice.IsNegative() {
		return nil, apperrors.Validationf("base price must not be negative")
	}
	if input.DurationMins <= 0 {
		return nil, apperrors.Validationf("duration_minutes must be positive")
	}

	if input.Activate {
		active, err := s.db.GetActiveRound(input.SeasonID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, apperrors.Conflictf("round %s is already active in season %s", active.RoundID, input.SeasonID)
		}
	}

	var playerIDs []string
	if input.RoundType == types.RoundTypeBulk {
		players, err := s.db.GetEligibleUnsoldPlayers(input.SeasonID, ExpandPositions(input.Positions))
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			playerIDs = append(playerIDs, p.PlayerID)
		}
	} else {
		playerIDs = input.PlayerIDs
	}
	if len(playerIDs) == 0 {
		return nil, apperrors.Validationf("round must contain at least one player")
	}

	roundID, err := s.idGen.Generate("RND", s.db.RoundIDExists)
	if err != nil {
		return nil, err
	}

	roundNumber, err := s.db.NextRoundNumber(input.SeasonID)
	if err != nil {
		return nil, err
	}

	status := types.RoundStatusDraft
	if input.Activate {
		status = types.RoundStatusActive
	}

	now := time.Now()
	round := &types.Round{
		RoundID:        roundID,
		SeasonID:       input.SeasonID,
		Positions:      input.Positions,
		RoundType:      input.RoundType,
		Phase:          types.PhaseRegular,
		Currency:       input.Currency,
		MaxBidsPerTeam: input.MaxBidsPerTeam,
		BasePrice:      input.BasePrice,
		StartTime:      now,
		EndTime:        now.Add(time.Duration(input.DurationMins) * time.Minute),
		Status:         status,
		RoundNumber:    roundNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.CreateRoundWithPlayers(round, playerIDs); err != nil {
		if isActiveRoundConflict(err) {
			return nil, apperrors.Conflictf("another round is already active in season %s", round.SeasonID)
		}
		return nil, err
	}

	logger.Info().
		Str("round_id", round.RoundID).
		Str("round_type", round.RoundType).
		Int("players", len(playerIDs)).
		Int("round_number", round.RoundNumber).
		Msg("round created")

	return round, nil
}

// ActivateRound moves a draft round to active, re-checking the
// single-active-round invariant.
func (s *Service) ActivateRound(roundID string) (*types.Round, error) {
	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", roundID)
	}
	if round.Status != types.RoundStatusDraft {
		return nil, apperrors.Validationf("round %s is %s, only draft rounds can be activated", roundID, round.Status)
	}

	active, err := s.db.GetActiveRound(round.SeasonID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.Conflictf("round %s is already active in season %s", active.RoundID, round.SeasonID)
	}

	swapped, err := s.db.UpdateRoundStatus(roundID, types.RoundStatusDraft, types.RoundStatusActive)
	if err != nil {
		if isActiveRoundConflict(err) {
			return nil, apperrors.Conflictf("another round is already active in season %s", round.SeasonID)
		}
		return nil, err
	}
	if !swapped {
		return nil, apperrors.Conflictf("round %s changed state concurrently", roundID)
	}

	return s.db.GetRound(roundID)
}

// GetRound returns one round.
func (s *Service) GetRound(roundID string) (*types.Round, error) {
	return s.db.GetRound(roundID)
}

// GetRoundPlayerIDs returns a round's player set.
func (s *Service) GetRoundPlayerIDs(roundID string) ([]string, error) {
	return s.db.GetRoundPlayerIDs(roundID)
}

// StartIncompleteFillRound creates a successor round for the unsold players
// of a completed bulk round. Allocations from it carry the INCOMPLETE phase.
func (s *Service) StartIncompleteFillRound(parentRoundID string, durationMins int, maxBids int) (*types.Round, error) {
	parent, err := s.db.GetRound(parentRoundID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, apperrors.Validationf("round %s not found", parentRoundID)
	}
	if parent.RoundType != types.RoundTypeBulk {
		return nil, apperrors.Validationf("incomplete fill only applies to bulk rounds")
	}
	if parent.Status != types.RoundStatusCompleted {
		return nil, apperrors.Validationf("round %s is not completed", parentRoundID)
	}

	unsold, err := s.db.GetUnsoldRoundPlayers(parentRoundID)
	if err != nil {
		return nil, err
	}
	if len(unsold) == 0 {
		return nil, apperrors.Validationf("round %s has no unsold players", parentRoundID)
	}

	active, err := s.db.GetActiveRound(parent.SeasonID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.Conflictf("round %s is already active in season %s", active.RoundID, parent.SeasonID)
	}

	if durationMins <= 0 {
		return nil, apperrors.Validationf("duration_minutes must be positive")
	}
	if maxBids <= 0 {
		maxBids = parent.MaxBidsPerTeam
	}

	roundID, err := s.idGen.Generate("RND", s.db.RoundIDExists)
	if err != nil {
		return nil, err
	}
	roundNumber, err := s.db.NextRoundNumber(parent.SeasonID)
	if err != nil {
		return nil, err
	}

	playerIDs := make([]string, 0, len(unsold))
	for _, p := range unsold {
		playerIDs = append(playerIDs, p.PlayerID)
	}

	now := time.Now()
	round := &types.Round{
		RoundID:        roundID,
		SeasonID:       parent.SeasonID,
		Positions:      parent.Positions,
		RoundType:      types.RoundTypeBulk,
		Phase:          types.PhaseIncomplete,
		Currency:       parent.Currency,
		MaxBidsPerTeam: maxBids,
		BasePrice:      parent.BasePrice,
		StartTime:      now,
		EndTime:        now.Add(time.Duration(durationMins) * time.Minute),
		Status:         types.RoundStatusActive,
		RoundNumber:    roundNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.CreateRoundWithPlayers(round, playerIDs); err != nil {
		if isActiveRoundConflict(err) {
			return nil, apperrors.Conflictf("another round is already active in season %s", round.SeasonID)
		}
		return nil, err
	}

	log.Info().
		Str("round_id", round.RoundID).
		Str("parent_round_id", parentRoundID).
		Int("unsold_players", len(playerIDs)).
		Msg("incomplete fill round started")

	return round, nil
}

// isActiveRoundConflict detects the partial unique index on active rounds
// per season firing, which means a concurrent activation won.
func isActiveRoundConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: rounds.season_id")
}

// Finalizer is the lazy-finalization hook the read path converges on. The
// finalize service implements it; injecting the interface keeps the packages
// decoupled.
type Finalizer interface {
	Finalize(roundID, trigger, actorID string) (*types.FinalizeOutcome, error)
}

// GinHandlers contains HTTP handlers for round endpoints
type GinHandlers struct {
	service   *Service
	finalizer Finalizer
}

func NewGinHandlers(service *Service, finalizer Finalizer) *GinHandlers {
	return &GinHandlers{
		service:   service,
		finalizer: finalizer,
	}
}

// CreateRoundHandler handles POST requests to create rounds. Committee only.
func (h *GinHandlers) CreateRoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateRoundInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		round, err := h.service.CreateRound(input)
		response.Handle(c, round, err)
	}
}

func (h *GinHandlers) ActivateRoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		round, err := h.service.ActivateRound(c.Param("round_id"))
		response.Handle(c, round, err)
	}
}

// GetRoundHandler serves round data with the lazy expiry check: the
// finalization pipeline runs before the read so a client never sees a stale
// ACTIVE round past its end time.
func (h *GinHandlers) GetRoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roundID := c.Param("round_id")
		actorID := c.GetString("clientID")

		if _, err := h.finalizer.Finalize(roundID, "lazy", actorID); err != nil {
			// The reader still gets the last known valid state; the
			// failure is an operator concern.
			log.Warn().Err(err).Str("round_id", roundID).Msg("lazy finalization failed")
		}

		round, err := h.service.GetRound(roundID)
		if err == nil && round == nil {
			response.NotFound(c, "Round not found")
			return
		}
		response.Handle(c, round, err)
	}
}

func (h *GinHandlers) GetRoundPlayersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		playerIDs, err := h.service.GetRoundPlayerIDs(c.Param("round_id"))
		response.Handle(c, gin.H{"player_ids": playerIDs}, err)
	}
}

func (h *GinHandlers) IncompleteFillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			DurationMins   int `json:"duration_minutes" binding:"required"`
			MaxBidsPerTeam int `json:"max_bids_per_team"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		round, err := h.service.StartIncompleteFillRound(c.Param("round_id"), request.DurationMins, request.MaxBidsPerTeam)
		response.Handle(c, round, err)
	}
}
