package finalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shamsear/ssleague-api/internal/allocation"
	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/audit"
	"github.com/shamsear/ssleague-api/internal/bidding"
	"github.com/shamsear/ssleague-api/internal/broadcast"
	"github.com/shamsear/ssleague-api/internal/resolver"
	"github.com/shamsear/ssleague-api/internal/tiebreaker"
	"github.com/shamsear/ssleague-api/internal/types"
)

// Finalization triggers. Any of the three may fire first for a given round;
// whichever wins the status transition does the work, the rest observe.
const (
	TriggerLazy   = "lazy"
	TriggerManual = "manual"
	TriggerSweep  = "sweep"
)

// Service drives a round from expiry to completion: resolve sealed bids,
// open tiebreakers for contested players, and hand clean results to the
// allocation applier.
type Service struct {
	db          *Database
	resolver    *resolver.Service
	tiebreakers *tiebreaker.Service
	allocator   *allocation.Service
	bids        *bidding.Service
	notifier    broadcast.Notifier
	auditor     *audit.Sink
}

func NewService(db *Database, res *resolver.Service, tb *tiebreaker.Service,
	alloc *allocation.Service, bids *bidding.Service,
	notifier broadcast.Notifier, auditor *audit.Sink) *Service {
	return &Service{
		db:          db,
		resolver:    res,
		tiebreakers: tb,
		allocator:   alloc,
		bids:        bids,
		notifier:    notifier,
		auditor:     auditor,
	}
}

// Finalize evaluates a round for completion. Safe to call any number of
// times from any trigger: a round that is already past the point the caller
// wants it at reports Advanced=false rather than an error.
func (s *Service) Finalize(roundID, trigger, actorID string) (*types.FinalizeOutcome, error) {
	logger := log.With().
		Str("round_id", roundID).
		Str("trigger", trigger).
		Str("actor_id", actorID).
		Logger()

	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", roundID)
	}

	switch round.Status {
	case types.RoundStatusCompleted:
		return s.outcome(round, false, "already completed"), nil
	case types.RoundStatusDraft:
		return s.outcome(round, false, "round has not started"), nil
	case types.RoundStatusPendingFinalization:
		return s.completePending(round, trigger, actorID)
	}

	// Lazy and sweep triggers only act on expired rounds. A committee
	// member may cut a round short explicitly.
	if now := time.Now(); now.Before(round.EndTime) {
		if trigger != TriggerManual {
			return s.outcome(round, false, "round still open"), nil
		}
		// Close the submission window at the store before resolving, so a
		// bid racing the cut-short is rejected rather than silently
		// dropped from the resolution.
		if err := s.db.CloseSubmissions(round.RoundID, now); err != nil {
			return nil, fmt.Errorf("failed to close submissions: %w", err)
		}
		round.EndTime = now
	}

	result, err := s.resolver.ResolveRound(roundID)
	if err != nil {
		s.auditor.TryRecord(actorID, "finalize", roundID, "FAILURE", err.Error())
		return nil, fmt.Errorf("failed to resolve bids: %w", err)
	}

	if len(result.Ties) > 0 {
		logger.Info().Int("ties", len(result.Ties)).Msg("Round has contested players, parking")
		return s.parkForTiebreakers(round, result, trigger, actorID)
	}
	logger.Info().Int("winners", len(result.Winners)).Msg("Round resolved cleanly, applying")
	return s.applyDirect(round, result, trigger, actorID)
}

// applyDirect completes a round with no contested players in one step.
func (s *Service) applyDirect(round *types.Round, result *resolver.Result, trigger, actorID string) (*types.FinalizeOutcome, error) {
	allocs := winnersToInputs(round, result.Winners)

	err := s.allocator.Apply(round.RoundID, types.RoundStatusActive, allocs, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrPersistenceConflict) {
			// Another trigger finished first. Confirm and report no-op.
			current, readErr := s.db.GetRound(round.RoundID)
			if readErr == nil && current != nil {
				return s.outcome(current, false, "finalized by concurrent trigger"), nil
			}
			return nil, err
		}
		s.auditor.TryRecord(actorID, "finalize", round.RoundID, "FAILURE", err.Error())
		return nil, err
	}

	if err := s.bids.RevealBids(round.RoundID); err != nil {
		log.Warn().Err(err).Str("round_id", round.RoundID).Msg("bid reveal failed after completion")
	}

	s.auditor.TryRecord(actorID, "finalize", round.RoundID, "SUCCESS",
		fmt.Sprintf("trigger=%s allocations=%d unsold=%d", trigger, len(allocs), len(result.Unsold)))
	broadcast.Publish(s.notifier, broadcast.Event{
		Type:     broadcast.EventRoundCompleted,
		RoundID:  round.RoundID,
		SeasonID: round.SeasonID,
		Payload: map[string]interface{}{
			"allocations": len(allocs),
			"unsold":      result.Unsold,
		},
	})

	out := &types.FinalizeOutcome{
		RoundID:         round.RoundID,
		Advanced:        true,
		Reason:          "completed",
		Status:          types.RoundStatusCompleted,
		AllocationCount: len(allocs),
		UnsoldPlayers:   result.Unsold,
		Anomalies:       anomalyStrings(result.Anomalies),
		Timestamp:       time.Now(),
	}
	return out, nil
}

// parkForTiebreakers moves a contested round to PENDING_FINALIZATION, stages
// the uncontested winners and opens a tiebreaker per tied player.
func (s *Service) parkForTiebreakers(round *types.Round, result *resolver.Result, trigger, actorID string) (*types.FinalizeOutcome, error) {
	// Stage before transitioning. A staging failure leaves the round ACTIVE
	// and the next trigger retries; staging is a replace, so a concurrent
	// trigger staging the same winners is harmless. Transitioning first
	// could park the round with its uncontested winners missing.
	if err := s.allocator.Stage(round.RoundID, winnersToInputs(round, result.Winners)); err != nil {
		return nil, fmt.Errorf("failed to stage winners: %w", err)
	}

	moved, err := s.db.TransitionRound(round.RoundID,
		types.RoundStatusActive, types.RoundStatusPendingFinalization, round.RequiresApproval)
	if err != nil {
		return nil, fmt.Errorf("failed to park round: %w", err)
	}
	if !moved {
		current, readErr := s.db.GetRound(round.RoundID)
		if readErr == nil && current != nil {
			return s.outcome(current, false, "finalized by concurrent trigger"), nil
		}
		return nil, apperrors.ErrPersistenceConflict
	}

	opened := 0
	for _, tie := range result.Ties {
		tb, err := s.tiebreakers.Open(round, tie.PlayerID, tie.TeamIDs, tie.Amount)
		if err != nil {
			log.Error().Err(err).
				Str("round_id", round.RoundID).
				Str("player_id", tie.PlayerID).
				Msg("failed to open tiebreaker")
			continue
		}
		opened++
		broadcast.Publish(s.notifier, broadcast.Event{
			Type:     broadcast.EventTiebreakerOpened,
			RoundID:  round.RoundID,
			SeasonID: round.SeasonID,
			Payload: map[string]interface{}{
				"tiebreaker_id": tb.TiebreakerID,
				"player_id":     tie.PlayerID,
				"tied_teams":    tie.TeamIDs,
				"floor":         tie.Amount.String(),
				"ends_at":       tb.EndTime,
			},
		})
	}

	// Amounts become visible once the round has left ACTIVE.
	if err := s.bids.RevealBids(round.RoundID); err != nil {
		log.Warn().Err(err).Str("round_id", round.RoundID).Msg("bid reveal failed after parking")
	}

	s.auditor.TryRecord(actorID, "finalize", round.RoundID, "SUCCESS",
		fmt.Sprintf("trigger=%s parked tiebreakers=%d staged=%d", trigger, opened, len(result.Winners)))

	out := &types.FinalizeOutcome{
		RoundID:         round.RoundID,
		Advanced:        true,
		Reason:          "awaiting tiebreakers",
		Status:          types.RoundStatusPendingFinalization,
		AllocationCount: len(result.Winners),
		TiebreakerCount: opened,
		UnsoldPlayers:   result.Unsold,
		Anomalies:       anomalyStrings(result.Anomalies),
		Timestamp:       time.Now(),
	}
	return out, nil
}

// completePending re-checks a parked round. Rounds staged for manual
// approval wait for the explicit apply; rounds parked for tiebreakers
// complete as soon as the last contest resolves.
func (s *Service) completePending(round *types.Round, trigger, actorID string) (*types.FinalizeOutcome, error) {
	if round.RequiresApproval {
		return s.outcome(round, false, "awaiting committee approval"), nil
	}
	pending, err := s.tiebreakers.PendingCount(round.RoundID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending tiebreakers: %w", err)
	}
	if pending > 0 {
		return s.outcome(round, false, fmt.Sprintf("%d tiebreakers still open", pending)), nil
	}
	return s.applyStagedBatch(round, trigger, actorID)
}

// applyStagedBatch commits the staged allocations of a parked round.
func (s *Service) applyStagedBatch(round *types.Round, trigger, actorID string) (*types.FinalizeOutcome, error) {
	allocs, err := s.allocator.StagedInputs(round.RoundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged allocations: %w", err)
	}

	err = s.allocator.Apply(round.RoundID, types.RoundStatusPendingFinalization, allocs, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrPersistenceConflict) {
			current, readErr := s.db.GetRound(round.RoundID)
			if readErr == nil && current != nil {
				return s.outcome(current, false, "finalized by concurrent trigger"), nil
			}
			return nil, err
		}
		// Staged rows survive the rollback so the committee can adjust
		// budgets and retry.
		s.auditor.TryRecord(actorID, "finalize", round.RoundID, "FAILURE", err.Error())
		return nil, err
	}

	s.auditor.TryRecord(actorID, "finalize", round.RoundID, "SUCCESS",
		fmt.Sprintf("trigger=%s allocations=%d", trigger, len(allocs)))
	broadcast.Publish(s.notifier, broadcast.Event{
		Type:     broadcast.EventRoundCompleted,
		RoundID:  round.RoundID,
		SeasonID: round.SeasonID,
		Payload:  map[string]interface{}{"allocations": len(allocs)},
	})

	return &types.FinalizeOutcome{
		RoundID:         round.RoundID,
		Advanced:        true,
		Reason:          "completed",
		Status:          types.RoundStatusCompleted,
		AllocationCount: len(allocs),
		Timestamp:       time.Now(),
	}, nil
}

// Stage resolves a round and parks it for committee review instead of
// applying immediately. The two-step flow lets an admin inspect the would-be
// allocations before money moves.
func (s *Service) Stage(roundID, actorID string) (*types.FinalizeOutcome, error) {
	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", roundID)
	}
	switch round.Status {
	case types.RoundStatusCompleted:
		return s.outcome(round, false, "already completed"), nil
	case types.RoundStatusPendingFinalization:
		return s.outcome(round, false, "already staged"), nil
	case types.RoundStatusDraft:
		return nil, apperrors.Conflictf("round %s has not started", roundID)
	}

	// Leave ACTIVE before resolving. The submission boundary requires an
	// active round, so once the transition commits the bid set is frozen
	// and the resolution cannot miss a late bid.
	moved, err := s.db.TransitionRound(roundID,
		types.RoundStatusActive, types.RoundStatusPendingFinalization, true)
	if err != nil {
		return nil, fmt.Errorf("failed to stage round: %w", err)
	}
	if !moved {
		current, readErr := s.db.GetRound(roundID)
		if readErr == nil && current != nil {
			return s.outcome(current, false, "changed by concurrent trigger"), nil
		}
		return nil, apperrors.ErrPersistenceConflict
	}

	result, err := s.resolver.ResolveRound(roundID)
	if err != nil {
		s.unpark(roundID)
		return nil, fmt.Errorf("failed to resolve bids: %w", err)
	}

	inputs := winnersToInputs(round, result.Winners)
	if err := s.allocator.Stage(roundID, inputs); err != nil {
		s.unpark(roundID)
		return nil, fmt.Errorf("failed to stage winners: %w", err)
	}

	// Pre-flight the staged batch so the committee sees shortfalls before
	// approving. The apply step re-checks inside its transaction.
	anomalies := anomalyStrings(result.Anomalies)
	for _, sf := range s.allocator.ValidateBudgets(round, inputs) {
		log.Warn().
			Str("team_id", sf.TeamID).
			Str("shortfall", sf.Shortfall.String()).
			Msg("staged round has a budget shortfall")
		anomalies = append(anomalies,
			fmt.Sprintf("%s short by %s", sf.TeamID, sf.Shortfall.String()))
	}

	opened := 0
	for _, tie := range result.Ties {
		if _, err := s.tiebreakers.Open(round, tie.PlayerID, tie.TeamIDs, tie.Amount); err != nil {
			log.Error().Err(err).Str("player_id", tie.PlayerID).Msg("failed to open tiebreaker")
			continue
		}
		opened++
	}

	if err := s.bids.RevealBids(roundID); err != nil {
		log.Warn().Err(err).Str("round_id", roundID).Msg("bid reveal failed after staging")
	}

	s.auditor.TryRecord(actorID, "stage", roundID, "SUCCESS",
		fmt.Sprintf("staged=%d tiebreakers=%d", len(result.Winners), opened))
	broadcast.Publish(s.notifier, broadcast.Event{
		Type:     broadcast.EventRoundStaged,
		RoundID:  roundID,
		SeasonID: round.SeasonID,
		Payload:  map[string]interface{}{"staged": len(result.Winners), "tiebreakers": opened},
	})

	return &types.FinalizeOutcome{
		RoundID:         roundID,
		Advanced:        true,
		Reason:          "staged for approval",
		Status:          types.RoundStatusPendingFinalization,
		AllocationCount: len(result.Winners),
		TiebreakerCount: opened,
		UnsoldPlayers:   result.Unsold,
		Anomalies:       anomalies,
		Timestamp:       time.Now(),
	}, nil
}

// ApplyStaged commits a round previously staged for approval. Refused while
// any tiebreaker remains open.
func (s *Service) ApplyStaged(roundID, actorID string) (*types.FinalizeOutcome, error) {
	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	if round == nil {
		return nil, apperrors.Validationf("round %s not found", roundID)
	}
	if round.Status == types.RoundStatusCompleted {
		return s.outcome(round, false, "already completed"), nil
	}
	if round.Status != types.RoundStatusPendingFinalization {
		return nil, apperrors.Conflictf("round %s is not staged", roundID)
	}

	pending, err := s.tiebreakers.PendingCount(roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending tiebreakers: %w", err)
	}
	if pending > 0 {
		return nil, apperrors.Conflictf("%d tiebreakers still open for round %s", pending, roundID)
	}

	return s.applyStagedBatch(round, TriggerManual, actorID)
}

// CompleteIfReady finishes a tie-parked round once its last tiebreaker
// resolves. No-op for rounds held for manual approval.
func (s *Service) CompleteIfReady(roundID string) (*types.FinalizeOutcome, error) {
	round, err := s.db.GetRound(roundID)
	if err != nil {
		return nil, err
	}
	if round == nil || round.Status != types.RoundStatusPendingFinalization {
		return nil, nil
	}
	out, err := s.completePending(round, TriggerSweep, "system")
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CloseTiebreaker closes one contest window, stages the winner when the
// contest resolves, and completes the round if it was the last one open.
func (s *Service) CloseTiebreaker(tiebreakerID, actorID string) (*tiebreaker.CloseResult, error) {
	result, err := s.tiebreakers.Close(tiebreakerID)
	if err != nil {
		return nil, err
	}
	if !result.Resolved || result.AlreadyResolved {
		// A repeat close must not stage the winner a second time.
		return result, nil
	}
	if err := s.stageTiebreakerWinner(result, actorID); err != nil {
		return nil, err
	}
	return result, nil
}

// unpark reverts a failed staging attempt so the round does not sit in
// PENDING_FINALIZATION with nothing staged behind it.
func (s *Service) unpark(roundID string) {
	if _, err := s.db.TransitionRound(roundID,
		types.RoundStatusPendingFinalization, types.RoundStatusActive, false); err != nil {
		log.Error().Err(err).Str("round_id", roundID).Msg("failed to revert round staging")
	}
}

func (s *Service) stageTiebreakerWinner(result *tiebreaker.CloseResult, actorID string) error {
	tb := result.Tiebreaker
	round, err := s.db.GetRound(tb.RoundID)
	if err != nil || round == nil {
		return fmt.Errorf("failed to load round %s for tiebreaker %s: %w", tb.RoundID, tb.TiebreakerID, err)
	}

	bidID, err := s.db.GetWinningBidID(tb.RoundID, tb.PlayerID, result.WinnerTeamID)
	if err != nil {
		return fmt.Errorf("failed to find winning bid: %w", err)
	}

	err = s.allocator.Stage(tb.RoundID, []allocation.Input{{
		TeamID:   result.WinnerTeamID,
		PlayerID: tb.PlayerID,
		BidID:    bidID,
		Amount:   result.WinningAmount,
		Phase:    round.Phase,
	}})
	if err != nil {
		return fmt.Errorf("failed to stage tiebreaker winner: %w", err)
	}

	s.auditor.TryRecord(actorID, "tiebreaker_close", tb.TiebreakerID, "SUCCESS",
		fmt.Sprintf("winner=%s amount=%s", result.WinnerTeamID, result.WinningAmount.String()))
	broadcast.Publish(s.notifier, broadcast.Event{
		Type:     broadcast.EventTiebreakerClosed,
		RoundID:  tb.RoundID,
		SeasonID: round.SeasonID,
		Payload: map[string]interface{}{
			"tiebreaker_id": tb.TiebreakerID,
			"player_id":     tb.PlayerID,
			"winner":        result.WinnerTeamID,
			"amount":        result.WinningAmount.String(),
		},
	})

	if _, err := s.CompleteIfReady(tb.RoundID); err != nil {
		log.Error().Err(err).Str("round_id", tb.RoundID).Msg("failed to complete round after tiebreaker")
	}
	return nil
}

// SweepExpired is the periodic safety net: finalize every expired round and
// close every overdue tiebreaker window, regardless of reader traffic.
func (s *Service) SweepExpired(now time.Time) {
	rounds, err := s.db.GetExpiredActiveRounds(now)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed to list expired rounds")
	} else {
		for _, round := range rounds {
			if _, err := s.Finalize(round.RoundID, TriggerSweep, "system"); err != nil {
				if errors.Is(err, apperrors.ErrPersistenceConflict) {
					continue
				}
				log.Error().Err(err).Str("round_id", round.RoundID).Msg("sweep finalization failed")
			}
		}
	}

	results, err := s.tiebreakers.CloseDue(now)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed to close due tiebreakers")
		return
	}
	for _, result := range results {
		if !result.Resolved || result.AlreadyResolved {
			continue
		}
		if err := s.stageTiebreakerWinner(result, "system"); err != nil {
			log.Error().Err(err).
				Str("tiebreaker_id", result.Tiebreaker.TiebreakerID).
				Msg("sweep failed to stage tiebreaker winner")
		}
	}

	drifted, err := s.allocator.ReconcileLedger()
	if err != nil {
		log.Error().Err(err).Msg("sweep ledger reconciliation failed")
		return
	}
	if len(drifted) > 0 {
		log.Warn().Strs("round_ids", drifted).Msg("completed rounds missing ledger entries")
	}
}

func (s *Service) outcome(round *types.Round, advanced bool, reason string) *types.FinalizeOutcome {
	return &types.FinalizeOutcome{
		RoundID:   round.RoundID,
		Advanced:  advanced,
		Reason:    reason,
		Status:    round.Status,
		Timestamp: time.Now(),
	}
}

func winnersToInputs(round *types.Round, winners []resolver.Winner) []allocation.Input {
	allocs := make([]allocation.Input, 0, len(winners))
	for _, w := range winners {
		allocs = append(allocs, allocation.Input{
			TeamID:   w.TeamID,
			PlayerID: w.PlayerID,
			BidID:    w.BidID,
			Amount:   w.Amount,
			Phase:    round.Phase,
		})
	}
	return allocs
}

func anomalyStrings(anomalies []resolver.Anomaly) []string {
	if len(anomalies) == 0 {
		return nil
	}
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, strings.Join([]string{a.BidID, a.Reason}, ": "))
	}
	return out
}
