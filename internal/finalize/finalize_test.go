package finalize

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/allocation"
	"github.com/shamsear/ssleague-api/internal/audit"
	"github.com/shamsear/ssleague-api/internal/bidding"
	"github.com/shamsear/ssleague-api/internal/broadcast"
	"github.com/shamsear/ssleague-api/internal/crypto"
	"github.com/shamsear/ssleague-api/internal/database"
	"github.com/shamsear/ssleague-api/internal/resolver"
	"github.com/shamsear/ssleague-api/internal/tiebreaker"
	"github.com/shamsear/ssleague-api/internal/types"
)

type fixture struct {
	svc    *Service
	tb     *tiebreaker.Service
	bids   *bidding.Service
	cipher *crypto.Service
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := database.NewTestDatabase(t)
	key, err := crypto.GenerateKey()
	assert.Nil(t, err)
	cipher, err := crypto.NewService(key)
	assert.Nil(t, err)

	tbService := tiebreaker.NewService(db, cipher, 10*time.Minute, 3)
	bidService := bidding.NewService(db, cipher)
	svc := NewService(
		NewDatabase(db),
		resolver.NewService(db, cipher),
		tbService,
		allocation.NewService(allocation.NewDatabase(db)),
		bidService,
		broadcast.NewLogNotifier(),
		audit.NewSink(db),
	)
	return &fixture{svc: svc, tb: tbService, bids: bidService, cipher: cipher, db: db}
}

// seedExpiredRound creates an expired active round with players, budgets and
// sealed bids ready for finalization.
func (f *fixture) seedExpiredRound(t *testing.T, teams map[string]int64, players []string) *types.Round {
	t.Helper()
	round := &types.Round{
		RoundID:   "RND_TEST01",
		SeasonID:  "SSN_TEST",
		Currency:  types.CurrencyClub,
		Phase:     types.PhaseRegular,
		RoundType: types.RoundTypeNormal,
		BasePrice: decimal.NewFromInt(10),
		Status:    types.RoundStatusActive,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(-time.Minute),
	}
	assert.Nil(t, f.db.Create(round).Error)

	for teamID, balance := range teams {
		assert.Nil(t, f.db.Create(&types.TeamBudget{
			TeamID:   teamID,
			SeasonID: round.SeasonID,
			Currency: round.Currency,
			Balance:  decimal.NewFromInt(balance),
		}).Error)
	}
	for _, playerID := range players {
		assert.Nil(t, f.db.Create(&types.Player{
			PlayerID:        playerID,
			SeasonID:        round.SeasonID,
			Name:            playerID,
			Position:        "CF",
			AuctionEligible: true,
		}).Error)
		assert.Nil(t, f.db.Create(&types.RoundPlayer{
			RoundID:  round.RoundID,
			PlayerID: playerID,
		}).Error)
	}
	return round
}

func (f *fixture) seedBid(t *testing.T, roundID, teamID, playerID string, amount int64) {
	t.Helper()
	encrypted, err := f.cipher.EncryptAmount(decimal.NewFromInt(amount))
	assert.Nil(t, err)
	assert.Nil(t, f.db.Create(&types.Bid{
		BidID:           "BID_" + teamID + "_" + playerID,
		RoundID:         roundID,
		TeamID:          teamID,
		PlayerID:        playerID,
		EncryptedAmount: encrypted,
		Status:          types.BidStatusActive,
	}).Error)
}

func TestFinalizeCleanRoundCompletes(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000},
		[]string{"PLY_1", "PLY_2", "PLY_3"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 150)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_2", 100)

	outcome, err := f.svc.Finalize(round.RoundID, TriggerLazy, "TEAM_A")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusCompleted, outcome.Status)
	check.Equal(t, 2, outcome.AllocationCount)
	check.Equal(t, []string{"PLY_3"}, outcome.UnsoldPlayers)

	var budgetA types.TeamBudget
	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_A").First(&budgetA).Error)
	check.True(t, decimal.NewFromInt(800).Equal(budgetA.Balance))

	// Amounts are revealed once the round is no longer active.
	var bids []types.Bid
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Find(&bids).Error)
	for _, b := range bids {
		check.True(t, b.Amount != nil)
	}
}

func TestFinalizeBeforeExpiryIsNoOpForNonManualTriggers(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000}, []string{"PLY_1"})
	assert.Nil(t, f.db.Model(&types.Round{}).
		Where("round_id = ?", round.RoundID).
		Update("end_time", time.Now().Add(time.Hour)).Error)
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 100)

	outcome, err := f.svc.Finalize(round.RoundID, TriggerLazy, "TEAM_A")
	assert.Nil(t, err)
	check.False(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusActive, outcome.Status)

	outcome, err = f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)
	check.False(t, outcome.Advanced)

	// A committee member may cut the round short.
	outcome, err = f.svc.Finalize(round.RoundID, TriggerManual, "committee")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusCompleted, outcome.Status)
}

func TestFinalizeConvergesAcrossTriggers(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000}, []string{"PLY_1"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 100)

	first, err := f.svc.Finalize(round.RoundID, TriggerLazy, "TEAM_A")
	assert.Nil(t, err)
	check.True(t, first.Advanced)

	// Every later trigger observes completion instead of repeating it.
	for _, trigger := range []string{TriggerLazy, TriggerSweep, TriggerManual} {
		outcome, err := f.svc.Finalize(round.RoundID, trigger, "anyone")
		assert.Nil(t, err)
		check.False(t, outcome.Advanced)
		check.Equal(t, types.RoundStatusCompleted, outcome.Status)
	}

	var txnCount int64
	assert.Nil(t, f.db.Model(&types.Transaction{}).Count(&txnCount).Error)
	check.Equal(t, int64(1), txnCount)

	var allocCount int64
	assert.Nil(t, f.db.Model(&types.Allocation{}).Count(&allocCount).Error)
	check.Equal(t, int64(1), allocCount)
}

func TestFinalizeParksContestedRound(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000, "TEAM_C": 1000},
		[]string{"PLY_1", "PLY_2"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_C", "PLY_2", 120)

	outcome, err := f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusPendingFinalization, outcome.Status)
	check.Equal(t, 1, outcome.TiebreakerCount)
	check.Equal(t, 1, outcome.AllocationCount)

	// The uncontested winner is staged, not applied: no money has moved.
	var budgetC types.TeamBudget
	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_C").First(&budgetC).Error)
	check.True(t, decimal.NewFromInt(1000).Equal(budgetC.Balance))

	var staged []types.PendingAllocation
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Find(&staged).Error)
	assert.Equal(t, 1, len(staged))
	check.Equal(t, "TEAM_C", staged[0].TeamID)
}

func TestTiebreakerResolutionCompletesRound(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000, "TEAM_C": 1000},
		[]string{"PLY_1", "PLY_2"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_C", "PLY_2", 120)

	_, err := f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)

	var tb types.Tiebreaker
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&tb).Error)

	assert.Nil(t, f.tb.PlaceRebid(tb.TiebreakerID, "TEAM_B", decimal.NewFromInt(250)))

	result, err := f.svc.CloseTiebreaker(tb.TiebreakerID, "committee")
	assert.Nil(t, err)
	check.True(t, result.Resolved)
	check.Equal(t, "TEAM_B", result.WinnerTeamID)

	// The last contest resolving completes the whole round.
	var got types.Round
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&got).Error)
	check.Equal(t, types.RoundStatusCompleted, got.Status)

	var allocations []types.Allocation
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Order("player_id ASC").Find(&allocations).Error)
	assert.Equal(t, 2, len(allocations))
	check.Equal(t, "TEAM_B", allocations[0].TeamID)
	check.True(t, decimal.NewFromInt(250).Equal(allocations[0].Amount))
	check.Equal(t, "TEAM_C", allocations[1].TeamID)

	var budgetB types.TeamBudget
	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_B").First(&budgetB).Error)
	check.True(t, decimal.NewFromInt(750).Equal(budgetB.Balance))
}

func TestStageAndApplyTwoStepFlow(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000}, []string{"PLY_1"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 300)

	outcome, err := f.svc.Stage(round.RoundID, "committee")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusPendingFinalization, outcome.Status)

	// Neither the sweep nor a reader may complete a round held for review.
	outcome, err = f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)
	check.False(t, outcome.Advanced)

	var budget types.TeamBudget
	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_A").First(&budget).Error)
	check.True(t, decimal.NewFromInt(1000).Equal(budget.Balance))

	outcome, err = f.svc.ApplyStaged(round.RoundID, "committee")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusCompleted, outcome.Status)

	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_A").First(&budget).Error)
	check.True(t, decimal.NewFromInt(700).Equal(budget.Balance))

	// Applying again reports the round as done without moving money twice.
	outcome, err = f.svc.ApplyStaged(round.RoundID, "committee")
	assert.Nil(t, err)
	check.False(t, outcome.Advanced)
}

func TestApplyStagedRefusedWhileTiebreakersOpen(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000},
		[]string{"PLY_1"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 200)

	_, err := f.svc.Stage(round.RoundID, "committee")
	assert.Nil(t, err)

	_, err = f.svc.ApplyStaged(round.RoundID, "committee")
	check.Error(t, err)
}

func TestSweepFinalizesExpiredRoundsAndDueTiebreakers(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000},
		[]string{"PLY_1"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 200)

	f.svc.SweepExpired(time.Now())

	var got types.Round
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&got).Error)
	check.Equal(t, types.RoundStatusPendingFinalization, got.Status)

	// Push the tiebreaker window into the past; nobody rebids, so the
	// terminal policy decides. Attempt 1 reopens, later sweeps exhaust the
	// cap and the round completes.
	for i := 0; i < 4; i++ {
		assert.Nil(t, f.db.Model(&types.Tiebreaker{}).
			Where("round_id = ?", round.RoundID).
			Update("end_time", time.Now().Add(-time.Minute)).Error)
		f.svc.SweepExpired(time.Now())
	}

	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&got).Error)
	check.Equal(t, types.RoundStatusCompleted, got.Status)

	var allocations []types.Allocation
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Find(&allocations).Error)
	assert.Equal(t, 1, len(allocations))
	check.Equal(t, "TEAM_A", allocations[0].TeamID)
	check.True(t, decimal.NewFromInt(200).Equal(allocations[0].Amount))
}

func TestFinalizeRoundWithNoBids(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000}, []string{"PLY_1", "PLY_2"})

	outcome, err := f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusCompleted, outcome.Status)
	check.Equal(t, 0, outcome.AllocationCount)
	check.Equal(t, 2, len(outcome.UnsoldPlayers))
}

func TestRepeatTiebreakerCloseDoesNotDuplicateStagedWinner(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t,
		map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000, "TEAM_C": 1000},
		[]string{"PLY_1", "PLY_2"})
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_1", 200)
	f.seedBid(t, round.RoundID, "TEAM_B", "PLY_2", 180)
	f.seedBid(t, round.RoundID, "TEAM_C", "PLY_2", 180)

	outcome, err := f.svc.Finalize(round.RoundID, TriggerSweep, "system")
	assert.Nil(t, err)
	check.Equal(t, 2, outcome.TiebreakerCount)

	var tb1 types.Tiebreaker
	assert.Nil(t, f.db.Where("round_id = ? AND player_id = ?", round.RoundID, "PLY_1").First(&tb1).Error)
	assert.Nil(t, f.tb.PlaceRebid(tb1.TiebreakerID, "TEAM_A", decimal.NewFromInt(250)))

	first, err := f.svc.CloseTiebreaker(tb1.TiebreakerID, "committee")
	assert.Nil(t, err)
	check.True(t, first.Resolved)
	check.False(t, first.AlreadyResolved)

	// Closing the same contest again must not stage its winner twice.
	second, err := f.svc.CloseTiebreaker(tb1.TiebreakerID, "committee")
	assert.Nil(t, err)
	check.True(t, second.Resolved)
	check.True(t, second.AlreadyResolved)

	var staged []types.PendingAllocation
	assert.Nil(t, f.db.Where("round_id = ? AND player_id = ?", round.RoundID, "PLY_1").Find(&staged).Error)
	assert.Equal(t, 1, len(staged))

	// The second contest still resolves and the round completes cleanly.
	var tb2 types.Tiebreaker
	assert.Nil(t, f.db.Where("round_id = ? AND player_id = ?", round.RoundID, "PLY_2").First(&tb2).Error)
	assert.Nil(t, f.tb.PlaceRebid(tb2.TiebreakerID, "TEAM_C", decimal.NewFromInt(260)))
	_, err = f.svc.CloseTiebreaker(tb2.TiebreakerID, "committee")
	assert.Nil(t, err)

	var got types.Round
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&got).Error)
	check.Equal(t, types.RoundStatusCompleted, got.Status)

	var allocations []types.Allocation
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Find(&allocations).Error)
	check.Equal(t, 2, len(allocations))

	var budgetA types.TeamBudget
	assert.Nil(t, f.db.Where("team_id = ?", "TEAM_A").First(&budgetA).Error)
	check.True(t, decimal.NewFromInt(750).Equal(budgetA.Balance))
}

func TestManualCutShortClosesSubmissionWindow(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000}, []string{"PLY_1"})
	originalEnd := time.Now().Add(time.Hour)
	assert.Nil(t, f.db.Model(&types.Round{}).
		Where("round_id = ?", round.RoundID).
		Update("end_time", originalEnd).Error)
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 100)

	outcome, err := f.svc.Finalize(round.RoundID, TriggerManual, "committee")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)

	// The stored end time is stamped back so the submission boundary
	// rejected bids before resolution read the set.
	var got types.Round
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).First(&got).Error)
	check.True(t, got.EndTime.Before(originalEnd))

	_, err = f.bids.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(150))
	check.Error(t, err)
}

func TestStageFreezesBidSubmissions(t *testing.T) {
	f := newFixture(t)
	round := f.seedExpiredRound(t, map[string]int64{"TEAM_A": 1000, "TEAM_B": 1000}, []string{"PLY_1"})
	assert.Nil(t, f.db.Model(&types.Round{}).
		Where("round_id = ?", round.RoundID).
		Update("end_time", time.Now().Add(time.Hour)).Error)
	f.seedBid(t, round.RoundID, "TEAM_A", "PLY_1", 300)

	outcome, err := f.svc.Stage(round.RoundID, "committee")
	assert.Nil(t, err)
	check.True(t, outcome.Advanced)
	check.Equal(t, types.RoundStatusPendingFinalization, outcome.Status)

	// The round left ACTIVE before resolution, so a bid racing the staging
	// is rejected instead of being silently dropped from the result.
	_, err = f.bids.PlaceBid("TEAM_B", round.RoundID, "PLY_1", decimal.NewFromInt(400))
	check.Error(t, err)

	var staged []types.PendingAllocation
	assert.Nil(t, f.db.Where("round_id = ?", round.RoundID).Find(&staged).Error)
	assert.Equal(t, 1, len(staged))
	check.Equal(t, "TEAM_A", staged[0].TeamID)
}
