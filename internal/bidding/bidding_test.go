package bidding

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/crypto"
	"github.com/shamsear/ssleague-api/internal/database"
	"github.com/shamsear/ssleague-api/internal/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := database.NewTestDatabase(t)
	key, err := crypto.GenerateKey()
	assert.Nil(t, err)
	cipher, err := crypto.NewService(key)
	assert.Nil(t, err)
	return NewService(db, cipher), db
}

func seedActiveRound(t *testing.T, db *gorm.DB, players ...string) *types.Round {
	t.Helper()
	round := &types.Round{
		RoundID:        "RND_TEST01",
		SeasonID:       "SSN_TEST",
		Currency:       types.CurrencyClub,
		Phase:          types.PhaseRegular,
		RoundType:      types.RoundTypeNormal,
		MaxBidsPerTeam: 3,
		BasePrice:      decimal.NewFromInt(10),
		Status:         types.RoundStatusActive,
		StartTime:      time.Now().Add(-time.Minute),
		EndTime:        time.Now().Add(time.Hour),
	}
	assert.Nil(t, db.Create(round).Error)
	for _, playerID := range players {
		assert.Nil(t, db.Create(&types.Player{
			PlayerID:        playerID,
			SeasonID:        round.SeasonID,
			Name:            playerID,
			Position:        "CF",
			AuctionEligible: true,
		}).Error)
		assert.Nil(t, db.Create(&types.RoundPlayer{
			RoundID:  round.RoundID,
			PlayerID: playerID,
		}).Error)
	}
	return round
}

func seedBudget(t *testing.T, db *gorm.DB, teamID string, balance int64) {
	t.Helper()
	assert.Nil(t, db.Create(&types.TeamBudget{
		TeamID:   teamID,
		SeasonID: "SSN_TEST",
		Currency: types.CurrencyClub,
		Balance:  decimal.NewFromInt(balance),
	}).Error)
}

func TestPlaceBidSealsAmount(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	bid, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)

	// The stored row carries only ciphertext while the round is active.
	var stored types.Bid
	assert.Nil(t, db.Where("bid_id = ?", bid.BidID).First(&stored).Error)
	check.True(t, stored.Amount == nil)
	check.NotEqual(t, "", stored.EncryptedAmount)
	check.NotEqual(t, "100", stored.EncryptedAmount)

	listed, err := svc.ListTeamBids("TEAM_A", round.RoundID)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(listed))
	check.True(t, listed[0].Amount == nil)
}

func TestPlaceBidIdenticalResubmissionIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	first, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	second, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	check.Equal(t, first.BidID, second.BidID)

	var count int64
	assert.Nil(t, db.Model(&types.Bid{}).Where("team_id = ?", "TEAM_A").Count(&count).Error)
	check.Equal(t, int64(1), count)
}

func TestPlaceBidDifferentAmountSupersedes(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	first, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	second, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(150))
	assert.Nil(t, err)
	check.NotEqual(t, first.BidID, second.BidID)

	var old types.Bid
	assert.Nil(t, db.Where("bid_id = ?", first.BidID).First(&old).Error)
	check.Equal(t, types.BidStatusWithdrawn, old.Status)

	active, err := svc.ListTeamBids("TEAM_A", round.RoundID)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(active))
	check.Equal(t, second.BidID, active[0].BidID)
}

func TestPlaceBidAmountsMustBePairwiseDistinct(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1", "PLY_2")
	seedBudget(t, db, "TEAM_A", 1000)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	_, err = svc.PlaceBid("TEAM_A", round.RoundID, "PLY_2", decimal.NewFromInt(100))
	check.Error(t, err)
	_, err = svc.PlaceBid("TEAM_A", round.RoundID, "PLY_2", decimal.NewFromInt(110))
	check.Nil(t, err)
}

func TestPlaceBidEnforcesPerTeamCap(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1", "PLY_2", "PLY_3", "PLY_4")
	seedBudget(t, db, "TEAM_A", 1000)

	for i, playerID := range []string{"PLY_1", "PLY_2", "PLY_3"} {
		_, err := svc.PlaceBid("TEAM_A", round.RoundID, playerID, decimal.NewFromInt(int64(20+i)))
		assert.Nil(t, err)
	}
	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_4", decimal.NewFromInt(50))
	check.Error(t, err)

	// Replacing an existing bid does not count against the cap.
	_, err = svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(60))
	check.Nil(t, err)
}

func TestPlaceBidEnforcesCommittedBudget(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1", "PLY_2")
	seedBudget(t, db, "TEAM_A", 100)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(70))
	assert.Nil(t, err)

	// 70 committed leaves room for 30, not 40.
	_, err = svc.PlaceBid("TEAM_A", round.RoundID, "PLY_2", decimal.NewFromInt(40))
	check.Error(t, err)
	_, err = svc.PlaceBid("TEAM_A", round.RoundID, "PLY_2", decimal.NewFromInt(30))
	check.Nil(t, err)
}

func TestPlaceBidRejectsBelowBasePrice(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(5))
	check.Error(t, err)
}

func TestPlaceBidRejectsAfterExpiry(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)
	assert.Nil(t, db.Model(&types.Round{}).
		Where("round_id = ?", round.RoundID).
		Update("end_time", time.Now().Add(-time.Second)).Error)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	check.Error(t, err)
}

func TestPlaceBidRejectsPlayerOutsideRound(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_99", decimal.NewFromInt(100))
	check.Error(t, err)
}

func TestWithdrawBid(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	assert.Nil(t, svc.WithdrawBid("TEAM_A", round.RoundID, "PLY_1"))

	active, err := svc.ListTeamBids("TEAM_A", round.RoundID)
	assert.Nil(t, err)
	check.Equal(t, 0, len(active))

	// Nothing left to withdraw.
	check.Error(t, svc.WithdrawBid("TEAM_A", round.RoundID, "PLY_1"))
}

func TestRevealBidsPopulatesAmounts(t *testing.T) {
	svc, db := newTestService(t)
	round := seedActiveRound(t, db, "PLY_1")
	seedBudget(t, db, "TEAM_A", 1000)
	seedBudget(t, db, "TEAM_B", 1000)

	_, err := svc.PlaceBid("TEAM_A", round.RoundID, "PLY_1", decimal.NewFromInt(100))
	assert.Nil(t, err)
	_, err = svc.PlaceBid("TEAM_B", round.RoundID, "PLY_1", decimal.NewFromInt(120))
	assert.Nil(t, err)

	assert.Nil(t, db.Model(&types.Round{}).
		Where("round_id = ?", round.RoundID).
		Update("status", types.RoundStatusCompleted).Error)
	assert.Nil(t, svc.RevealBids(round.RoundID))

	var bids []types.Bid
	assert.Nil(t, db.Where("round_id = ? AND status = ?", round.RoundID, types.BidStatusActive).
		Order("team_id ASC").Find(&bids).Error)
	assert.Equal(t, 2, len(bids))
	assert.True(t, bids[0].Amount != nil)
	check.True(t, decimal.NewFromInt(100).Equal(*bids[0].Amount))
	assert.True(t, bids[1].Amount != nil)
	check.True(t, decimal.NewFromInt(120).Equal(*bids[1].Amount))
}
