package tiebreaker

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

func newTestService(t *testing.T, maxAttempts int) (*Service, *gorm.DB) {
	t.Helper()
	db := database.NewTestDatabase(t)
	key, err := crypto.GenerateKey()
	assert.Nil(t, err)
	cipher, err := crypto.NewService(key)
	assert.Nil(t, err)
	return NewService(db, cipher, 10*time.Minute, maxAttempts), db
}

func seedRound(t *testing.T, db *gorm.DB, teamBalances map[string]int64) *types.Round {
	t.Helper()
	round := &types.Round{
		RoundID:   "RND_TEST01",
		SeasonID:  "SSN_TEST",
		Currency:  types.CurrencyClub,
		Status:    types.RoundStatusPendingFinalization,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(-time.Minute),
	}
	assert.Nil(t, db.Create(round).Error)
	for teamID, balance := range teamBalances {
		assert.Nil(t, db.Create(&types.TeamBudget{
			TeamID:   teamID,
			SeasonID: round.SeasonID,
			Currency: round.Currency,
			Balance:  decimal.NewFromInt(balance),
		}).Error)
	}
	return round
}

func TestUniqueRebidResolves(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_B", "TEAM_A"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(120)))
	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_B", decimal.NewFromInt(150)))

	result, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, result.Resolved)
	check.Equal(t, "TEAM_B", result.WinnerTeamID)
	check.True(t, decimal.NewFromInt(150).Equal(result.WinningAmount))
}

func TestRebidMustBeatFloor(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	check.Error(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(100)))
	check.Error(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(90)))
	check.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(101)))
}

func TestRebidRejectedFromOutsideTiedSet(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500, "TEAM_C": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	check.Error(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_C", decimal.NewFromInt(200)))
}

func TestRebidExceedingBudgetRejected(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 110, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	check.Error(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(120)))
	check.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(110)))
}

func TestSharedRebidMaximumReopensAtRaisedFloor(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500, "TEAM_C": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B", "TEAM_C"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(150)))
	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_B", decimal.NewFromInt(150)))
	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_C", decimal.NewFromInt(130)))

	result, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, result.Reopened)
	check.False(t, result.Resolved)

	// The tied set shrank to the teams at the shared maximum and the floor
	// rose to it.
	check.Equal(t, 2, result.Tiebreaker.Attempt)
	check.True(t, decimal.NewFromInt(150).Equal(result.Tiebreaker.FloorAmount))
	tied, err := decodeTiedTeams(result.Tiebreaker.TiedTeams)
	assert.Nil(t, err)
	check.Equal(t, []string{"TEAM_A", "TEAM_B"}, tied)
}

func TestAllDeclineSingleAffordableTeamWinsAtFloor(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 50, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	result, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, result.Resolved)
	check.Equal(t, "TEAM_B", result.WinnerTeamID)
	check.True(t, decimal.NewFromInt(100).Equal(result.WinningAmount))
}

func TestAttemptCapForcesTermination(t *testing.T) {
	svc, db := newTestService(t, 2)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	// Attempt 1: both decline, both can afford, reopen.
	result, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, result.Reopened)
	check.Equal(t, 2, result.Tiebreaker.Attempt)

	// Attempt 2 hits the cap: lowest team id wins at the floor.
	result, err = svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, result.Resolved)
	check.Equal(t, "TEAM_A", result.WinnerTeamID)
	check.True(t, decimal.NewFromInt(100).Equal(result.WinningAmount))
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500})

	tb, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)

	assert.Nil(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_A", decimal.NewFromInt(200)))

	first, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, first.Resolved)
	check.False(t, first.AlreadyResolved)

	// A repeat close reports the same outcome but flags it as already
	// done, so callers never stage the winner a second time.
	second, err := svc.Close(tb.TiebreakerID)
	assert.Nil(t, err)
	check.True(t, second.Resolved)
	check.True(t, second.AlreadyResolved)
	check.Equal(t, first.WinnerTeamID, second.WinnerTeamID)
	check.True(t, first.WinningAmount.Equal(second.WinningAmount))

	check.Error(t, svc.PlaceRebid(tb.TiebreakerID, "TEAM_B", decimal.NewFromInt(300)))
}

func TestPendingCountTracksOpenContests(t *testing.T) {
	svc, db := newTestService(t, 3)
	round := seedRound(t, db, map[string]int64{"TEAM_A": 500, "TEAM_B": 500})

	first, err := svc.Open(round, "PLY_1", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(100))
	assert.Nil(t, err)
	_, err = svc.Open(round, "PLY_2", []string{"TEAM_A", "TEAM_B"}, decimal.NewFromInt(50))
	assert.Nil(t, err)

	count, err := svc.PendingCount(round.RoundID)
	assert.Nil(t, err)
	check.Equal(t, 2, count)

	assert.Nil(t, svc.PlaceRebid(first.TiebreakerID, "TEAM_A", decimal.NewFromInt(150)))
	_, err = svc.Close(first.TiebreakerID)
	assert.Nil(t, err)

	count, err = svc.PendingCount(round.RoundID)
	assert.Nil(t, err)
	check.Equal(t, 1, count)
}
