package resolver

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func bid(bidID, teamID, playerID string, amount int64) DecryptedBid {
	return DecryptedBid{
		BidID:    bidID,
		TeamID:   teamID,
		PlayerID: playerID,
		Amount:   decimal.NewFromInt(amount),
	}
}

func TestResolveBidsUniqueWinner(t *testing.T) {
	result := ResolveBids([]DecryptedBid{
		bid("BID_1", "TEAM_A", "PLY_1", 100),
		bid("BID_2", "TEAM_B", "PLY_1", 150),
		bid("BID_3", "TEAM_C", "PLY_1", 120),
	})

	assert.Equal(t, 1, len(result.Winners))
	check.Equal(t, "TEAM_B", result.Winners[0].TeamID)
	check.Equal(t, "BID_2", result.Winners[0].BidID)
	check.True(t, decimal.NewFromInt(150).Equal(result.Winners[0].Amount))
	check.Equal(t, 0, len(result.Ties))
}

func TestResolveBidsSharedMaximumIsTie(t *testing.T) {
	result := ResolveBids([]DecryptedBid{
		bid("BID_1", "TEAM_A", "PLY_1", 150),
		bid("BID_2", "TEAM_B", "PLY_1", 150),
		bid("BID_3", "TEAM_C", "PLY_1", 100),
	})

	check.Equal(t, 0, len(result.Winners))
	assert.Equal(t, 1, len(result.Ties))
	check.Equal(t, "PLY_1", result.Ties[0].PlayerID)
	check.Equal(t, []string{"TEAM_A", "TEAM_B"}, result.Ties[0].TeamIDs)
	check.True(t, decimal.NewFromInt(150).Equal(result.Ties[0].Amount))
}

func TestResolveBidsLowerBidderNeverJoinsTie(t *testing.T) {
	result := ResolveBids([]DecryptedBid{
		bid("BID_1", "TEAM_A", "PLY_1", 150),
		bid("BID_2", "TEAM_B", "PLY_1", 150),
		bid("BID_3", "TEAM_C", "PLY_1", 149),
	})

	assert.Equal(t, 1, len(result.Ties))
	check.Equal(t, 2, len(result.Ties[0].TeamIDs))
	for _, teamID := range result.Ties[0].TeamIDs {
		check.NotEqual(t, "TEAM_C", teamID)
	}
}

func TestResolveBidsIndependentPerPlayer(t *testing.T) {
	result := ResolveBids([]DecryptedBid{
		bid("BID_1", "TEAM_A", "PLY_1", 100),
		bid("BID_2", "TEAM_B", "PLY_1", 100),
		bid("BID_3", "TEAM_A", "PLY_2", 80),
		bid("BID_4", "TEAM_B", "PLY_2", 60),
	})

	assert.Equal(t, 1, len(result.Winners))
	check.Equal(t, "PLY_2", result.Winners[0].PlayerID)
	check.Equal(t, "TEAM_A", result.Winners[0].TeamID)
	assert.Equal(t, 1, len(result.Ties))
	check.Equal(t, "PLY_1", result.Ties[0].PlayerID)
}

func TestResolveBidsDeterministicAcrossOrderings(t *testing.T) {
	bids := []DecryptedBid{
		bid("BID_1", "TEAM_C", "PLY_1", 90),
		bid("BID_2", "TEAM_A", "PLY_1", 110),
		bid("BID_3", "TEAM_B", "PLY_2", 70),
		bid("BID_4", "TEAM_D", "PLY_2", 70),
	}
	reversed := []DecryptedBid{bids[3], bids[2], bids[1], bids[0]}

	first := ResolveBids(bids)
	second := ResolveBids(reversed)

	assert.Equal(t, len(first.Winners), len(second.Winners))
	check.Equal(t, first.Winners[0], second.Winners[0])
	assert.Equal(t, len(first.Ties), len(second.Ties))
	check.Equal(t, first.Ties[0].TeamIDs, second.Ties[0].TeamIDs)
}

func TestResolveBidsSingleBidWins(t *testing.T) {
	result := ResolveBids([]DecryptedBid{
		bid("BID_1", "TEAM_A", "PLY_1", 10),
	})

	assert.Equal(t, 1, len(result.Winners))
	check.Equal(t, "TEAM_A", result.Winners[0].TeamID)
}

func TestResolveBidsEmptyInput(t *testing.T) {
	result := ResolveBids(nil)

	check.Equal(t, 0, len(result.Winners))
	check.Equal(t, 0, len(result.Ties))
}
