package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinalizeOutcome is the structured result of one finalization attempt,
// returned to all three trigger surfaces.
type FinalizeOutcome struct {
	RoundID         string    `json:"round_id"`
	Advanced        bool      `json:"advanced"`
	Reason          string    `json:"reason"`
	Status          string    `json:"status"`
	AllocationCount int       `json:"allocation_count"`
	TiebreakerCount int       `json:"tiebreaker_count"`
	UnsoldPlayers   []string  `json:"unsold_players,omitempty"`
	Anomalies       []string  `json:"anomalies,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AllocationResponse is the public view of one finalized allocation.
type AllocationResponse struct {
	AllocationID string          `json:"allocation_id"`
	RoundID      string          `json:"round_id"`
	TeamID       string          `json:"team_id"`
	PlayerID     string          `json:"player_id"`
	PlayerName   string          `json:"player_name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Phase        string          `json:"phase"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BidResponse masks the amount while the parent round is still active.
type BidResponse struct {
	BidID     string           `json:"bid_id"`
	RoundID   string           `json:"round_id"`
	TeamID    string           `json:"team_id"`
	PlayerID  string           `json:"player_id"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// BudgetResponse reports one currency pool for one team.
type BudgetResponse struct {
	TeamID   string          `json:"team_id"`
	SeasonID string          `json:"season_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}
