package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Round statuses
const (
	RoundStatusDraft               = "DRAFT"
	RoundStatusActive              = "ACTIVE"
	RoundStatusPendingFinalization = "PENDING_FINALIZATION"
	RoundStatusCompleted           = "COMPLETED"
)

// Round types
const (
	RoundTypeNormal = "NORMAL"
	RoundTypeBulk   = "BULK"
)

// Allocation phases
const (
	PhaseRegular    = "REGULAR"
	PhaseIncomplete = "INCOMPLETE"
)

// Budget currencies. A dual-currency season keeps separate pools for
// football players and real players.
const (
	CurrencyClub = "CLUB"
	CurrencyReal = "REAL"
)

// Bid statuses
const (
	BidStatusActive    = "ACTIVE"
	BidStatusWithdrawn = "WITHDRAWN"
)

// Tiebreaker statuses
const (
	TiebreakerStatusPending  = "PENDING"
	TiebreakerStatusResolved = "RESOLVED"
)

// Transaction types for the budget ledger
const (
	TransactionTypeAllocation = "ALLOCATION"
	TransactionTypePenalty    = "PENALTY"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeReward     = "REWARD"
)

type Season struct {
	gorm.Model   `json:"-"`
	SeasonID     string    `gorm:"uniqueIndex" json:"season_id"`
	Name         string    `json:"name"`
	DualCurrency bool      `json:"dual_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

type Player struct {
	gorm.Model      `json:"-"`
	PlayerID        string           `gorm:"uniqueIndex" json:"player_id"`
	SeasonID        string           `gorm:"index" json:"season_id"`
	Name            string           `json:"name"`
	Position        string           `json:"position"`
	AuctionEligible bool             `json:"auction_eligible"`
	TeamID          string           `gorm:"index" json:"team_id"` // empty until sold
	SoldPrice       *decimal.Decimal `gorm:"type:decimal(12,2)" json:"sold_price,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Round is one timed auction window. EndTime is authoritative for expiry.
// At most one round per season may be ACTIVE at any time.
type Round struct {
	gorm.Model     `json:"-"`
	RoundID        string          `gorm:"uniqueIndex" json:"round_id"`
	SeasonID       string          `gorm:"index" json:"season_id"`
	Positions      string          `json:"positions"` // single position, comma-separated list, or group token
	RoundType      string          `json:"round_type"`
	Phase          string          `json:"phase"`
	Currency       string          `json:"currency"`
	MaxBidsPerTeam int             `json:"max_bids_per_team"`
	BasePrice      decimal.Decimal `gorm:"type:decimal(12,2)" json:"base_price"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Status         string          `gorm:"index" json:"status"`
	RoundNumber    int             `json:"round_number"`
	// RequiresApproval marks a round staged by an admin: it stays in
	// PENDING_FINALIZATION until the explicit apply action, even when no
	// tiebreakers remain open.
	RequiresApproval bool       `json:"requires_approval"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RoundPlayer is the membership of one player in one round.
type RoundPlayer struct {
	gorm.Model `json:"-"`
	RoundID    string `gorm:"index:idx_round_players_round_player,unique" json:"round_id"`
	PlayerID   string `gorm:"index:idx_round_players_round_player,unique" json:"player_id"`
}

// Bid is one team's sealed offer for one player in one round. The amount is
// encrypted at rest; Amount stays null while the round is ACTIVE and is only
// populated after finalization (blind bidding).
type Bid struct {
	gorm.Model      `json:"-"`
	BidID           string           `gorm:"uniqueIndex" json:"bid_id"`
	RoundID         string           `gorm:"index" json:"round_id"`
	TeamID          string           `gorm:"index" json:"team_id"`
	PlayerID        string           `gorm:"index" json:"player_id"`
	EncryptedAmount string           `json:"-"`
	Amount          *decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount,omitempty"`
	Status          string           `gorm:"index" json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Tiebreaker is a secondary bidding contest among the teams tied for one
// player's top bid. The tied set never grows and the floor never decreases
// across attempts, which bounds the recursion.
type Tiebreaker struct {
	gorm.Model    `json:"-"`
	TiebreakerID  string          `gorm:"uniqueIndex" json:"tiebreaker_id"`
	RoundID       string          `gorm:"index" json:"round_id"`
	PlayerID      string          `json:"player_id"`
	TiedTeams     string          `json:"tied_teams"` // JSON array of team IDs
	FloorAmount   decimal.Decimal `gorm:"type:decimal(12,2)" json:"floor_amount"`
	Attempt       int             `json:"attempt"`
	Status        string          `gorm:"index" json:"status"`
	WinnerTeamID  string          `json:"winner_team_id,omitempty"`
	WinningAmount *decimal.Decimal `gorm:"type:decimal(12,2)" json:"winning_amount,omitempty"`
	EndTime       time.Time       `json:"end_time"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TiebreakerBid is an encrypted rebid inside a tiebreaker window. One per
// (tiebreaker, team, attempt).
type TiebreakerBid struct {
	gorm.Model      `json:"-"`
	TiebreakerID    string    `gorm:"index" json:"tiebreaker_id"`
	TeamID          string    `json:"team_id"`
	Attempt         int       `json:"attempt"`
	EncryptedAmount string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// PendingAllocation is a staged, not-yet-official finalization result. Staged
// rows survive a failed apply so the admin can correct and retry.
type PendingAllocation struct {
	gorm.Model `json:"-"`
	RoundID    string          `gorm:"index" json:"round_id"`
	TeamID     string          `json:"team_id"`
	PlayerID   string          `json:"player_id"`
	BidID      string          `json:"bid_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Phase      string          `json:"phase"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Allocation is the finalized outcome for one (team, player) pair. Immutable
// after creation; at most one per player per round.
type Allocation struct {
	gorm.Model   `json:"-"`
	AllocationID string          `gorm:"uniqueIndex" json:"allocation_id"`
	RoundID      string          `gorm:"index" json:"round_id"`
	TeamID       string          `gorm:"index" json:"team_id"`
	PlayerID     string          `gorm:"index" json:"player_id"`
	BidID        string          `json:"bid_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Phase        string          `json:"phase"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TeamBudget is one team's balance in one currency pool for one season.
// Mutated exclusively by the allocation applier or audited adjustments.
type TeamBudget struct {
	gorm.Model `json:"-"`
	TeamID     string          `gorm:"index:idx_team_budgets_key,unique" json:"team_id"`
	SeasonID   string          `gorm:"index:idx_team_budgets_key,unique" json:"season_id"`
	Currency   string          `gorm:"index:idx_team_budgets_key,unique" json:"currency"`
	Balance    decimal.Decimal `gorm:"type:decimal(12,2)" json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Transaction is one append-only ledger entry for a budget-affecting event.
// Never updated or deleted.
type Transaction struct {
	gorm.Model    `json:"-"`
	TransactionID string          `gorm:"uniqueIndex" json:"transaction_id"`
	TeamID        string          `gorm:"index" json:"team_id"`
	SeasonID      string          `gorm:"index" json:"season_id"`
	Currency      string          `json:"currency"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(12,2)" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(12,2)" json:"balance_after"`
	Description   string          `json:"description"`
	Reference     string          `gorm:"index" json:"reference"` // allocation or round ID
	CreatedAt     time.Time       `json:"created_at"`
}
