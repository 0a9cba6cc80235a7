package migrations

import (
	"gorm.io/gorm"
)

// AddAuctionIndexes creates the composite indexes the finalization paths lean
// on. Raw SQL for control over index shape.
func AddAuctionIndexes(db *gorm.DB) error {
	indexes := []string{
		// The periodic sweep scans for expired active rounds
		`CREATE INDEX IF NOT EXISTS idx_rounds_status_end_time
		 ON rounds(status, end_time)`,

		// At most one active round per season; concurrent activations
		// race to this index rather than to a read-then-write check
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_season_active
		 ON rounds(season_id)
		 WHERE status = 'ACTIVE'`,

		// One active bid per (team, round, player); resolver groups by player
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_team_round_player_active
		 ON bids(team_id, round_id, player_id)
		 WHERE status = 'ACTIVE'`,

		`CREATE INDEX IF NOT EXISTS idx_bids_round_status
		 ON bids(round_id, status)`,

		// At most one allocation per player per round
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_round_player
		 ON allocations(round_id, player_id)`,

		// Same shape for staged rows; restaging a player replaces the row
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_allocations_round_player
		 ON pending_allocations(round_id, player_id)`,

		// Tiebreaker due-window scan
		`CREATE INDEX IF NOT EXISTS idx_tiebreakers_status_end_time
		 ON tiebreakers(status, end_time)`,

		// Ledger reconciliation by reference
		`CREATE INDEX IF NOT EXISTS idx_transactions_reference_type
		 ON transactions(reference, type)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
