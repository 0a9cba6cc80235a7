package resolver

import (
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shamsear/ssleague-api/internal/apperrors"
	"github.com/shamsear/ssleague-api/internal/crypto"
	"github.com/shamsear/ssleague-api/internal/types"
)

// DecryptedBid is one sealed bid after decryption, ready for ranking.
type DecryptedBid struct {
	BidID    string
	TeamID   string
	PlayerID string
	Amount   decimal.Decimal
}

// Winner is one player's uniquely highest bid.
type Winner struct {
	BidID    string
	TeamID   string
	PlayerID string
	Amount   decimal.Decimal
}

// Tie reports two or more teams sharing the strict maximum amount for one
// player. The resolver never picks among them; the tiebreaker sub-round does.
type Tie struct {
	PlayerID string
	TeamIDs  []string
	Amount   decimal.Decimal
}

// Anomaly is a bid excluded from resolution, surfaced for logging rather
// than silently dropped.
type Anomaly struct {
	BidID    string
	PlayerID string
	Reason   string
}

// Result is the outcome of resolving one round's bids.
type Result struct {
	Winners   []Winner
	Ties      []Tie
	Unsold    []string
	Anomalies []Anomaly
}

// ResolveBids ranks decrypted bids per player and selects the highest, or a
// tie group when the maximum is shared. Deterministic for a given bid set:
// ordering depends on amount, then team id, never storage order.
func ResolveBids(bids []DecryptedBid) *Result {
	byPlayer := make(map[string][]DecryptedBid)
	playerOrder := make([]string, 0)
	for _, b := range bids {
		if _, seen := byPlayer[b.PlayerID]; !seen {
			playerOrder = append(playerOrder, b.PlayerID)
		}
		byPlayer[b.PlayerID] = append(byPlayer[b.PlayerID], b)
	}
	sort.Strings(playerOrder)

	result := &Result{}
	for _, playerID := range playerOrder {
		contenders := byPlayer[playerID]
		sort.Slice(contenders, func(i, j int) bool {
			if !contenders[i].Amount.Equal(contenders[j].Amount) {
				return contenders[i].Amount.GreaterThan(contenders[j].Amount)
			}
			return contenders[i].TeamID < contenders[j].TeamID
		})

		top := contenders[0]
		tied := []DecryptedBid{top}
		for _, c := range contenders[1:] {
			if c.Amount.Equal(top.Amount) {
				tied = append(tied, c)
			} else {
				break
			}
		}

		if len(tied) == 1 {
			result.Winners = append(result.Winners, Winner{
				BidID:    top.BidID,
				TeamID:   top.TeamID,
				PlayerID: playerID,
				Amount:   top.Amount,
			})
			continue
		}

		teamIDs := make([]string, 0, len(tied))
		for _, tb := range tied {
			teamIDs = append(teamIDs, tb.TeamID)
		}
		result.Ties = append(result.Ties, Tie{
			PlayerID: playerID,
			TeamIDs:  teamIDs,
			Amount:   top.Amount,
		})
	}

	return result
}

// Service resolves a whole round: it reads the now-immutable bid set,
// decrypts it, and runs ResolveBids. A decryption failure excludes that bid
// and is surfaced as an anomaly; it never aborts the round.
type Service struct {
	db     *gorm.DB
	cipher *crypto.Service
}

func NewService(db *gorm.DB, cipher *crypto.Service) *Service {
	return &Service{db: db, cipher: cipher}
}

// ResolveRound resolves every player in the round. Players with no
// resolvable bids are reported unsold.
func (s *Service) ResolveRound(roundID string) (*Result, error) {
	logger := log.With().
		Str("round_id", roundID).
		Str("service", "resolver").
		Logger()

	var bids []types.Bid
	err := s.db.Where("round_id = ? AND status = ?", roundID, types.BidStatusActive).
		Order("bid_id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}

	decrypted := make([]DecryptedBid, 0, len(bids))
	anomalies := make([]Anomaly, 0)
	for _, b := range bids {
		amount, err := s.cipher.DecryptAmount(b.EncryptedAmount)
		if err != nil {
			decErr := &apperrors.DecryptionError{BidID: b.BidID, Err: err}
			logger.Warn().Err(decErr).Str("bid_id", b.BidID).Msg("bid excluded from resolution")
			anomalies = append(anomalies, Anomaly{
				BidID:    b.BidID,
				PlayerID: b.PlayerID,
				Reason:   "decryption_failed",
			})
			continue
		}
		decrypted = append(decrypted, DecryptedBid{
			BidID:    b.BidID,
			TeamID:   b.TeamID,
			PlayerID: b.PlayerID,
			Amount:   amount,
		})
	}

	result := ResolveBids(decrypted)
	result.Anomalies = append(result.Anomalies, anomalies...)

	// Round players nobody (resolvably) bid on stay unsold.
	contested := make(map[string]bool, len(decrypted))
	for _, d := range decrypted {
		contested[d.PlayerID] = true
	}
	var roundPlayerIDs []string
	err = s.db.Model(&types.RoundPlayer{}).
		Where("round_id = ?", roundID).
		Order("player_id ASC").
		Pluck("player_id", &roundPlayerIDs).Error
	if err != nil {
		return nil, err
	}
	for _, playerID := range roundPlayerIDs {
		if !contested[playerID] {
			result.Unsold = append(result.Unsold, playerID)
		}
	}

	logger.Info().
		Int("winners", len(result.Winners)).
		Int("ties", len(result.Ties)).
		Int("unsold", len(result.Unsold)).
		Int("anomalies", len(result.Anomalies)).
		Msg("round resolved")

	return result, nil
}
