package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPersistenceConflict signals that a concurrent writer won the round-status
// transition. Callers treat it as success-by-idempotence after confirming the
// round is indeed completed.
var ErrPersistenceConflict = errors.New("round status changed by a concurrent writer")

// ErrIDGenerationExhausted is returned when the identifier generator runs out
// of collision-retry attempts.
var ErrIDGenerationExhausted = errors.New("identifier generation attempts exhausted")

// ConflictError covers duplicate resources: a second active round in a season,
// a duplicate bid amount, a bid re-submitted on a held player. Never retried.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func Conflictf(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError covers malformed input: missing fields, out-of-range
// amounts, wrong round status for the requested operation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Shortfall reports one team whose current budget cannot cover its staged
// allocations.
type Shortfall struct {
	TeamID    string          `json:"team_id"`
	Currency  string          `json:"currency"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// BudgetInsufficientError aborts an entire allocation batch. It carries every
// violating team so the operator can diagnose all of them at once.
type BudgetInsufficientError struct {
	RoundID    string      `json:"round_id"`
	Shortfalls []Shortfall `json:"shortfalls"`
}

func (e *BudgetInsufficientError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("Team %s has insufficient funds. Required: %s, Available: %s",
			s.TeamID, s.Required.String(), s.Available.String()))
	}
	return strings.Join(parts, "; ")
}

// DecryptionError marks a single bid whose payload could not be decrypted.
// The bid is excluded from resolution; the round is never aborted for it.
type DecryptionError struct {
	BidID string
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt bid %s: %v", e.BidID, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// DownstreamError wraps broadcast or audit-sink failures. Always non-fatal:
// logged, never propagated as a finalization failure.
type DownstreamError struct {
	Channel string
	Err     error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s failure: %v", e.Channel, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}
