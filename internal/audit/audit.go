package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Entry is one append-only audit record. Written once per finalization
// attempt, success or failure.
type Entry struct {
	gorm.Model `json:"-"`
	EntryID    string    `gorm:"uniqueIndex" json:"entry_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	Target     string    `gorm:"index" json:"target"`
	Outcome    string    `json:"outcome"` // SUCCESS or FAILURE
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sink appends audit entries. Failures are the caller's to downgrade; the
// core never fails an operation over a missing audit record.
type Sink struct {
	db *gorm.DB
}

func NewSink(db *gorm.DB) *Sink {
	return &Sink{db: db}
}

// Record appends one audit entry.
func (s *Sink) Record(actorID, action, target, outcome, detail string) error {
	entry := &Entry{
		EntryID:   "AUD_" + uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	return s.db.Create(entry).Error
}

// TryRecord logs a failed write instead of surfacing it.
func (s *Sink) TryRecord(actorID, action, target, outcome, detail string) {
	if err := s.Record(actorID, action, target, outcome, detail); err != nil {
		log.Warn().Err(err).
			Str("action", action).
			Str("target", target).
			Msg("failed to write audit entry")
	}
}

// ForTarget returns entries for one target, newest first.
func (s *Sink) ForTarget(target string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.Where("target = ?", target).Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
