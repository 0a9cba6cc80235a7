package identifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shamsear/ssleague-api/internal/apperrors"
)

// ExistsFunc reports whether a candidate id is already taken.
type ExistsFunc func(id string) (bool, error)

const idAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789" // no 0/O, 1/I/L ambiguity

// Generator produces short human-readable unique ids with a bounded
// collision-retry contract. Attempts and backoff are explicit configuration,
// not magic constants.
type Generator struct {
	attempts int
	backoff  time.Duration
	length   int
}

func NewGenerator(attempts int, backoff time.Duration) *Generator {
	if attempts < 1 {
		attempts = 1
	}
	return &Generator{
		attempts: attempts,
		backoff:  backoff,
		length:   6,
	}
}

// Generate returns "<prefix>_<short-id>", retrying on collisions up to the
// configured attempt cap and failing explicitly after exhaustion.
func (g *Generator) Generate(prefix string, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < g.attempts; attempt++ {
		candidate := prefix + "_" + g.short()

		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check id collision: %w", err)
		}
		if !taken {
			return candidate, nil
		}

		if g.backoff > 0 && attempt < g.attempts-1 {
			time.Sleep(g.backoff)
		}
	}
	return "", fmt.Errorf("%w after %d attempts for prefix %s",
		apperrors.ErrIDGenerationExhausted, g.attempts, prefix)
}

func (g *Generator) short() string {
	raw := uuid.New()
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		b.WriteByte(idAlphabet[int(raw[i])%len(idAlphabet)])
	}
	return b.String()
}
