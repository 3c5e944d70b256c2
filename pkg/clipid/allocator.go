// Package clipid generates clip identifiers and coordinates collision-free
// allocation against the clip store.
package clipid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/qopy-app/qopy/pkg/models"
)

// Kind selects the identifier length.
type Kind int

const (
	// Quick is the 4-character human-enterable identifier. Its space is
	// roughly 1.68M, so collisions are expected and must be probed for.
	Quick Kind = iota

	// Enhanced is the 10-character identifier.
	Enhanced
)

// Charset is the identifier alphabet.
const Charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	maxAttempts    = 8
	initialBackoff = 10 * time.Millisecond
)

// Length returns the identifier length for the kind.
func (k Kind) Length() int {
	if k == Quick {
		return models.QuickIDLength
	}
	return models.EnhancedIDLength
}

// KindFor maps the quick-share flag onto an identifier kind.
func KindFor(quickShare bool) Kind {
	if quickShare {
		return Quick
	}
	return Enhanced
}

// ReserveFunc attempts to reserve the candidate identifier, typically by a
// conditional insert into the clips table. It returns models.ErrDuplicateClip
// when the identifier is already taken; any enclosing transaction rollback
// releases the reservation.
type ReserveFunc func(ctx context.Context, clipID string) error

// Generate draws a fresh identifier of the given kind from the charset using
// a cryptographically secure RNG.
func Generate(kind Kind) (string, error) {
	length := kind.Length()
	id := make([]byte, length)
	max := big.NewInt(int64(len(Charset)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("drawing random identifier byte: %w", err)
		}
		id[i] = Charset[n.Int64()]
	}
	return string(id), nil
}

// Allocate draws identifiers and calls reserve until one sticks. On a
// collision it backs off exponentially and retries with a fresh draw, up to
// 8 attempts, then fails with models.ErrClipIDExhausted (surfaced as 503).
// Non-collision reserve errors abort immediately.
func Allocate(ctx context.Context, kind Kind, reserve ReserveFunc) (string, error) {
	backoff := initialBackoff
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := Generate(kind)
		if err != nil {
			return "", err
		}

		err = reserve(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, models.ErrDuplicateClip) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", models.ErrClipIDExhausted
}
