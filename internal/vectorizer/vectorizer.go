// Package vectorizer defines the embedding capability used by the
// enrichment stage.
package vectorizer

import (
	"context"
	"errors"
	"fmt"
)

// Vectorizer turns text into a fixed-length float vector.
type Vectorizer interface {
	// Embed returns the embedding for text. The returned vector always has
	// the provider's fixed dimensionality.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions reports the provider's fixed vector length.
	Dimensions() int
}

// ErrRateLimited signals the provider is throttling; the caller should back
// off and retry.
var ErrRateLimited = errors.New("vectorizer: rate limited")

// InvalidInputError signals the input was rejected; retrying is pointless.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("vectorizer: invalid input: %s", e.Reason)
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var invalid *InvalidInputError
	return !errors.As(err, &invalid)
}
