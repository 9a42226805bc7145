package peer

import (
	"errors"
	"fmt"
)

var (
	ErrErrorThreshold = errors.New("peer: transport error threshold exceeded")
	errIdle           = fmt.Errorf("peer: idle timeout: %w", ErrStopped)
)

func errThreshold(n int) error {
	return fmt.Errorf("%w: %d consecutive errors", ErrErrorThreshold, n)
}
