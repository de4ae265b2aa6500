package toomanypages

import (
	"errors"
	"fmt"
	"os"
)

// ErrSentinelNotEmpty is returned when the sentinel directory holds entries.
// Discovery would then list them as pages on every request.
var ErrSentinelNotEmpty = errors.New("sentinel directory is not empty")

// EnsureSentinel creates dir if needed and checks that it is empty. The host
// runs it once at startup; the hooks assume the directory exists.
func EnsureSentinel(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sentinel directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read sentinel directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s has %d entries", ErrSentinelNotEmpty, dir, len(entries))
	}

	return nil
}
