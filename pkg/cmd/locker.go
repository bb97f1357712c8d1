package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dripflow/dripflow/pkg/lock"
)

// NewLocker picks the lead locker from the URL. redis:// selects the shared
// Redis locker; an empty URL yields the in-process locker, which is only safe
// when a single worker owns all leads.
func NewLocker(ctx context.Context, logger *slog.Logger, lockURL string) (lock.Locker, error) {
	if lockURL == "" {
		return lock.NewMemoryLocker(), nil
	}

	if strings.HasPrefix(lockURL, "redis://") || strings.HasPrefix(lockURL, "rediss://") {
		locker, err := lock.NewRedisLocker(ctx, lockURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis locker: %w", err)
		}

		return locker, nil
	}

	return nil, fmt.Errorf("unsupported lock provider URL: %s", lockURL)
}
