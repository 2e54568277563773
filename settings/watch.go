package settings

import (
	"context"
	"time"
)

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before action fires.
	// Further changes inside the window restart it. 0 fires immediately.
	Debounce time.Duration
}

// Watch blocks until ctx ends, polling the store revision. When it moves
// and the debounce window passes quietly, action runs. A failing action
// leaves the revision unacknowledged so the next poll retries it.
func (s *Store) Watch(ctx context.Context, opts WatchOptions, action func(context.Context) error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	seen, err := s.Revision(ctx)
	if err != nil {
		s.logger.Warn("settings: initial revision check failed", "error", err)
		seen = -1
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	fire := func(rev int64) {
		if err := action(ctx); err != nil {
			s.logger.Warn("settings: change action failed", "revision", rev, "error", err)
			return
		}
		seen = rev
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			cur, err := s.Revision(ctx)
			if err != nil {
				s.logger.Warn("settings: revision check failed", "error", err)
				continue
			}
			if cur == seen || cur == pending {
				continue
			}
			if opts.Debounce <= 0 {
				fire(cur)
				continue
			}
			pending = cur
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(opts.Debounce)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				fire(pending)
				pending = -1
			}
		}
	}
}
