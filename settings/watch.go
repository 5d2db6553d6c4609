package settings

import (
	"context"
	"time"
)

// OnChange blocks until ctx is done, polling the store version. When the
// version moves and stays put for the debounce window, fn receives the
// fresh settings. A failed read is retried on the next poll.
func (s *Store) OnChange(ctx context.Context, fn func(Settings)) {
	log := s.log
	seen, err := s.Version(ctx)
	if err != nil {
		log.Warn("settings: initial version check failed", "error", err)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	fire := func(v int64) {
		cur, err := s.Read(ctx)
		if err != nil {
			log.Warn("settings: reload failed", "version", v, "error", err)
			return
		}
		seen = v
		log.Info("settings: reloaded", "version", v)
		fn(cur)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			v, err := s.Version(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("settings: version check failed", "error", err)
				}
				continue
			}
			if v == seen || v == pending {
				continue
			}
			pending = v
			if s.opts.Debounce <= 0 {
				fire(v)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(s.opts.Debounce)
			debounceC = debounce.C
			log.Debug("settings: change detected, debouncing", "version", v)

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				fire(pending)
				pending = -1
			}
		}
	}
}
