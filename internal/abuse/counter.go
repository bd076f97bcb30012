package abuse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/folio/internal/cache"
)

// counter is the stored form of a rate window.
type counter struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
}

func (c counter) expiresAt(window time.Duration) time.Time {
	return time.Unix(0, c.WindowStart).Add(window)
}

// loadCounter returns the live counter at key. A missing, unreadable or
// expired entry yields a zero count starting at now.
func loadCounter(ctx context.Context, store cache.Store, key string, window time.Duration, now time.Time) (counter, error) {
	fresh := counter{WindowStart: now.UnixNano()}

	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fresh, err
	}
	if !ok {
		return fresh, nil
	}
	var stored counter
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fresh, nil
	}
	if !now.Before(stored.expiresAt(window)) {
		return fresh, nil
	}
	return stored, nil
}

// saveCounter writes c with the remaining lifetime of its window, so an
// increment never extends the original expiry.
func saveCounter(ctx context.Context, store cache.Store, key string, c counter, window time.Duration, now time.Time) error {
	encoded, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, encoded, c.expiresAt(window).Sub(now))
}
