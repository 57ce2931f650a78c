package selection

import (
	"time"

	"github.com/robfig/cron/v3"

	appLog "campuscal/internal/log"
)

// StartJanitor schedules a periodic sweep of idle sessions. The returned
// cron is already started; stop it on shutdown.
func StartJanitor(store *Store, schedule string, ttl time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := store.Sweep(ttl); n > 0 {
			appLog.Info("idle selection sessions evicted", "count", n, "ttl", ttl.String())
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("selection janitor started", "schedule", schedule, "ttl", ttl.String())
	return c, nil
}
