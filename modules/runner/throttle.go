package runner

import (
	"time"

	"github.com/pqlmon/pqlmon/pkg/model"
)

// IsThrottled reports whether a trigger firing is suppressed by its cooldown.
// Manual executions are never throttled. Throttled triggers skip query
// execution entirely, shedding load on hot triggers.
func IsThrottled(t *model.Trigger, now time.Time, manual bool) bool {
	if manual {
		return false
	}
	throttle, ok := t.Throttle()
	if !ok || t.LastFiredTime == nil {
		return false
	}
	return t.LastFiredTime.Time().After(now.Add(-throttle))
}
