package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/pqlmon/pqlmon/pkg/model"
)

// BuildAlerts produces one alert per result slice. Expiration is anchored on
// the run's clock reading: expirationTime = now + trigger expire duration.
func BuildAlerts(t *model.Trigger, monitor *model.Monitor, slices []model.QueryResponse, executionID string, now time.Time) []*model.Alert {
	alerts := make([]*model.Alert, 0, len(slices))
	for _, slice := range slices {
		alerts = append(alerts, &model.Alert{
			ID:             uuid.NewString(),
			MonitorID:      monitor.ID,
			MonitorName:    monitor.Name,
			MonitorVersion: monitor.Version,
			User:           monitor.User,
			TriggerID:      t.ID,
			TriggerName:    t.Name,
			Query:          monitor.Query,
			QueryResults:   slice,
			TriggeredTime:  model.TimeMillis(now),
			ExpirationTime: model.TimeMillis(now.Add(t.Expire())),
			Severity:       t.Severity,
			ExecutionID:    executionID,
		})
	}
	return alerts
}

// BuildErrorAlert emits exactly one alert recording a composition, execution,
// or evaluation failure. The message is scrubbed of IP-like substrings before
// it can be persisted.
func BuildErrorAlert(t *model.Trigger, monitor *model.Monitor, runErr error, executionID string, now time.Time) *model.Alert {
	return &model.Alert{
		ID:             uuid.NewString(),
		MonitorID:      monitor.ID,
		MonitorName:    monitor.Name,
		MonitorVersion: monitor.Version,
		User:           monitor.User,
		TriggerID:      t.ID,
		TriggerName:    t.Name,
		Query:          monitor.Query,
		QueryResults:   model.QueryResponse{},
		TriggeredTime:  model.TimeMillis(now),
		ExpirationTime: model.TimeMillis(now.Add(t.Expire())),
		Severity:       model.SeverityError,
		ErrorMessage:   model.ObfuscateIPAddresses(runErr.Error()),
		ExecutionID:    executionID,
	}
}
