package runner

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pqlmon/pqlmon/pkg/model"
)

func testMonitor() *model.Monitor {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.Monitor{
		ID:          "m1",
		Version:     2,
		Name:        "error rate",
		Type:        model.MonitorTypePQL,
		Enabled:     true,
		EnabledTime: model.NewTimeMillis(now),
		User:        model.User{Name: "admin", BackendRoles: []string{"ops"}},
		Schedule:    model.Schedule{Interval: 1, Unit: model.UnitMinutes},
		Query:       "source = logs | head 3",
		Triggers:    []*model.Trigger{numberTrigger(model.CompareGreater, 0)},
	}
}

func TestBuildAlerts(t *testing.T) {
	monitor := testMonitor()
	trigger := monitor.Triggers[0]
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	slices := []model.QueryResponse{*threeRowResponse(), *threeRowResponse()}
	alerts := BuildAlerts(trigger, monitor, slices, "exec-1", now)
	require.Len(t, alerts, 2)

	for _, a := range alerts {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, "m1", a.MonitorID)
		assert.Equal(t, int64(2), a.MonitorVersion)
		assert.Equal(t, monitor.User, a.User)
		assert.Equal(t, trigger.ID, a.TriggerID)
		assert.Equal(t, monitor.Query, a.Query)
		assert.Equal(t, trigger.Severity, a.Severity)
		assert.Equal(t, "exec-1", a.ExecutionID)
		assert.True(t, a.TriggeredTime.Time().Equal(now))
		// expirationTime = triggeredTime + expireDuration
		assert.True(t, a.ExpirationTime.Time().Equal(now.Add(time.Hour)))
		assert.Empty(t, a.ErrorMessage)
	}
	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
}

func TestBuildErrorAlert(t *testing.T) {
	monitor := testMonitor()
	trigger := monitor.Triggers[0]
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := BuildErrorAlert(trigger, monitor, errors.New("cannot reach 10.0.1.17:9200"), "exec-1", now)

	assert.Equal(t, model.SeverityError, a.Severity)
	assert.Empty(t, a.QueryResults.Datarows)
	assert.Equal(t, "cannot reach x.x.x.x:9200", a.ErrorMessage)
	assert.True(t, a.ExpirationTime.Time().After(a.TriggeredTime.Time()))
}
