package alertstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pqlmon/pqlmon/pkg/model"
)

func testConfig() *Config {
	cfg := &Config{}
	cfg.RegisterFlagsAndApplyDefaults(nil)
	cfg.Backoff = backoff.Config{
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		MaxRetries: 3,
	}
	return cfg
}

func testAlert(id string) *model.Alert {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.Alert{
		ID:             id,
		MonitorID:      "m1",
		MonitorName:    "error rate",
		TriggerID:      "t1",
		TriggeredTime:  model.TimeMillis(now),
		ExpirationTime: model.TimeMillis(now.Add(time.Hour)),
		Severity:       model.SeverityWarn,
		ExecutionID:    "exec-1",
	}
}

func storeMonitor() *model.Monitor {
	throttle := 10
	return &model.Monitor{
		ID:      "m1",
		Name:    "error rate",
		Type:    model.MonitorTypePQL,
		Enabled: true,
		Query:   "source = logs",
		Triggers: []*model.Trigger{{
			ID:               "t1",
			Name:             "count",
			Severity:         model.SeverityWarn,
			Mode:             model.ModeResultSet,
			ConditionType:    model.ConditionNumberOfResults,
			Comparator:       model.CompareGreater,
			ExpireDuration:   60,
			ThrottleDuration: &throttle,
		}},
	}
}

func newTestStore(active *InMemoryAlerts, monitors *InMemoryMonitors) *Store {
	return NewStore(testConfig(), active, NewInMemoryHistory(), monitors, log.NewNopLogger())
}

func TestSaveAlerts(t *testing.T) {
	active := NewInMemoryAlerts()
	s := newTestStore(active, NewInMemoryMonitors())

	alerts := []*model.Alert{testAlert("a1"), testAlert("")}
	require.NoError(t, s.SaveAlerts(context.Background(), alerts, storeMonitor()))

	// preset id honored, empty id assigned
	_, _, ok := active.Get("a1")
	assert.True(t, ok)
	assert.NotEmpty(t, alerts[1].ID)
	assert.Equal(t, 2, active.Len())
}

func TestSaveAlertsRetries429(t *testing.T) {
	active := NewInMemoryAlerts()
	s := newTestStore(active, NewInMemoryMonitors())

	// second item rejected once, then accepted on retry
	active.FailNext = []int{0, 429}
	require.NoError(t, s.SaveAlerts(context.Background(), []*model.Alert{testAlert("a1"), testAlert("a2")}, storeMonitor()))
	assert.Equal(t, 2, active.Len())
}

func TestSaveAlertsNon429IsFatal(t *testing.T) {
	active := NewInMemoryAlerts()
	s := newTestStore(active, NewInMemoryMonitors())

	active.FailNext = []int{0, 500}
	err := s.SaveAlerts(context.Background(), []*model.Alert{testAlert("a1"), testAlert("a2")}, storeMonitor())
	require.Error(t, err)
	var fatal *model.FatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestSaveAlertsEmpty(t *testing.T) {
	s := newTestStore(NewInMemoryAlerts(), NewInMemoryMonitors())
	require.NoError(t, s.SaveAlerts(context.Background(), nil, storeMonitor()))
}

func TestUpdateMonitorLastFiredTimesPreservesIDs(t *testing.T) {
	monitor := storeMonitor()
	monitor.Triggers[0].Actions = []model.Action{{ID: "act1", Name: "notify"}}
	monitors := NewInMemoryMonitors(monitor)
	s := newTestStore(NewInMemoryAlerts(), monitors)

	fired := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	monitor.Triggers[0].LastFiredTime = model.NewTimeMillis(fired)
	require.NoError(t, s.UpdateMonitorLastFiredTimes(context.Background(), monitor))

	stored, err := monitors.Get(context.Background(), "m1")
	require.NoError(t, err)
	trigger := stored.TriggerByID("t1")
	require.NotNil(t, trigger, "trigger id must survive the update")
	assert.Equal(t, "act1", trigger.Actions[0].ID, "action id must survive the update")
	require.NotNil(t, trigger.LastFiredTime)
	assert.True(t, trigger.LastFiredTime.Time().Equal(fired))
}

func TestEnsureAlertCollections(t *testing.T) {
	active := NewInMemoryAlerts()
	history := NewInMemoryHistory()
	s := NewStore(testConfig(), active, history, NewInMemoryMonitors(), log.NewNopLogger())

	require.NoError(t, s.EnsureAlertCollections(context.Background()))
	ok, err := active.Initialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = history.Initialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// idempotent
	require.NoError(t, s.EnsureAlertCollections(context.Background()))
}

func TestRoutingShard(t *testing.T) {
	assert.Equal(t, RoutingShard("m1", 4), RoutingShard("m1", 4))
	assert.Less(t, RoutingShard("m1", 4), uint32(4))
	assert.Zero(t, RoutingShard("m1", 0))
}
