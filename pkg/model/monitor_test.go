package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func validTrigger() *Trigger {
	return &Trigger{
		ID:             "t1",
		Name:           "too many errors",
		Severity:       SeverityWarn,
		Mode:           ModeResultSet,
		ConditionType:  ConditionNumberOfResults,
		Comparator:     CompareGreater,
		Value:          0,
		ExpireDuration: 60,
	}
}

func validMonitor() *Monitor {
	now := time.Now().UTC()
	return &Monitor{
		ID:          "m1",
		Version:     1,
		Name:        "error rate",
		Type:        MonitorTypePQL,
		Enabled:     true,
		EnabledTime: NewTimeMillis(now),
		User:        User{Name: "admin", BackendRoles: []string{"ops"}},
		Schedule:    Schedule{Interval: 1, Unit: UnitMinutes},
		Query:       "source = logs | head 3",
		Triggers:    []*Trigger{validTrigger()},
	}
}

func TestMonitorValidate(t *testing.T) {
	require.NoError(t, validMonitor().Validate())

	tests := []struct {
		name   string
		mutate func(*Monitor)
	}{
		{"missing name", func(m *Monitor) { m.Name = "" }},
		{"unknown type", func(m *Monitor) { m.Type = "search_input" }},
		{"enabled without enabled time", func(m *Monitor) { m.EnabledTime = nil }},
		{"disabled with enabled time", func(m *Monitor) { m.Enabled = false }},
		{"missing query", func(m *Monitor) { m.Query = "" }},
		{"no triggers", func(m *Monitor) { m.Triggers = nil }},
		{"too many triggers", func(m *Monitor) {
			for i := 0; i < MaxTriggers; i++ {
				m.Triggers = append(m.Triggers, validTrigger())
			}
		}},
		{"lookback without timestamp field", func(m *Monitor) { m.LookBackWindow = intPtr(15) }},
		{"zero lookback", func(m *Monitor) {
			m.LookBackWindow = intPtr(0)
			m.TimestampField = "ts"
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := validMonitor()
			tc.mutate(m)
			err := m.Validate()
			require.Error(t, err)
		})
	}
}

func TestTriggerValidate(t *testing.T) {
	require.NoError(t, validTrigger().Validate())

	tests := []struct {
		name   string
		mutate func(*Trigger)
	}{
		{"missing name", func(tr *Trigger) { tr.Name = "" }},
		{"bad severity", func(tr *Trigger) { tr.Severity = "URGENT" }},
		{"bad mode", func(tr *Trigger) { tr.Mode = "ALL" }},
		{"bad comparator", func(tr *Trigger) { tr.Comparator = "~" }},
		{"negative value", func(tr *Trigger) { tr.Value = -1 }},
		{"custom without fragment", func(tr *Trigger) {
			tr.ConditionType = ConditionCustom
			tr.CustomCondition = ""
		}},
		{"bad condition type", func(tr *Trigger) { tr.ConditionType = "ALWAYS" }},
		{"zero throttle", func(tr *Trigger) { tr.ThrottleDuration = intPtr(0) }},
		{"zero expire", func(tr *Trigger) { tr.ExpireDuration = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := validTrigger()
			tc.mutate(tr)
			require.Error(t, tr.Validate())
		})
	}
}

func TestComparatorCompare(t *testing.T) {
	tests := []struct {
		cmp      Comparator
		total    int64
		value    int64
		expected bool
	}{
		{CompareGreater, 3, 0, true},
		{CompareGreater, 0, 0, false},
		{CompareGreaterEqual, 3, 3, true},
		{CompareLess, 2, 3, true},
		{CompareLessEqual, 3, 3, true},
		{CompareEqual, 3, 3, true},
		{CompareEqual, 3, 4, false},
		{CompareNotEqual, 3, 4, true},
		{Comparator("~"), 3, 4, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, tc.cmp.Compare(tc.total, tc.value), "%d %s %d", tc.total, tc.cmp, tc.value)
	}
}

func TestTriggerByID(t *testing.T) {
	m := validMonitor()
	require.NotNil(t, m.TriggerByID("t1"))
	require.Nil(t, m.TriggerByID("missing"))
}

func TestTriggerDurations(t *testing.T) {
	tr := validTrigger()

	_, ok := tr.Throttle()
	assert.False(t, ok)

	tr.ThrottleDuration = intPtr(10)
	d, ok := tr.Throttle()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, d)

	assert.Equal(t, time.Hour, tr.Expire())
}
