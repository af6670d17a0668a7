package model

import (
	"time"

	"github.com/pkg/errors"
)

// MonitorType tags the monitor variant. Runners are selected by this tag; the
// v1 search-input variant is a sibling type, not a subtype of the PQL monitor.
type MonitorType string

const (
	MonitorTypePQL MonitorType = "pql"
)

const (
	MinTriggers = 1
	MaxTriggers = 10
)

// Severity of a trigger and of the alerts it generates.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// TriggerMode controls whether a fired trigger yields one alert for the whole
// result set or one alert per matching row.
type TriggerMode string

const (
	ModeResultSet TriggerMode = "RESULT_SET"
	ModePerResult TriggerMode = "PER_RESULT"
)

func (m TriggerMode) Valid() bool {
	return m == ModeResultSet || m == ModePerResult
}

type ConditionType string

const (
	ConditionNumberOfResults ConditionType = "NUMBER_OF_RESULTS"
	ConditionCustom          ConditionType = "CUSTOM"
)

// Comparator is the operator applied to the result total for
// NUMBER_OF_RESULTS triggers.
type Comparator string

const (
	CompareGreater      Comparator = ">"
	CompareGreaterEqual Comparator = ">="
	CompareLess         Comparator = "<"
	CompareLessEqual    Comparator = "<="
	CompareEqual        Comparator = "=="
	CompareNotEqual     Comparator = "!="
)

func (c Comparator) Compare(total, value int64) bool {
	switch c {
	case CompareGreater:
		return total > value
	case CompareGreaterEqual:
		return total >= value
	case CompareLess:
		return total < value
	case CompareLessEqual:
		return total <= value
	case CompareEqual:
		return total == value
	case CompareNotEqual:
		return total != value
	}
	return false
}

func (c Comparator) Valid() bool {
	switch c {
	case CompareGreater, CompareGreaterEqual, CompareLess, CompareLessEqual, CompareEqual, CompareNotEqual:
		return true
	}
	return false
}

// User is the owner snapshot captured on a monitor at create/update time. All
// privileged calls made on behalf of the monitor run under this identity, not
// the identity of whoever happens to invoke the run.
type User struct {
	Name         string   `json:"name" yaml:"name"`
	BackendRoles []string `json:"backend_roles" yaml:"backend_roles"`
	Roles        []string `json:"roles" yaml:"roles"`
}

type ScheduleUnit string

const (
	UnitMinutes ScheduleUnit = "MINUTES"
)

type Schedule struct {
	Interval int          `json:"interval" yaml:"interval"`
	Unit     ScheduleUnit `json:"unit" yaml:"unit"`
}

// Action describes a notification to dispatch when its trigger fires.
// Template expansion and the channel transport are external collaborators.
type Action struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DestinationID   string `json:"destination_id"`
	SubjectTemplate string `json:"subject_template"`
	MessageTemplate string `json:"message_template"`
}

// Trigger inspects one query response and decides whether to alert.
type Trigger struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Severity      Severity      `json:"severity"`
	Mode          TriggerMode   `json:"mode"`
	ConditionType ConditionType `json:"condition_type"`

	// NUMBER_OF_RESULTS condition.
	Comparator Comparator `json:"comparator,omitempty"`
	Value      int64      `json:"value,omitempty"`

	// CUSTOM condition: a PQL fragment producing an `eval <name> = <expr>`
	// boolean column.
	CustomCondition string `json:"custom_condition,omitempty"`

	// Minutes. ThrottleDuration is optional, ExpireDuration is required.
	ThrottleDuration *int `json:"throttle_duration,omitempty"`
	ExpireDuration   int  `json:"expire_duration"`

	Actions []Action `json:"actions,omitempty"`

	// LastFiredTime is the only mutable field on a trigger; the runner updates
	// it after a firing and the store persists it without touching ids.
	LastFiredTime *TimeMillis `json:"last_fired_time,omitempty"`
}

func (t *Trigger) Validate() error {
	if t.Name == "" {
		return NewValidationError("trigger name is required")
	}
	if !t.Severity.Valid() {
		return NewValidationErrorf("trigger %q: invalid severity %q", t.Name, t.Severity)
	}
	if !t.Mode.Valid() {
		return NewValidationErrorf("trigger %q: invalid mode %q", t.Name, t.Mode)
	}
	switch t.ConditionType {
	case ConditionNumberOfResults:
		if !t.Comparator.Valid() {
			return NewValidationErrorf("trigger %q: invalid comparator %q", t.Name, t.Comparator)
		}
		if t.Value < 0 {
			return NewValidationErrorf("trigger %q: value must be >= 0", t.Name)
		}
	case ConditionCustom:
		if t.CustomCondition == "" {
			return NewValidationErrorf("trigger %q: custom condition fragment is required", t.Name)
		}
	default:
		return NewValidationErrorf("trigger %q: invalid condition type %q", t.Name, t.ConditionType)
	}
	if t.ThrottleDuration != nil && *t.ThrottleDuration < 1 {
		return NewValidationErrorf("trigger %q: throttle duration must be at least 1 minute", t.Name)
	}
	if t.ExpireDuration < 1 {
		return NewValidationErrorf("trigger %q: expire duration must be at least 1 minute", t.Name)
	}
	return nil
}

// Throttle returns the throttle window as a duration, or false when the
// trigger carries none.
func (t *Trigger) Throttle() (time.Duration, bool) {
	if t.ThrottleDuration == nil {
		return 0, false
	}
	return time.Duration(*t.ThrottleDuration) * time.Minute, true
}

func (t *Trigger) Expire() time.Duration {
	return time.Duration(t.ExpireDuration) * time.Minute
}

// Monitor is a scheduled PQL query plus the triggers evaluated against its
// results. Rewritten only through the create/update path or, internally, by
// the runner to persist trigger lastFiredTimes.
type Monitor struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Name    string `json:"name"`

	Type MonitorType `json:"monitor_type"`

	Enabled     bool        `json:"enabled"`
	EnabledTime *TimeMillis `json:"enabled_time,omitempty"`

	User User `json:"user"`

	Schedule Schedule `json:"schedule"`

	// LookBackWindow constrains the query to the trailing window, in whole
	// minutes. When set, TimestampField names the column to filter on.
	LookBackWindow *int   `json:"look_back_window,omitempty"`
	TimestampField string `json:"timestamp_field"`

	QueryLanguage string `json:"query_language"`
	Query         string `json:"query"`

	Triggers []*Trigger `json:"triggers"`
}

func (m *Monitor) Validate() error {
	if m.Name == "" {
		return NewValidationError("monitor name is required")
	}
	if m.Type != MonitorTypePQL {
		return NewValidationErrorf("monitor %q: unknown monitor type %q", m.Name, m.Type)
	}
	if m.Enabled != (m.EnabledTime != nil) {
		return NewValidationErrorf("monitor %q: enabled time must be set iff the monitor is enabled", m.Name)
	}
	if m.Query == "" {
		return NewValidationErrorf("monitor %q: query is required", m.Name)
	}
	if m.LookBackWindow != nil {
		if *m.LookBackWindow < 1 {
			return NewValidationErrorf("monitor %q: look back window must be at least 1 minute", m.Name)
		}
		if m.TimestampField == "" {
			return NewValidationErrorf("monitor %q: timestamp field is required when a look back window is set", m.Name)
		}
	}
	if len(m.Triggers) < MinTriggers || len(m.Triggers) > MaxTriggers {
		return NewValidationErrorf("monitor %q: trigger count must be between %d and %d", m.Name, MinTriggers, MaxTriggers)
	}
	for _, t := range m.Triggers {
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "monitor %q", m.Name)
		}
	}
	return nil
}

// TriggerByID returns the trigger with the given id, or nil. The sweeper
// treats a nil return as a dangling reference.
func (m *Monitor) TriggerByID(id string) *Trigger {
	for _, t := range m.Triggers {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *Monitor) Lookback() (time.Duration, bool) {
	if m.LookBackWindow == nil {
		return 0, false
	}
	return time.Duration(*m.LookBackWindow) * time.Minute, true
}
