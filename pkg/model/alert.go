package model

import (
	"strconv"
	"time"
)

// TimeMillis marshals as epoch milliseconds, the wire format existing callers
// expect for alert and trigger timestamps.
type TimeMillis time.Time

func NewTimeMillis(t time.Time) *TimeMillis {
	tm := TimeMillis(t)
	return &tm
}

func (t TimeMillis) Time() time.Time {
	return time.Time(t)
}

func (t TimeMillis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Time(t).UnixMilli(), 10), nil
}

func (t *TimeMillis) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*t = TimeMillis(time.UnixMilli(ms).UTC())
	return nil
}

// SchemaColumn describes one column of a query response.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResponse is the shape returned by the PQL executor: a schema, the
// matching rows, and the executor's total/size accounting.
type QueryResponse struct {
	Schema   []SchemaColumn  `json:"schema"`
	Datarows [][]interface{} `json:"datarows"`
	Total    int64           `json:"total"`
	Size     int64           `json:"size"`
}

// Column returns the index of the named column, or -1.
func (r *QueryResponse) Column(name string) int {
	for i, c := range r.Schema {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Alert is immutable once written. It references its monitor and trigger by id
// only; the sweeper recognizes work by resolving those references against the
// current monitor documents.
type Alert struct {
	ID string `json:"id"`

	MonitorID      string `json:"monitor_id"`
	MonitorName    string `json:"monitor_name"`
	MonitorVersion int64  `json:"monitor_version"`
	User           User   `json:"monitor_user"`

	TriggerID   string `json:"trigger_id"`
	TriggerName string `json:"trigger_name"`

	// Query is the original, unrewritten monitor query.
	Query        string        `json:"query"`
	QueryResults QueryResponse `json:"query_results"`

	TriggeredTime  TimeMillis `json:"triggered_time"`
	ExpirationTime TimeMillis `json:"expiration_time"`

	Severity     Severity `json:"severity"`
	ErrorMessage string   `json:"error_message,omitempty"`

	ExecutionID string `json:"execution_id"`
}

// Expired reports whether the alert has outlived its trigger's expire
// duration at the given instant.
func (a *Alert) Expired(now time.Time, expire time.Duration) bool {
	return now.Sub(a.TriggeredTime.Time()) >= expire
}
