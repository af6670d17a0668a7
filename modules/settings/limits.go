package settings

import (
	"flag"
	"time"
)

// Limits are the hot-reloadable cluster settings consumed by the runner, the
// alert store, and the sweeper. A snapshot is atomically swapped on reload;
// readers always see a consistent set.
type Limits struct {
	HistoryEnabled         bool          `yaml:"alert_v2_history_enabled" json:"alert_v2_history_enabled"`
	HistoryRolloverPeriod  time.Duration `yaml:"alert_v2_history_rollover_period" json:"alert_v2_history_rollover_period"`
	HistoryIndexMaxAge     time.Duration `yaml:"alert_v2_history_index_max_age" json:"alert_v2_history_index_max_age"`
	HistoryMaxDocs         int64         `yaml:"alert_v2_history_max_docs" json:"alert_v2_history_max_docs"`
	HistoryRetentionPeriod time.Duration `yaml:"alert_v2_history_retention_period" json:"alert_v2_history_retention_period"`

	QueryResultsMaxDatarows int64 `yaml:"alert_v2_query_results_max_datarows" json:"alert_v2_query_results_max_datarows"`
	QueryResultsMaxSize     int64 `yaml:"alert_v2_query_results_max_size" json:"alert_v2_query_results_max_size"`

	PerResultTriggerMaxAlerts int `yaml:"alert_v2_per_result_trigger_max_alerts" json:"alert_v2_per_result_trigger_max_alerts"`

	// Consulted by the external CRUD handlers; stored here so the whole
	// settings surface reloads together.
	FilterByBackendRoles bool `yaml:"filter_by_backend_roles" json:"filter_by_backend_roles"`
}

func (l *Limits) RegisterFlagsAndApplyDefaults(_ *flag.FlagSet) {
	l.HistoryEnabled = true
	l.HistoryRolloverPeriod = 12 * time.Hour
	l.HistoryIndexMaxAge = 24 * time.Hour
	l.HistoryMaxDocs = 1000
	l.HistoryRetentionPeriod = 60 * 24 * time.Hour
	l.QueryResultsMaxDatarows = 10000
	l.QueryResultsMaxSize = 1024 * 1024
	l.PerResultTriggerMaxAlerts = 10
	l.FilterByBackendRoles = false
}
