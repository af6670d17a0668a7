package runner

import (
	"context"
	"flag"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pqlmon/pqlmon/modules/alertstore"
	"github.com/pqlmon/pqlmon/modules/settings"
	"github.com/pqlmon/pqlmon/pkg/clock"
	"github.com/pqlmon/pqlmon/pkg/model"
	"github.com/pqlmon/pqlmon/pkg/pql"
	"github.com/pqlmon/pqlmon/pkg/principal"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "runner_runs_total",
		Help:      "Total number of monitor runs.",
	}, []string{"status"})
	metricTriggersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "runner_triggers_fired_total",
		Help:      "Total number of trigger firings.",
	})
	metricTriggersThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "runner_triggers_throttled_total",
		Help:      "Total number of trigger evaluations suppressed by throttling.",
	})
	metricTriggerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "runner_trigger_errors_total",
		Help:      "Total number of per-trigger execution or evaluation failures.",
	})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pqlmon",
		Name:      "runner_run_duration_seconds",
		Help:      "Duration of one monitor run.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Executor is the external PQL collaborator. It is authoritative for query
// syntax and semantics.
type Executor interface {
	Execute(ctx context.Context, query string) (*model.QueryResponse, error)
}

// Notifier dispatches a rendered notification. At-least-once.
type Notifier interface {
	Send(ctx context.Context, actionID, subject, body, destinationID string) error
}

// TemplateRenderer expands an action's subject and message templates against
// a trigger execution context. Template syntax is the collaborator's concern.
type TemplateRenderer interface {
	Render(template string, tec *TriggerExecutionContext) (string, error)
}

// TriggerExecutionContext is the data handed to template expansion for one
// fired slice.
type TriggerExecutionContext struct {
	Monitor *model.Monitor
	Trigger *model.Trigger
	Error   error
	Results *model.QueryResponse
}

// TriggerRunResult records one trigger's outcome inside a run.
type TriggerRunResult struct {
	TriggerID   string   `json:"trigger_id"`
	TriggerName string   `json:"trigger_name"`
	Fired       bool     `json:"fired"`
	Throttled   bool     `json:"throttled"`
	Error       error    `json:"error,omitempty"`
	AlertIDs    []string `json:"alert_ids,omitempty"`
}

// RunResult is returned to the caller that scheduled the run. Responses hold
// the raw executor responses per trigger, uncapped; size limits for the API
// surface are the HTTP layer's concern.
type RunResult struct {
	MonitorName    string                          `json:"monitor_name"`
	Error          error                           `json:"error,omitempty"`
	TriggerResults map[string]*TriggerRunResult    `json:"trigger_results"`
	Responses      map[string]*model.QueryResponse `json:"responses"`
}

// Error fields marshal as their messages; most error types would otherwise
// render as {}.
func (tr *TriggerRunResult) MarshalJSON() ([]byte, error) {
	type alias TriggerRunResult
	return json.Marshal(&struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(tr), Error: errMessage(tr.Error)})
}

func (r *RunResult) MarshalJSON() ([]byte, error) {
	type alias RunResult
	return json.Marshal(&struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(r), Error: errMessage(r.Error)})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newRunResult(name string) *RunResult {
	return &RunResult{
		MonitorName:    name,
		TriggerResults: map[string]*TriggerRunResult{},
		Responses:      map[string]*model.QueryResponse{},
	}
}

type Config struct {
	Pool PoolConfig `yaml:"pool"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	cfg.Pool.RegisterFlagsAndApplyDefaults(f)
}

// Runner executes one monitor invocation end to end: throttle check, query
// composition, execution under the monitor's principal, evaluation, alert
// materialization, notification dispatch, and persistence.
type Runner struct {
	store    *alertstore.Store
	executor Executor
	notifier Notifier
	renderer TemplateRenderer
	limits   settings.Interface
	clock    clock.Clock
	logger   log.Logger
}

func New(store *alertstore.Store, executor Executor, notifier Notifier, renderer TemplateRenderer, limits settings.Interface, clk clock.Clock, logger log.Logger) *Runner {
	return &Runner{
		store:    store,
		executor: executor,
		notifier: notifier,
		renderer: renderer,
		limits:   limits,
		clock:    clk,
		logger:   log.With(logger, "component", "runner"),
	}
}

// Run executes the monitor for one schedule period. A single trigger's
// query or evaluation failure is recorded and never aborts the run; the
// remaining triggers still execute. A non-retryable alert persistence
// failure is fatal: it aborts the run and surfaces on the result.
// lastFiredTimes are persisted exactly once, at the end, iff at least one
// trigger fired.
func (r *Runner) Run(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, manual, dryRun bool, executionID string) *RunResult {
	start := time.Now()
	defer func() { metricRunDuration.Observe(time.Since(start).Seconds()) }()

	result := newRunResult(monitor.Name)

	if monitor.ID == "" {
		result.Error = model.NewValidationError("monitor id is not set")
		metricRuns.WithLabelValues("failed").Inc()
		return result
	}
	if monitor.Type != model.MonitorTypePQL {
		result.Error = model.NewValidationErrorf("monitor %q is not a PQL monitor", monitor.ID)
		metricRuns.WithLabelValues("failed").Inc()
		return result
	}

	if err := r.store.EnsureAlertCollections(ctx); err != nil {
		level.Error(r.logger).Log("msg", "failed to ensure alert collections", "monitor", monitor.ID, "err", err)
		result.Error = err
		metricRuns.WithLabelValues("failed").Inc()
		return result
	}

	// One clock reading per run; all triggers and alerts share it.
	now := r.clock.Now()

	timeFilteredQuery := monitor.Query
	if lookback, ok := monitor.Lookback(); ok {
		timeFilteredQuery = pql.ComposeTimeFiltered(monitor.Query, periodEnd.Add(-lookback), periodEnd, monitor.TimestampField)
	}

	anyFired := false
	for _, trigger := range monitor.Triggers {
		tr := &TriggerRunResult{TriggerID: trigger.ID, TriggerName: trigger.Name}
		result.TriggerResults[trigger.ID] = tr

		if IsThrottled(trigger, now, manual) {
			metricTriggersThrottled.Inc()
			tr.Throttled = true
			continue
		}

		fired, err := r.runTrigger(ctx, monitor, trigger, timeFilteredQuery, executionID, now, dryRun, tr, result)
		if err != nil {
			if model.IsCancelled(err) {
				tr.Error = model.NewCancelledError(err)
				result.Error = tr.Error
				metricRuns.WithLabelValues("cancelled").Inc()
				return result
			}

			// A fatal store failure means alert writes cannot land; error
			// alerts would fail the same way, so abort the run instead of
			// moving to the next trigger.
			var fatal *model.FatalError
			if errors.As(err, &fatal) {
				tr.Error = err
				result.Error = err
				level.Error(r.logger).Log("msg", "aborting run on alert persistence failure", "monitor", monitor.ID, "trigger", trigger.ID, "err", err)
				metricRuns.WithLabelValues("failed").Inc()
				return result
			}

			metricTriggerErrors.Inc()
			tr.Error = err
			level.Error(r.logger).Log("msg", "trigger execution failed", "monitor", monitor.ID, "trigger", trigger.ID, "err", err)

			errAlert := BuildErrorAlert(trigger, monitor, err, executionID, now)
			if saveErr := r.store.SaveAlerts(ctx, []*model.Alert{errAlert}, monitor); saveErr != nil {
				level.Error(r.logger).Log("msg", "failed to persist error alert", "monitor", monitor.ID, "trigger", trigger.ID, "err", saveErr)
				if errors.As(saveErr, &fatal) {
					result.Error = saveErr
					metricRuns.WithLabelValues("failed").Inc()
					return result
				}
			}
			continue
		}

		if fired {
			anyFired = true
			metricTriggersFired.Inc()
			trigger.LastFiredTime = model.NewTimeMillis(now)
		}
	}

	if anyFired {
		if err := r.store.UpdateMonitorLastFiredTimes(ctx, monitor); err != nil {
			level.Error(r.logger).Log("msg", "failed to persist trigger last fired times", "monitor", monitor.ID, "err", err)
		}
	}

	metricRuns.WithLabelValues("success").Inc()
	return result
}

// runTrigger composes, executes, and evaluates one trigger, persisting any
// alerts it fires. Alert writes complete before the caller moves to the next
// trigger.
func (r *Runner) runTrigger(ctx context.Context, monitor *model.Monitor, trigger *model.Trigger, timeFilteredQuery, executionID string, now time.Time, dryRun bool, tr *TriggerRunResult, result *RunResult) (bool, error) {
	// Strict composition order: time filter, custom condition, row cap.
	query := timeFilteredQuery
	if trigger.ConditionType == model.ConditionCustom {
		query = pql.ComposeWithCustomCondition(query, trigger.CustomCondition)
	}
	query = pql.Cap(query, r.limits.QueryResultsMaxDatarows())

	pctx := principal.WithPrincipal(ctx, principal.Principal{
		Name:         monitor.User.Name,
		BackendRoles: monitor.User.BackendRoles,
		Roles:        monitor.User.Roles,
	})

	resp, err := r.executor.Execute(pctx, query)
	if err != nil {
		if model.IsCancelled(err) {
			return false, err
		}
		return false, model.NewQueryFailedError(trigger.ID, err)
	}

	result.Responses[trigger.ID] = resp

	fired, err := Evaluate(trigger, resp)
	if err != nil {
		return false, err
	}
	if !fired {
		return false, nil
	}
	tr.Fired = true

	slices, err := MaterializeResultSlices(trigger, resp, r.limits.PerResultTriggerMaxAlerts())
	if err != nil {
		return false, err
	}

	maxBytes := r.limits.QueryResultsMaxSize()
	for i := range slices {
		capped, err := CapSliceSize(&slices[i], maxBytes)
		if err != nil {
			return false, model.NewQueryFailedError(trigger.ID, err)
		}
		if capped {
			level.Warn(r.logger).Log("msg", "query result slice exceeded size cap", "monitor", monitor.ID, "trigger", trigger.ID, "cap", humanize.IBytes(uint64(maxBytes)))
		}
	}

	alerts := BuildAlerts(trigger, monitor, slices, executionID, now)

	if !dryRun {
		for i := range slices {
			r.dispatch(pctx, monitor, trigger, &slices[i])
		}
	}

	if err := r.store.SaveAlerts(ctx, alerts, monitor); err != nil {
		// The alerts never became durable; the trigger did not fire.
		tr.Fired = false
		return false, err
	}
	for _, a := range alerts {
		tr.AlertIDs = append(tr.AlertIDs, a.ID)
	}
	return true, nil
}

// dispatch renders and sends every action of the trigger for one fired
// slice. An empty rendered message fails the action; dispatch failures are
// logged and recorded but never abort the trigger.
func (r *Runner) dispatch(ctx context.Context, monitor *model.Monitor, trigger *model.Trigger, slice *model.QueryResponse) {
	tec := &TriggerExecutionContext{
		Monitor: monitor,
		Trigger: trigger,
		Results: slice,
	}

	for _, action := range trigger.Actions {
		subject, err := r.renderer.Render(action.SubjectTemplate, tec)
		if err != nil {
			level.Error(r.logger).Log("msg", "failed to render action subject", "monitor", monitor.ID, "action", action.ID, "err", err)
			continue
		}
		body, err := r.renderer.Render(action.MessageTemplate, tec)
		if err != nil {
			level.Error(r.logger).Log("msg", "failed to render action message", "monitor", monitor.ID, "action", action.ID, "err", err)
			continue
		}
		if body == "" {
			level.Error(r.logger).Log("msg", "action message rendered empty", "monitor", monitor.ID, "action", action.ID,
				"err", errors.Errorf("action %q produced an empty message", action.Name))
			continue
		}
		if err := r.notifier.Send(ctx, action.ID, subject, body, action.DestinationID); err != nil {
			level.Error(r.logger).Log("msg", "failed to send notification", "monitor", monitor.ID, "action", action.ID, "err", err)
		}
	}
}
