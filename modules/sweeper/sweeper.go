package sweeper

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/pqlmon/pqlmon/modules/alertstore"
	"github.com/pqlmon/pqlmon/modules/settings"
	"github.com/pqlmon/pqlmon/pkg/clock"
	"github.com/pqlmon/pqlmon/pkg/model"
)

var (
	metricSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pqlmon",
		Name:      "sweeper_sweep_duration_seconds",
		Help:      "Duration of one alert lifecycle sweep.",
		Buckets:   prometheus.DefBuckets,
	})
	metricAlertsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "sweeper_alerts_expired_total",
		Help:      "Total number of alerts expired by the sweeper.",
	}, []string{"reason"})
	metricSweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "sweeper_sweep_errors_total",
		Help:      "Total number of sweeps that reported an error.",
	})
	metricIsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pqlmon",
		Name:      "sweeper_leader",
		Help:      "1 when this process is the elected sweeper leader.",
	})
)

// LeaderElection is the cluster-state collaborator. The channel reports
// leadership flips; the sweeper runs only while leader.
type LeaderElection interface {
	Subscribe() <-chan bool
}

type Config struct {
	// SweepInterval is a fixed delay between sweeps, not a fixed rate:
	// the next sweep is scheduled only after the previous one finishes, so
	// sweeps never overlap.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	MaxAlerts   int `yaml:"max_alerts"`
	MaxMonitors int `yaml:"max_monitors"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(_ *flag.FlagSet) {
	cfg.SweepInterval = time.Minute
	cfg.MaxAlerts = 10000
	cfg.MaxMonitors = 10000
}

// state is the process-wide sweeper state driven by the cluster-state
// listener: the leader flag and the mapping-already-updated latch.
type state struct {
	leader         atomic.Bool
	mappingUpdated atomic.Bool
}

// Sweeper is the cluster-singleton lifecycle manager for alerts: it expires
// alerts whose monitor or trigger is gone or whose TTL has elapsed, archiving
// them to history when enabled.
type Sweeper struct {
	services.Service

	cfg    *Config
	store  *alertstore.Store
	limits settings.Interface
	clock  clock.Clock
	leader LeaderElection
	logger log.Logger

	state state
}

func New(cfg *Config, store *alertstore.Store, limits settings.Interface, clk clock.Clock, leader LeaderElection, logger log.Logger) *Sweeper {
	s := &Sweeper{
		cfg:    cfg,
		store:  store,
		limits: limits,
		clock:  clk,
		leader: leader,
		logger: log.With(logger, "component", "sweeper"),
	}
	s.Service = services.NewBasicService(nil, s.running, nil)
	return s
}

func (s *Sweeper) running(ctx context.Context) error {
	leaderCh := s.leader.Subscribe()

	// Fixed delay scheduling: the timer is armed only after a sweep
	// completes, and only while leader.
	timer := time.NewTimer(s.cfg.SweepInterval)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case isLeader, ok := <-leaderCh:
			if !ok {
				return errors.New("leader election channel closed")
			}
			wasLeader := s.state.leader.Swap(isLeader)
			if isLeader && !wasLeader {
				metricIsLeader.Set(1)
				level.Info(s.logger).Log("msg", "became sweeper leader")
				s.sweepAndLog(ctx)
				timer.Reset(s.cfg.SweepInterval)
			} else if !isLeader && wasLeader {
				metricIsLeader.Set(0)
				level.Info(s.logger).Log("msg", "lost sweeper leadership")
				timer.Stop()
			}

		case <-timer.C:
			if !s.state.leader.Load() {
				continue
			}
			s.sweepAndLog(ctx)
			timer.Reset(s.cfg.SweepInterval)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		metricSweepErrors.Inc()
		level.Error(s.logger).Log("msg", "sweep failed", "err", err)
	}
}

// Sweep runs one pass: one search over active alerts, one over monitors, one
// bulk per affected tier. A failed sweep is retried at the next tick.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { metricSweepDuration.Observe(time.Since(start).Seconds()) }()

	active := s.store.Active()

	if ok, err := active.Initialized(ctx); err != nil || !ok {
		if err != nil {
			return errors.Wrap(err, "checking active alert collection")
		}
		level.Debug(s.logger).Log("msg", "skipping sweep, active alert collection not initialized")
		return nil
	}
	if ok, err := s.store.History().Initialized(ctx); err != nil || !ok {
		if err != nil {
			return errors.Wrap(err, "checking history alert alias")
		}
		level.Debug(s.logger).Log("msg", "skipping sweep, history alert alias not initialized")
		return nil
	}

	alerts, err := active.SearchAll(ctx, s.cfg.MaxAlerts)
	if err != nil {
		return errors.Wrap(err, "loading active alerts")
	}
	if len(alerts) == 0 {
		return nil
	}

	monitors, err := s.store.Monitors().SearchAll(ctx, s.cfg.MaxMonitors)
	if err != nil {
		return errors.Wrap(err, "loading monitors")
	}
	byID := make(map[string]*model.Monitor, len(monitors))
	for _, m := range monitors {
		byID[m.ID] = m
	}

	now := s.clock.Now()
	expired := s.findExpired(alerts, byID, now)
	if len(expired) == 0 {
		return nil
	}

	if s.limits.HistoryEnabled() {
		return s.archive(ctx, expired)
	}
	return s.delete(ctx, expired)
}

// findExpired resolves each alert's monitor and trigger references. Orphans
// and dangling trigger references expire immediately; live references expire
// by trigger TTL.
func (s *Sweeper) findExpired(alerts []alertstore.VersionedAlert, monitors map[string]*model.Monitor, now time.Time) []alertstore.VersionedAlert {
	var expired []alertstore.VersionedAlert
	for _, va := range alerts {
		a := va.Alert

		m, ok := monitors[a.MonitorID]
		if !ok {
			metricAlertsExpired.WithLabelValues("orphan_monitor").Inc()
			expired = append(expired, va)
			continue
		}
		t := m.TriggerByID(a.TriggerID)
		if t == nil {
			metricAlertsExpired.WithLabelValues("orphan_trigger").Inc()
			expired = append(expired, va)
			continue
		}
		if a.Expired(now, t.Expire()) {
			metricAlertsExpired.WithLabelValues("ttl").Inc()
			expired = append(expired, va)
		}
	}
	return expired
}

// delete hard-deletes expired alerts under external-gte versioning.
func (s *Sweeper) delete(ctx context.Context, expired []alertstore.VersionedAlert) error {
	ids := make([]alertstore.VersionedID, 0, len(expired))
	for _, va := range expired {
		ids = append(ids, alertstore.VersionedID{ID: va.Alert.ID, Version: va.Version})
	}
	results, err := s.store.Active().BulkDelete(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "deleting expired alerts")
	}
	return bulkError("deleting expired alerts", results)
}

// archive copies expired alerts to the history write alias, then deletes from
// the active collection only those that were successfully copied. A failed
// copy leaves its alert in place for the next sweep; nothing is lost.
func (s *Sweeper) archive(ctx context.Context, expired []alertstore.VersionedAlert) error {
	copyResults, err := s.store.History().BulkCopy(ctx, expired)
	if err != nil {
		return errors.Wrap(err, "copying expired alerts to history")
	}

	copied := make(map[string]bool, len(copyResults))
	for _, r := range copyResults {
		if !r.Failed() {
			copied[r.ID] = true
		}
	}

	var ids []alertstore.VersionedID
	for _, va := range expired {
		if copied[va.Alert.ID] {
			ids = append(ids, alertstore.VersionedID{ID: va.Alert.ID, Version: va.Version})
		}
	}

	var deleteResults []alertstore.BulkItemResult
	if len(ids) > 0 {
		deleteResults, err = s.store.Active().BulkDelete(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "deleting archived alerts")
		}
	}

	return multierr.Append(
		bulkError("copying expired alerts to history", copyResults),
		bulkError("deleting archived alerts", deleteResults),
	)
}

// bulkError surfaces per-item bulk failures as one structured error. The
// first 429 cause is included as the retry hint.
func bulkError(op string, results []alertstore.BulkItemResult) error {
	var failed int
	var firstThrottled *alertstore.BulkItemResult
	for i, r := range results {
		if !r.Failed() {
			continue
		}
		failed++
		if r.Retryable() && firstThrottled == nil {
			firstThrottled = &results[i]
		}
	}
	if failed == 0 {
		return nil
	}
	if firstThrottled != nil {
		return model.NewTransientError(firstThrottled.Status,
			errors.Wrapf(firstThrottled.Err, "%s: %d items failed, first throttled item %q", op, failed, firstThrottled.ID))
	}
	return errors.Errorf("%s: %d items failed", op, failed)
}

// MarkMappingUpdated latches the scheduled-jobs mapping upgrade so it runs at
// most once per process.
func (s *Sweeper) MarkMappingUpdated() bool {
	return !s.state.mappingUpdated.Swap(true)
}

// IsLeader reports the current leadership flag.
func (s *Sweeper) IsLeader() bool {
	return s.state.leader.Load()
}
