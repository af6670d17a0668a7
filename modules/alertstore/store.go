package alertstore

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pqlmon/pqlmon/pkg/model"
)

var (
	metricAlertsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "alertstore_alerts_written_total",
		Help:      "Total number of alert documents written to the active collection.",
	})
	metricBulkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "alertstore_bulk_retries_total",
		Help:      "Total number of bulk write retries caused by 429 rejections.",
	})
	metricBulkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pqlmon",
		Name:      "alertstore_bulk_failures_total",
		Help:      "Total number of bulk writes that failed fatally.",
	})
)

type Config struct {
	Backoff backoff.Config `yaml:"backoff"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(_ *flag.FlagSet) {
	cfg.Backoff = backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		MaxRetries: 10,
	}
}

// Store persists alerts with at-least-once semantics. A crashed caller that
// retries a run may write a duplicate; deduplication belongs to the sweeper
// and consumers, not here.
type Store struct {
	cfg      *Config
	active   AlertCollection
	history  HistoryAlias
	monitors MonitorCollection
	logger   log.Logger
}

func NewStore(cfg *Config, active AlertCollection, history HistoryAlias, monitors MonitorCollection, logger log.Logger) *Store {
	return &Store{
		cfg:      cfg,
		active:   active,
		history:  history,
		monitors: monitors,
		logger:   log.With(logger, "component", "alertstore"),
	}
}

func (s *Store) Active() AlertCollection     { return s.active }
func (s *Store) History() HistoryAlias       { return s.history }
func (s *Store) Monitors() MonitorCollection { return s.monitors }

// EnsureAlertCollections idempotently creates the active collection and the
// history alias.
func (s *Store) EnsureAlertCollections(ctx context.Context) error {
	if err := s.active.EnsureExists(ctx); err != nil {
		return model.NewFatalError(errors.Wrap(err, "creating active alert collection"))
	}
	if err := s.history.EnsureExists(ctx); err != nil {
		return model.NewFatalError(errors.Wrap(err, "creating history alert alias"))
	}
	return nil
}

// SaveAlerts issues a single bulk write, routed by monitor id, and retries
// only the items the collection rejected with 429 under the configured
// backoff. Any other per-item failure aborts with the first failing cause.
func (s *Store) SaveAlerts(ctx context.Context, alerts []*model.Alert, monitor *model.Monitor) error {
	if len(alerts) == 0 {
		return nil
	}

	items := make([]BulkItem, 0, len(alerts))
	for _, a := range alerts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		items = append(items, BulkItem{ID: a.ID, Doc: a})
	}

	b := backoff.New(ctx, s.cfg.Backoff)
	for {
		results, err := s.active.BulkIndex(ctx, monitor.ID, items)
		if err != nil {
			if model.IsCancelled(err) {
				return model.NewCancelledError(err)
			}
			metricBulkFailures.Inc()
			return model.NewFatalError(errors.Wrap(err, "bulk alert write"))
		}

		var retry []BulkItem
		for i, r := range results {
			switch {
			case !r.Failed():
				metricAlertsWritten.Inc()
			case r.Retryable():
				retry = append(retry, items[i])
			default:
				metricBulkFailures.Inc()
				return model.NewFatalError(errors.Wrapf(r.Err, "bulk alert write failed for %q with status %d", r.ID, r.Status))
			}
		}
		if len(retry) == 0 {
			return nil
		}
		if !b.Ongoing() {
			metricBulkFailures.Inc()
			return model.NewFatalError(errors.Wrapf(b.Err(), "bulk alert write still rejected after %d retries", b.NumRetries()))
		}

		metricBulkRetries.Inc()
		level.Warn(s.logger).Log("msg", "bulk alert write rejected, backing off", "monitor", monitor.ID, "pending", len(retry), "backoff", b.NextDelay())
		items = retry
		b.Wait()
	}
}

// UpdateMonitorLastFiredTimes persists trigger lastFiredTimes through
// field-level partial updates, one per trigger that has fired at least once.
// Invoked only when the run fired something. Never replaces the monitor
// document: replacement would re-serialize trigger and action ids.
func (s *Store) UpdateMonitorLastFiredTimes(ctx context.Context, monitor *model.Monitor) error {
	for _, t := range monitor.Triggers {
		if t.LastFiredTime == nil {
			continue
		}
		if err := s.monitors.UpdateTriggerLastFired(ctx, monitor.ID, t.ID, t.LastFiredTime.Time()); err != nil {
			if model.IsCancelled(err) {
				return model.NewCancelledError(err)
			}
			return errors.Wrapf(err, "persisting last fired time for trigger %q", t.ID)
		}
	}
	return nil
}
