package settings

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricReloadFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pqlmon",
	Name:      "settings_reload_failed_total",
	Help:      "How often reloading the cluster settings has failed.",
})

// Interface is the read surface handed to the runner, store, and sweeper.
type Interface interface {
	HistoryEnabled() bool
	HistoryRolloverPeriod() time.Duration
	HistoryIndexMaxAge() time.Duration
	HistoryMaxDocs() int64
	HistoryRetentionPeriod() time.Duration
	QueryResultsMaxDatarows() int64
	QueryResultsMaxSize() int64
	PerResultTriggerMaxAlerts() int
	FilterByBackendRoles() bool
}

// Source loads the current settings from wherever the cluster keeps them.
type Source interface {
	Load(ctx context.Context) (*Limits, error)
}

type Config struct {
	Defaults Limits `yaml:"defaults"`

	// PollInterval controls how often settings are refreshed from the source.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	cfg.PollInterval = time.Minute
	cfg.Defaults.RegisterFlagsAndApplyDefaults(f)
}

// Service polls the source and atomically swaps the limits snapshot. A failed
// reload keeps the previous snapshot.
type Service struct {
	services.Service

	cfg    *Config
	source Source
	logger log.Logger

	mtx    sync.RWMutex
	limits *Limits
}

var _ Interface = (*Service)(nil)

func New(cfg *Config, source Source, logger log.Logger) *Service {
	defaults := cfg.Defaults
	s := &Service{
		cfg:    cfg,
		source: source,
		logger: log.With(logger, "component", "settings"),
		limits: &defaults,
	}
	s.Service = services.NewBasicService(s.starting, s.running, nil)
	return s
}

func (s *Service) starting(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	if err := s.reload(ctx); err != nil {
		return errors.Wrap(err, "initial settings load")
	}
	return nil
}

func (s *Service) running(ctx context.Context) error {
	if s.source == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				metricReloadFailed.Inc()
				level.Error(s.logger).Log("msg", "failed to refresh cluster settings", "err", err)
			}
		}
	}
}

func (s *Service) reload(ctx context.Context) error {
	limits, err := s.source.Load(ctx)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.limits = limits
	s.mtx.Unlock()
	return nil
}

func (s *Service) snapshot() *Limits {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.limits
}

func (s *Service) HistoryEnabled() bool                  { return s.snapshot().HistoryEnabled }
func (s *Service) HistoryRolloverPeriod() time.Duration  { return s.snapshot().HistoryRolloverPeriod }
func (s *Service) HistoryIndexMaxAge() time.Duration     { return s.snapshot().HistoryIndexMaxAge }
func (s *Service) HistoryMaxDocs() int64                 { return s.snapshot().HistoryMaxDocs }
func (s *Service) HistoryRetentionPeriod() time.Duration { return s.snapshot().HistoryRetentionPeriod }
func (s *Service) QueryResultsMaxDatarows() int64        { return s.snapshot().QueryResultsMaxDatarows }
func (s *Service) QueryResultsMaxSize() int64            { return s.snapshot().QueryResultsMaxSize }
func (s *Service) PerResultTriggerMaxAlerts() int        { return s.snapshot().PerResultTriggerMaxAlerts }
func (s *Service) FilterByBackendRoles() bool            { return s.snapshot().FilterByBackendRoles }

// Static wraps a fixed Limits value, for tests and for deployments without a
// dynamic settings source.
type Static struct {
	Limits Limits
}

var _ Interface = (*Static)(nil)

func NewStatic() *Static {
	s := &Static{}
	s.Limits.RegisterFlagsAndApplyDefaults(nil)
	return s
}

func (s *Static) HistoryEnabled() bool                  { return s.Limits.HistoryEnabled }
func (s *Static) HistoryRolloverPeriod() time.Duration  { return s.Limits.HistoryRolloverPeriod }
func (s *Static) HistoryIndexMaxAge() time.Duration     { return s.Limits.HistoryIndexMaxAge }
func (s *Static) HistoryMaxDocs() int64                 { return s.Limits.HistoryMaxDocs }
func (s *Static) HistoryRetentionPeriod() time.Duration { return s.Limits.HistoryRetentionPeriod }
func (s *Static) QueryResultsMaxDatarows() int64        { return s.Limits.QueryResultsMaxDatarows }
func (s *Static) QueryResultsMaxSize() int64            { return s.Limits.QueryResultsMaxSize }
func (s *Static) PerResultTriggerMaxAlerts() int        { return s.Limits.PerResultTriggerMaxAlerts }
func (s *Static) FilterByBackendRoles() bool            { return s.Limits.FilterByBackendRoles }
