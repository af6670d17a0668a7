package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	ver "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"github.com/pqlmon/pqlmon/modules/alertstore"
	"github.com/pqlmon/pqlmon/modules/settings"
	"github.com/pqlmon/pqlmon/modules/sweeper"
	"github.com/pqlmon/pqlmon/pkg/clock"
	"github.com/pqlmon/pqlmon/pkg/util/log"
)

const appName = "pqlmon"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision

	prometheus.MustRegister(ver.NewCollector(appName))
}

func main() {
	flag.Usage = usage
	printVersion := flag.Bool("version", false, "Print this builds version information")

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}

	logger := log.InitLogger(config.LogFormat, config.LogLevel)

	// The monitor, active-alert, and history collections are cluster
	// collaborators; the in-memory implementations stand in until the
	// deployment wires real ones.
	active := alertstore.NewInMemoryAlerts()
	history := alertstore.NewInMemoryHistory()
	monitors := alertstore.NewInMemoryMonitors()
	store := alertstore.NewStore(&config.Store, active, history, monitors, logger)

	clk := clock.New()

	limits := settings.New(&config.Settings, nil, logger)
	sw := sweeper.New(&config.Sweeper, store, limits, clk, sweeper.NewSingleNode(), logger)

	manager, err := services.NewManager(limits, sw)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create service manager", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := services.StartManagerAndAwaitHealthy(ctx, manager); err != nil {
		level.Error(logger).Log("msg", "failed to start services", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "pqlmon started")

	<-ctx.Done()

	level.Info(logger).Log("msg", "shutting down")
	if err := services.StopManagerAndAwaitStopped(context.Background(), manager); err != nil {
		level.Error(logger).Log("msg", "failed to stop services", "err", err)
		os.Exit(1)
	}
}
