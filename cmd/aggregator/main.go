// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command aggregator is the central process of the pipeline: it loads the
// fleet-wide sensor descriptor and its own operational config, restores
// every series from its CSV history, then serves the mTLS ingest endpoint
// and runs the periodic classification/alert tick until a signal tells it
// to shut down.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/kaloix/home-sensor/internal/alert"
	"github.com/kaloix/home-sensor/internal/config"
	"github.com/kaloix/home-sensor/internal/eventbus"
	"github.com/kaloix/home-sensor/internal/ingest"
	"github.com/kaloix/home-sensor/internal/metrics"
	"github.com/kaloix/home-sensor/internal/runtimeenv"
	"github.com/kaloix/home-sensor/internal/series"
	"github.com/kaloix/home-sensor/internal/store"
	"github.com/kaloix/home-sensor/internal/supervisor"
	"github.com/kaloix/home-sensor/pkg/log"
	"github.com/kaloix/home-sensor/pkg/record"
)

func main() {
	var (
		flagConfigFile string
		flagSensorFile string
		flagGops       bool
		flagLogLevel   string
	)
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the aggregator's operational config")
	flag.StringVar(&flagSensorFile, "sensors", "./sensors.json", "Path to the fleet-wide sensor descriptor")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of: debug, info, notice, warn, err, crit")
	flag.Parse()

	if !log.IsValidLevel(flagLogLevel) {
		log.Fatalf("invalid -loglevel %q, must be one of %v", flagLogLevel, log.ValidLevels)
	}
	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeenv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg, err := config.LoadAggregatorConfig(flagConfigFile)
	if err != nil {
		log.Fatalf("loading %s failed: %s", flagConfigFile, err.Error())
	}

	descriptor, err := config.LoadSensorDescriptor(flagSensorFile)
	if err != nil {
		log.Fatalf("loading %s failed: %s", flagSensorFile, err.Error())
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("invalid timezone %q: %s", cfg.Timezone, err.Error())
	}

	var sideStore *store.Store
	if cfg.Store.Path != "" {
		sideStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatalf("opening side store %s failed: %s", cfg.Store.Path, err.Error())
		}
	}

	var bus *eventbus.Client
	if cfg.Bus.Enabled {
		bus, err = eventbus.Connect(eventbus.Config{URL: cfg.Bus.URL})
		if err != nil {
			log.Fatalf("connecting to event bus failed: %s", err.Error())
		}
	}

	seriesConfigs := buildSeriesConfigs(descriptor, cfg, loc, sideStore, bus)
	currentYear := time.Now().In(loc).Year()
	manager, err := series.NewManager(seriesConfigs, []int{currentYear - 1, currentYear})
	if err != nil {
		log.Fatalf("restoring series failed: %s", err.Error())
	}

	mailer := &alert.SMTPMailer{
		Host:    cfg.SMTP.Host,
		Port:    cfg.SMTP.Port,
		From:    cfg.SMTP.FromAddress,
		Enabled: cfg.SMTP.EnableEmail,
	}
	var cooldownStore alert.Checkpointer
	if sideStore != nil {
		cooldownStore = sideStore
	}
	alerter := alert.NewAlerter(mailer, cfg.SMTP.UserAddress, cfg.SMTP.AdminAddress, cooldownStore, nil)

	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New()
	}

	sup, err := supervisor.New(supervisor.Config{
		Series:  manager,
		Alerter: alerter,
		Bus:     bus,
		Metrics: metricsReg,
	})
	if err != nil {
		log.Fatalf("building supervisor failed: %s", err.Error())
	}

	ingestSrv, err := ingest.New(ingest.Config{
		ListenAddr: cfg.ListenAddr,
		ServerCert: cfg.TLS.ServerCert,
		ServerKey:  cfg.TLS.ServerKey,
		ClientCA:   cfg.TLS.ClientCA,
		JWTSecret:  cfg.TLS.JWTSecret,
		Workers:    cfg.Workers,
		Dispatcher: sup,
	})
	if err != nil {
		log.Fatalf("building ingest server failed: %s", err.Error())
	}

	if err := sup.Start(); err != nil {
		log.Fatalf("starting supervisor failed: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	if metricsReg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsReg.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server stopped: %s", err.Error())
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestSrv.Serve(ctx); err != nil {
			log.Errorf("ingest server stopped: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeenv.SystemdNotify(true, "running")
	<-sigs
	runtimeenv.SystemdNotify(false, "shutting down")

	cancel()
	wg.Wait()

	if err := sup.Stop(); err != nil {
		log.Errorf("stopping supervisor: %s", err.Error())
	}
	if err := manager.Close(); err != nil {
		log.Errorf("closing series: %s", err.Error())
	}
	if sideStore != nil {
		if err := sideStore.Close(); err != nil {
			log.Errorf("closing side store: %s", err.Error())
		}
	}
	bus.Close()

	log.Print("Gracefull shutdown completed!")
}

// buildSeriesConfigs flattens the fleet-wide sensor descriptor's Outputs
// into one series.Config per series, independent of which station feeds
// it -- the aggregator never needs to know a series' station id, only its
// kind and thresholds.
func buildSeriesConfigs(descriptor config.SensorDescriptor, cfg config.AggregatorConfig, loc *time.Location, sideStore *store.Store, bus *eventbus.Client) []series.Config {
	var out []series.Config
	for _, in := range descriptor.Inputs {
		for _, o := range in.Outputs {
			kind := record.KindTemperature
			if o.Kind == config.OutputSwitch {
				kind = record.KindSwitch
			}

			sc := series.Config{
				Name:                     o.Name,
				Kind:                     kind,
				Interval:                 time.Duration(in.Interval) * time.Second,
				FailNotify:               o.FailNotify,
				Low:                      o.Low,
				High:                     o.High,
				ThresholdExpr:            o.ThresholdExpr,
				RecordDays:               cfg.RecordDays,
				SummaryDays:              cfg.SummaryDays,
				AllowedDowntime:          time.Duration(cfg.AllowedDowntime) * time.Second,
				AssumeLastDuringDowntime: cfg.SwitchDowntimeBehavior == "last",
				Location:                 loc,
				DataDir:                  cfg.DataDir,
			}
			if sideStore != nil {
				sc.Store = sideStore
			}
			if bus != nil {
				sc.Publisher = bus
			}
			out = append(out, sc)
		}
	}
	return out
}
