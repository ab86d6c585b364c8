// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command station is the agent process that runs on each sensor
// outpost: it samples its configured hardware readers on a periodic
// loop and hands every reading to a disk-backed outbox, which delivers
// it to the aggregator over a mutual-TLS connection with its own
// independent retry schedule.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/kaloix/home-sensor/internal/config"
	"github.com/kaloix/home-sensor/internal/metrics"
	"github.com/kaloix/home-sensor/internal/outbox"
	"github.com/kaloix/home-sensor/internal/runtimeenv"
	"github.com/kaloix/home-sensor/internal/station"
	"github.com/kaloix/home-sensor/pkg/log"
)

func main() {
	var (
		flagConfigFile string
		flagSensorFile string
		flagGops       bool
		flagLogLevel   string
	)
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to this station's operational config")
	flag.StringVar(&flagSensorFile, "sensors", "./sensors.json", "Path to the fleet-wide sensor descriptor")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of: debug, info, notice, warn, err, crit")
	flag.Parse()

	if !log.IsValidLevel(flagLogLevel) {
		log.Fatalf("invalid -loglevel %q, must be one of %v", flagLogLevel, log.ValidLevels)
	}
	log.SetLogLevel(flagLogLevel)

	if flag.NArg() != 1 {
		log.Fatal("usage: station [flags] <station-id>")
	}
	stationID, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		log.Fatalf("station id must be an integer: %s", err.Error())
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeenv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg, err := config.LoadStationConfig(flagConfigFile)
	if err != nil {
		log.Fatalf("loading %s failed: %s", flagConfigFile, err.Error())
	}

	descriptor, err := config.LoadSensorDescriptor(flagSensorFile)
	if err != nil {
		log.Fatalf("loading %s failed: %s", flagSensorFile, err.Error())
	}
	inputs := descriptor.ForStation(stationID)
	if len(inputs) == 0 {
		log.Fatalf("no sensors configured for station %d", stationID)
	}

	client, err := buildHTTPClient(cfg.TLS)
	if err != nil {
		log.Fatalf("building mTLS client failed: %s", err.Error())
	}

	sender, err := outbox.NewBufferedSender(outbox.Config{
		Transport:           &outbox.HTTPTransport{Client: client, BaseURL: cfg.BaseURL},
		QueuePath:           cfg.OutboxPath,
		Treat4xxAsTransient: cfg.Treat4xxAsTransient,
	})
	if err != nil {
		log.Fatalf("opening outbox %s failed: %s", cfg.OutboxPath, err.Error())
	}

	sampler, err := station.NewSampler(inputs, sender, time.Second, nil, cfg.Token)
	if err != nil {
		log.Fatalf("building sampler failed: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sender.Start(ctx)

	stop := make(chan struct{})
	go sampler.Run(stop)

	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New()
		go func() {
			if err := metricsReg.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server stopped: %s", err.Error())
			}
		}()
		go pollOutboxDepth(ctx, sender, metricsReg)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeenv.SystemdNotify(true, "running")
	<-sigs
	runtimeenv.SystemdNotify(false, "shutting down")

	close(stop)
	sender.Stop()
	cancel()

	log.Print("Gracefull shutdown completed!")
}

// pollOutboxDepth periodically reports the outbox's queued-entry count to
// the metrics registry. The sender updates its queue on its own retry
// schedule with no event to hook into, so polling is simpler than plumbing
// a depth-changed callback through BufferedSender for one gauge.
func pollOutboxDepth(ctx context.Context, sender *outbox.BufferedSender, reg *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.OutboxDepth.Set(float64(sender.Pending()))
		}
	}
}

// buildHTTPClient configures the station's mTLS client: its own
// certificate for the aggregator to authenticate, and the aggregator's CA
// to authenticate the server in turn.
func buildHTTPClient(tlsCfg config.TLSConfig) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(tlsCfg.ServerCert, tlsCfg.ServerKey)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	caBytes, err := os.ReadFile(tlsCfg.ClientCA)
	if err != nil {
		return nil, err
	}
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no valid certificates found in %s", tlsCfg.ClientCA)
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
			},
		},
		Timeout: 60 * time.Second,
	}, nil
}
