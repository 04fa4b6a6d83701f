package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/roberthpchao/Northwind-ETL/internal/config"
	"github.com/roberthpchao/Northwind-ETL/internal/metrics"
	"github.com/roberthpchao/Northwind-ETL/internal/metrics/datadog"
	"github.com/roberthpchao/Northwind-ETL/internal/metrics/prompush"
	"github.com/roberthpchao/Northwind-ETL/internal/probe"

	// register all backends with the storage factory.
	// the pipeline file selects which to use but we build in support for all of them.
	_ "github.com/roberthpchao/Northwind-ETL/internal/storage/all"
)

// main is the entry point for the reload binary. It decodes the pipeline
// config, optionally validates or probes and exits, otherwise initializes a
// metrics backend and executes the full reload.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validateOnly      bool
		probeOnly         bool
		sampleRows        int
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/northwind.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "pushgateway", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DATADOG_ADDR)")
	flag.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&probeOnly, "probe", false, "sample the extract queries, print suggested load contracts, and exit")
	flag.IntVar(&sampleRows, "sample", probe.DefaultSampleRows, "rows to sample per entity in probe mode")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	var p config.Pipeline
	err = json.NewDecoder(f).Decode(&p)
	f.Close()
	if err != nil {
		fatalf("decode config: %v", err)
	}

	// DSN overrides keep credentials out of pipeline files. Applied before
	// validation so an empty-DSN error reflects the effective value.
	if dsn := os.Getenv("SOURCE_DSN"); dsn != "" {
		p.Source.DSN = dsn
	}
	if dsn := os.Getenv("TARGET_DSN"); dsn != "" {
		p.Target.DSN = dsn
	}

	issues := config.ValidatePipeline(p)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validateOnly {
		log.WithField("config", cfgPath).Info("configuration is valid")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if probeOnly {
		if err := runProbe(ctx, os.Stdout, p, sampleRows); err != nil {
			log.WithError(err).Error("probe failed")
			os.Exit(1)
		}
		return
	}

	runID := uuid.NewString()
	initMetrics(p.Job, runID, metricsBackendFlg, pushGatewayURLFlg, datadogAddrFlg)

	err = run(ctx, p, runID)

	// os.Exit skips deferred functions, so flush before the failure exit.
	if ferr := metrics.Flush(); ferr != nil {
		log.WithError(ferr).Warn("metrics flush failed")
	}
	if err != nil {
		log.WithError(err).Error("reload failed")
		os.Exit(1)
	}
}

// initMetrics installs the selected metrics backend. Selection is
// flag → env → default; init failures leave the nop backend in place.
func initMetrics(job, runID, backendFlg, gatewayFlg, datadogFlg string) {
	backendName := backendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "northwind_etl"
	}

	switch backendName {
	case "pushgateway":
		gwURL := gatewayFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.WithError(err).Warn("metrics: pushgateway init failed; metrics disabled")
			return
		}
		// Grouping by run ID keeps successive runs apart on the gateway.
		b.WithGrouping("run_id", runID)
		log.WithFields(log.Fields{"backend": backendName, "url": gwURL, "job": job}).Debug("metrics backend ready")
		metrics.SetBackend(b)

	case "datadog":
		addr := datadogFlg
		if addr == "" {
			addr = os.Getenv("DATADOG_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}

		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			GlobalTags: []string{"job:" + job, "run_id:" + runID},
		})
		if err != nil {
			log.WithError(err).Warn("metrics: datadog init failed; metrics disabled")
			return
		}
		log.WithFields(log.Fields{"backend": backendName, "addr": addr, "job": job}).Debug("metrics backend ready")
		metrics.SetBackend(b)

	case "", "none":
		log.Debugf("metrics: disabled (backend=%q)", backendName)

	default:
		log.Warnf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
