package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	forwardcache "github.com/forward-cache/forward-cache"
	"github.com/forward-cache/forward-cache/cache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	providerFlag       string
	dbFilenameFlag     string
	metricsAddrFlag    string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config, default 8080)")
	flag.StringVar(&providerFlag, "provider", "", "Object store to use: memory or sqlite (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name for the sqlite store (use 'memory' for an in-memory db)")
	flag.StringVar(&metricsAddrFlag, "metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cfg, err := getConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		cfg.DBFilename = dbFilenameFlag
	}
	if metricsAddrFlag != "" {
		cfg.MetricsAddr = metricsAddrFlag
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	var store cache.ObjectStore
	switch cfg.Provider {
	case "memory":
		store = cache.NewMemoryStore(cfg.MaxCacheSize, cfg.MaxObjectSize)
	case "sqlite":
		dbFilename := cfg.DBFilename
		if dbFilename == "memory" {
			dbFilename = "file::memory:?cache=shared"
		}
		store, err = cache.NewSQLiteStore(dbFilename, cfg.MaxCacheSize, cfg.MaxObjectSize)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open sqlite store")
		}
	default:
		log.Fatal().Msgf("Unsupported object store: %s", cfg.Provider)
	}

	proxy := forwardcache.CreateProxy(forwardcache.Config{
		Cache:         store,
		MaxObjectSize: cfg.MaxObjectSize,
		DialTimeout:   time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		Logger:        &log.Logger,
	})

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Msgf("Serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		log.Info().Msgf("Received %s, shutting down", sig)
		if err := proxy.Close(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	log.Info().Msgf("Listening on port %d with %s object store (cache %d bytes, objects up to %d bytes)",
		cfg.Port, cfg.Provider, cfg.MaxCacheSize, cfg.MaxObjectSize)
	if err := proxy.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatal().Err(err).Msg("Proxy terminated")
	}
}
