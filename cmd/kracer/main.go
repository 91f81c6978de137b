// Command kracer runs the offline kernel data-race trace analyzer against
// a single ledger file and writes its console, races.json and metrics
// artifacts to the configured output directory.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	krace "github.com/sslab-gatech/krace"
	"github.com/sslab-gatech/krace/internal/cdb"
	"github.com/sslab-gatech/krace/internal/config"
	"github.com/sslab-gatech/krace/internal/constants"
	"github.com/sslab-gatech/krace/internal/denylist"
	"github.com/sslab-gatech/krace/internal/logging"
	"github.com/sslab-gatech/krace/internal/reporter"
	"github.com/sslab-gatech/krace/internal/telemetry"
)

func main() {
	var (
		ledgerPath   = flag.String("ledger", "", "path to the binary ledger file to analyze (required)")
		configPath   = flag.String("config", "", "path to a YAML config file (optional, see internal/config)")
		cdbPath      = flag.String("cdb", "", "path to a JSON compile database (optional)")
		denyA        = flag.String("denylist", "", "first deny-list file (optional, merged with -denylist2 and the built-in list)")
		denyB        = flag.String("denylist2", "", "second deny-list file (optional)")
		outDir       = flag.String("out", "", "output directory override (otherwise taken from config)")
		compress     = flag.Bool("compress-console", false, "zstd-compress the console transcript")
		metricsAddr  = flag.String("metrics-addr", "", "serve Prometheus metrics on this address for the run's duration")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *ledgerPath == "" {
		fmt.Fprintln(os.Stderr, "kracer: -ledger is required")
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *compress {
		cfg.CompressConsole = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *cdbPath != "" {
		cfg.CompileDatabasePath = *cdbPath
	}

	denyPaths := append([]string{*denyA, *denyB}, cfg.DenyListFiles...)
	deny, err := denylist.MergeFiles(denylist.Builtin(), denyPaths...)
	if err != nil {
		logger.Error("failed to load deny list", "error", err)
		os.Exit(1)
	}

	database, err := cdb.LoadFile(cfg.CompileDatabasePath)
	if err != nil {
		logger.Error("failed to load compile database", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.New()
	logger.Info("starting analysis", "run_id", metrics.RunID, "ledger", *ledgerPath)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	rep := reporter.New(nil, constants.DefaultFlushLines)
	analyzer := krace.NewAnalyzer(cfg, database, deny, rep, metrics)

	ledgerFile, err := os.Open(*ledgerPath)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer ledgerFile.Close()

	transcript, runErr := analyzer.Run(bufio.NewReaderSize(ledgerFile, constants.DefaultReaderBufSize))

	consolePath := filepath.Join(cfg.OutputDir, constants.ConsoleFileName)
	if writeErr := writeArtifact(consolePath, []byte(transcript), cfg.CompressConsole); writeErr != nil {
		logger.Error("failed to write console transcript", "error", writeErr)
	}

	if runErr != nil {
		errPath := filepath.Join(cfg.OutputDir, constants.ErrorFileName)
		_ = writeArtifact(errPath, []byte(formatConsoleError(runErr, analyzer.Digest(), transcript)), cfg.CompressConsole)
		logger.Error("analysis failed", "error", runErr)
		shutdownMetrics(metricsServer, logger)
		os.Exit(1)
	}

	if rep.RaceCount() > 0 {
		racerPath := filepath.Join(cfg.OutputDir, constants.RacerFileName)
		_ = writeArtifact(racerPath, []byte(rep.RacerTranscript()), cfg.CompressConsole)
	}

	jsonPath := filepath.Join(cfg.OutputDir, constants.RacesJSONFileName)
	jsonFile, err := os.Create(jsonPath)
	if err != nil {
		logger.Error("failed to create races.json", "error", err)
	} else {
		if err := rep.WriteJSON(jsonFile, database.Resolve); err != nil {
			logger.Error("failed to write races.json", "error", err)
		}
		jsonFile.Close()
	}

	metricsBytes, err := metrics.Gather()
	if err != nil {
		logger.Error("failed to gather metrics", "error", err)
	} else {
		metricsPath := filepath.Join(cfg.OutputDir, constants.MetricsFileName)
		if err := os.WriteFile(metricsPath, metricsBytes, 0o644); err != nil {
			logger.Error("failed to write metrics", "error", err)
		}
	}

	logger.Info("analysis complete", "races", rep.RaceCount(), "soft_anomalies", rep.SoftAnomalies())
	shutdownMetrics(metricsServer, logger)
}

// formatConsoleError renders the console-error artifact: the failure
// description, its wrapped-cause chain, the BLAKE2b digest of the ledger
// bytes consumed so far, then the partial console transcript built up to
// the point of failure.
func formatConsoleError(runErr error, digest []byte, transcript string) string {
	var b strings.Builder
	b.WriteString(runErr.Error())
	for cause := errors.Unwrap(runErr); cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\ncaused by: ")
		b.WriteString(cause.Error())
	}
	fmt.Fprintf(&b, "\nledger digest (blake2b): %x", digest)
	b.WriteString("\n\n")
	b.WriteString(transcript)
	return b.String()
}

// writeArtifact writes data to path, or to path+".zst" zstd-compressed
// when compress is set.
func writeArtifact(path string, data []byte, compress bool) error {
	if !compress {
		return os.WriteFile(path, data, 0o644)
	}
	f, err := os.Create(path + ".zst")
	if err != nil {
		return err
	}
	defer f.Close()
	zw, err := reporter.NewZstdWriter(f)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func shutdownMetrics(srv *http.Server, logger *logging.Logger) {
	if srv == nil {
		return
	}
	if err := srv.Close(); err != nil {
		logger.Warn("error closing metrics server", "error", err)
	}
}
