// Command proxy runs the full intercepting proxy engine: the raw
// HTTP/1.x listener, a side-channel metrics/export
// HTTP server, and the persistence/config layers that back them.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/relaywire/proxy/internal/config"
	"github.com/relaywire/proxy/internal/interface/connection"
	"github.com/relaywire/proxy/internal/interface/handler"
	"github.com/relaywire/proxy/internal/interface/repository/access"
	"github.com/relaywire/proxy/internal/interface/repository/events"
	"github.com/relaywire/proxy/internal/interface/repository/exchangestore"
	"github.com/relaywire/proxy/internal/interface/repository/logger"
	"github.com/relaywire/proxy/internal/interface/repository/metrics"
	"github.com/relaywire/proxy/internal/usecase"
)

const (
	defaultMetricsPort  = 10081
	defaultConfigDir    = "./configs"
	defaultLogDir       = "./logs"
	defaultMaxExchanges = 500
	defaultMaxIdleConns = 100
	defaultConnIdleTime = 90 * time.Second
	defaultConnLifetime = 10 * time.Minute
)

type cliConfig struct {
	metricsPort         int
	configDir           string
	logDir              string
	maxExchanges        int
	metricsSaveInterval time.Duration
}

func main() {
	cli := parseFlags()

	if err := prepareDirectories(cli); err != nil {
		fmt.Printf("Failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	loggerRepo, err := logger.New(cli.logDir, "proxy.log", logger.DefaultRotationConfig())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer loggerRepo.Close()

	tomlCodec := &config.TOMLCodec{Path: filepath.Join(cli.configDir, "proxy.toml")}
	initialCfg, err := tomlCodec.Load()
	if err != nil {
		loggerRepo.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	configStore := config.NewStore(initialCfg, tomlCodec)

	accessController, err := access.New(filepath.Join(cli.configDir, "blocked.yaml"))
	if err != nil {
		loggerRepo.Error("Failed to initialize access controller", err, nil)
		os.Exit(1)
	}

	connManager := connection.NewManager(defaultMaxIdleConns, defaultConnIdleTime, defaultConnLifetime, initialCfg.Timeouts)
	metricsCollector := metrics.New(filepath.Join(cli.logDir, "metrics.json"))
	exchangeStore := exchangestore.New(cli.maxExchanges)
	eventBus := events.New()

	proxyUseCase := usecase.NewProxyUseCase(
		accessController,
		connManager,
		metricsCollector,
		loggerRepo,
		exchangeStore,
		eventBus,
		configStore,
	)

	metricsUseCase := usecase.NewMetricsUseCase(
		metricsCollector,
		loggerRepo,
		usecase.MetricsConfig{
			SaveInterval: cli.metricsSaveInterval,
			MetricsFile:  filepath.Join(cli.logDir, "metrics.json"),
		},
	)

	proxyHandler := handler.NewProxyHandler(proxyUseCase, loggerRepo, metricsCollector)
	metricsHandler := handler.NewMetricsHandler(metricsUseCase, loggerRepo)
	exportHandler := handler.NewExportHandler(exchangeStore, loggerRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenAddr := fmt.Sprintf(":%d", initialCfg.ListenPort)
	proxyLn, err := net.Listen("tcp", listenAddr)
	if err != nil {
		loggerRepo.Error("Failed to bind proxy listener", err, map[string]interface{}{"addr": listenAddr})
		os.Exit(1)
	}

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", metricsHandler.HandleMetrics)
	metricsMux.HandleFunc("/stats", metricsHandler.HandleStats)
	metricsMux.HandleFunc("/health", metricsHandler.HandleHealth)
	metricsMux.HandleFunc("/export", exportHandler.HandleExport)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cli.metricsPort),
		Handler: metricsMux,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		loggerRepo.Info("Starting proxy listener", map[string]interface{}{"port": initialCfg.ListenPort})
		if err := proxyHandler.Serve(ctx, proxyLn); err != nil {
			loggerRepo.Info("Proxy listener stopped", map[string]interface{}{"reason": err.Error()})
			cancel()
		}
	}()

	go func() {
		loggerRepo.Info("Starting metrics server", map[string]interface{}{"port": cli.metricsPort})
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			loggerRepo.Error("Metrics server error", err, nil)
			cancel()
		}
	}()

	select {
	case <-signalChan:
		loggerRepo.Info("Shutdown signal received", nil)
	case <-ctx.Done():
		loggerRepo.Info("Shutdown initiated", nil)
	}

	proxyLn.Close()
	connManager.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down metrics server", err, nil)
	}
	metricsUseCase.Stop()

	loggerRepo.Info("Shutdown complete", nil)
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	pflag.IntVar(&cli.metricsPort, "metrics-port", defaultMetricsPort, "Metrics/export server port")
	pflag.StringVar(&cli.configDir, "config-dir", defaultConfigDir, "Configuration directory")
	pflag.StringVar(&cli.logDir, "log-dir", defaultLogDir, "Log directory")
	pflag.IntVar(&cli.maxExchanges, "max-exchanges", defaultMaxExchanges, "Maximum retained captured exchanges")
	pflag.DurationVar(&cli.metricsSaveInterval, "metrics-save-interval", time.Minute, "Metrics save interval")

	pflag.Parse()

	return cli
}

func prepareDirectories(cli *cliConfig) error {
	for _, dir := range []string{cli.configDir, cli.logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}
	return nil
}
