package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/admission"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/cache"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/config"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/dispatch"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine/marian"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine/openai"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/server"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/ws"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/logger"
)

var (
	flagConfig   string
	flagHost     string
	flagPort     int
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fugumt-server",
		Short: "WebSocket translation relay for FuguMT models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVar(&flagHost, "host", "", "listen host (overrides config)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = flagLogLevel
	}

	zapLogger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device := engine.ResolveDevice(cfg.Translation.Device, cudaAvailable())
	engineCfg := engine.Config{
		Endpoint: cfg.Translation.Endpoint,
		APIKey:   cfg.Translation.APIKey,
		Device:   device,
		Models: map[string]string{
			"en-ja": cfg.Translation.ModelEnJa,
			"ja-en": cfg.Translation.ModelJaEn,
		},
		MaxLength:   cfg.Translation.MaxLength,
		NumBeams:    cfg.Translation.NumBeams,
		Temperature: cfg.Translation.Temperature,
		BatchSize:   cfg.Performance.BatchSize,
	}
	zapLogger.Info("translation engine configured",
		zap.String("backend", cfg.Translation.Backend),
		zap.String("device", device))

	translator, err := newTranslator(cfg, engineCfg, zapLogger)
	if err != nil {
		return err
	}
	if err := engine.Verify(ctx, translator); err != nil {
		zapLogger.Fatal("Translation engine failed startup verification", zap.Error(err))
	}
	zapLogger.Info("translation engine verified")

	resultCache, err := newCache(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	agg := stats.NewAggregator(promReg)
	q := queue.New(cfg.Performance.QueueCeiling)
	registry := ws.NewRegistry(cfg.Server.MaxConnections, q, agg, zapLogger)
	admitter := admission.New(q, agg, cfg.Performance.Timeout(), zapLogger)
	hub := ws.NewHub(registry, admitter, translator, engineCfg, agg, zapLogger)
	pool := dispatch.New(q, translator, resultCache, agg, hub, cfg.Performance.WorkerThreads, zapLogger)

	srv := server.New(cfg.Server, hub, registry, agg, translator, promReg, zapLogger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		cancelWorkers()
		pool.Wait()
		return err
	case <-ctx.Done():
	}
	zapLogger.Info("shutdown signal received")
	stop()

	// A second signal aborts the graceful drain.
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-forceCh
		zapLogger.Warn("second signal received, forcing exit")
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP shutdown failed", zap.Error(err))
	}

	cancelWorkers()
	pool.Wait()
	zapLogger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.File != "" {
		return logger.NewFileLogger(cfg.Level, cfg.File)
	}
	return logger.NewLogger(cfg.Level)
}

func newTranslator(cfg *config.Config, engineCfg engine.Config, zapLogger *zap.Logger) (engine.Translator, error) {
	switch cfg.Translation.Backend {
	case "openai":
		return openai.New(engineCfg, zapLogger)
	default:
		return marian.New(engineCfg, zapLogger), nil
	}
}

func newCache(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (cache.Cache, error) {
	if !cfg.Translation.UseCache {
		return cache.Nop{}, nil
	}
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, zapLogger)
	default:
		return cache.NewMemory(cfg.Cache.Capacity), nil
	}
}

// cudaAvailable probes for the NVIDIA driver so "auto" can resolve without
// linking GPU libraries into the relay.
func cudaAvailable() bool {
	if _, err := os.Stat("/proc/driver/nvidia"); err == nil {
		return true
	}
	return false
}
