package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keelworks/keeldb/internal/config"
	"github.com/keelworks/keeldb/internal/engine"
	"github.com/keelworks/keeldb/internal/httpapi"
	"github.com/keelworks/keeldb/internal/replication"
)

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Read env
	isDev := os.Getenv("ENV") == "dev"

	// Load config
	cfgPath := os.Getenv("KEELDB_CONFIG")
	if cfgPath == "" {
		cfgPath = "keeldb.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Create Zap logger
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	// Open the store
	eng := engine.New(engine.Options{
		Dir:             cfg.DataDir,
		Base:            cfg.BaseName,
		CacheLimit:      cfg.CacheLimit,
		SaveInterval:    cfg.SaveInterval,
		SweepInterval:   cfg.TTLSweepInterval,
		BackupRetention: cfg.BackupRetention,
		Role:            replication.Role(cfg.Role),
		NodeID:          cfg.NodeID,
		Followers:       cfg.Followers,
		SyncInterval:    cfg.SyncInterval,
		RequestTimeout:  cfg.RequestTimeout,
		Logger:          log.Named("keeldb"),
	})
	if err := eng.Init(); err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	if eng.Degraded() {
		log.Warn("store started degraded", zap.String("restored_from", eng.RestoredFrom()))
	}

	// Create Gin router
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	h := httpapi.NewHandler(log, eng)
	r := httpapi.NewRouter(log, h, isDev)

	httpsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // avoid forever-hangs on writes
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("running HTTP server",
			zap.String("addr", httpsrv.Addr),
			zap.String("role", cfg.Role),
			zap.String("node_id", cfg.NodeID))
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpsrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		log.Error("store close failed", zap.Error(err))
	}
	log.Info("server closed")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("keeldb %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// helpers

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
