package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/auth/jwt"
	"github.com/commune-io/relay/internal/common/cnst"
	"github.com/commune-io/relay/internal/common/config"
	"github.com/commune-io/relay/internal/relay"
	"github.com/commune-io/relay/internal/storage"
	"github.com/commune-io/relay/pkg/helper"
	"github.com/commune-io/relay/pkg/logger"
	"github.com/commune-io/relay/pkg/metrics"
	"github.com/commune-io/relay/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of relay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.AppName, version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Presence and notification relay",
		Long:  `Relay authenticates live client connections and fans persisted session and notification changes out to them`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", cnst.RelayYaml, "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting relay",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	if cfg.PID != "" {
		pidPath := helper.GetPIDPath(cfg.PID)
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			zapLogger.Fatal("failed to write PID file",
				zap.String("path", pidPath),
				zap.Error(err))
		}
		defer func() {
			_ = os.Remove(pidPath)
		}()
	}

	verifier, err := jwt.NewServiceFromFiles(cfg.Auth.PublicKeyPath, cfg.Auth.PrivateKeyPath)
	if err != nil {
		zapLogger.Fatal("failed to load token verification keys", zap.Error(err))
	}

	sessions, notifications, err := storage.NewStores(zapLogger, &cfg.Storage)
	if err != nil {
		zapLogger.Fatal("failed to initialize persisted stores", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(cfg.Metrics)
	hub := relay.NewHub(zapLogger, relay.NewRegistry(zapLogger), sessions, notifications, m)
	if err := hub.Run(ctx); err != nil {
		zapLogger.Fatal("failed to start change-feed listeners", zap.Error(err))
	}

	gate := relay.NewGate(zapLogger, verifier, hub, m)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", gate.Handler())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Registry().Size()})
	})
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		zapLogger.Info("listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("failed to shutdown server", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
