package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/moyamoya-lab/moyamoya/backend/internal/config"
	"github.com/moyamoya-lab/moyamoya/backend/internal/database"
	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
	"github.com/moyamoya-lab/moyamoya/backend/internal/generation"
	"github.com/moyamoya-lab/moyamoya/backend/internal/logging"
	"github.com/moyamoya-lab/moyamoya/backend/internal/notify"
	"github.com/moyamoya-lab/moyamoya/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "moyamoya-api",
		Short: "Moyamoya presentation drafting backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("ai-base-url", defaults.GetString("ai.base_url"), "OpenAI-compatible API base URL")
	cmd.PersistentFlags().String("ai-model", defaults.GetString("ai.model"), "Text-generation model name")
	cmd.PersistentFlags().Int("ai-timeout-seconds", defaults.GetInt("ai.timeout_seconds"), "Generation request timeout in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ai.base_url", "ai-base-url")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "ai.timeout_seconds", "ai-timeout-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A local .env is a convenience for development; absence is not an error.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	backend, err := generation.NewOpenAIBackend(generation.BackendConfig{
		APIKey:  appConfig.AIAPIKey,
		BaseURL: appConfig.AIBaseURL,
		Model:   appConfig.AIModel,
		Timeout: appConfig.AITimeout,
	}, logger)
	if err != nil {
		return err
	}

	pipeline, err := generation.NewPipeline(backend, logger)
	if err != nil {
		return err
	}

	store, err := draft.NewStore(draft.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: draft.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notifications := notify.NewCenter(notify.CenterConfig{
		ErrorTTL:   appConfig.NotifyErrorTTL,
		SuccessTTL: appConfig.NotifySuccessTTL,
	})
	defer notifications.Close()

	dispatcher := server.NewDraftDispatcher()

	draftService, err := draft.NewService(draft.ServiceConfig{
		Store:     store,
		Generator: pipeline,
		Notifier:  notifications,
		Events:    dispatcher,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		DraftService:  draftService,
		Notifications: notifications,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
