package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/config"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/server"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer     = "hackboard-auth"
	tokenAudience   = "hackboard-api"
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := newRootCommand(viper.GetViper())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(configViper *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "hackboard-api",
		Short:         "Hackboard sheet backend service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configViper, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
	}

	setupFlags(rootCmd, configViper, &cfgFile)
	rootCmd.AddCommand(newTokenCommand(configViper), newProjectsCommand(configViper))
	return rootCmd
}

func setupFlags(cmd *cobra.Command, configViper *viper.Viper, cfgFile *string) {
	config.ApplyDefaults(configViper)
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Client token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("backend-url", defaults.GetString("backend.url"), "Base URL of a running backend")
	cmd.PersistentFlags().String("backend-token", "", "Bearer token for the backend")

	bindFlag(configViper, cmd, "http.address", "http-address")
	bindFlag(configViper, cmd, "database.path", "database-path")
	bindFlag(configViper, cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(configViper, cmd, "log.level", "log-level")
	bindFlag(configViper, cmd, "auth.signing_secret", "signing-secret")
	bindFlag(configViper, cmd, "backend.url", "backend-url")
	bindFlag(configViper, cmd, "backend.token", "backend-token")
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(configViper *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		configViper.SetConfigFile(cfgFile)
	}

	// Without --config a missing file is fine; env and flags still apply.
	if err := configViper.ReadInConfig(); err != nil && cfgFile != "" {
		return err
	}

	return nil
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context, configViper *viper.Viper) error {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(ctx, appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := sheets.NewStore(sheets.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	tokenManager, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:        store,
		TokenManager: tokenManager,
		Realtime:     server.NewRealtimeDispatcher(),
		Logger:       logger,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
