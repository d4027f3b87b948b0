/*
main.go - Application entry point

PURPOSE:
  Starts the stockroom back-office server and provides the operator
  commands that bootstrap it.

COMMANDS:
  serve        Run the HTTP API (default when no command is given)
  seed-admin   Create an admin account, or elevate an existing user
  token        Print a bearer token for an existing user
  seed-demo    Wipe inventory and sales, then load a demo scenario

STARTUP SEQUENCE (serve):
  1. Load .env and environment (config package)
  2. Apply command-line overrides
  3. Initialize logger, SQLite store and metrics
  4. Wire engine, handler and router
  5. Start the low-stock monitor
  6. Start server with graceful shutdown

ENVIRONMENT:
  APP_ENV, PORT, DB_PATH, JWT_SECRET, CORS_ORIGINS, LOG_LEVEL,
  LOW_STOCK_THRESHOLD, STOCK_MONITOR_INTERVAL, DEMO_SCENARIOS.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the monitor
  4. Close database connection

EXAMPLES:
  ./stockroom seed-admin --email owner@shop.test --password 'long-secret'
  ./stockroom token --email owner@shop.test
  ./stockroom seed-demo --email owner@shop.test --scenario corner-shop
  ./stockroom serve --port 3000 --db ./data/stockroom.db

SEE ALSO:
  - api/server.go: Router configuration
  - retail/engine.go: Consistency engine
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/stockroom/api"
	"github.com/warp/stockroom/auth"
	"github.com/warp/stockroom/config"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/metrics"
	"github.com/warp/stockroom/retail"
	"github.com/warp/stockroom/store/sqlite"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagPort     int
	flagDBPath   string
	flagEmail    string
	flagPassword string
	flagTTL      time.Duration
	flagScenario string
)

var rootCmd = &cobra.Command{
	Use:          "stockroom",
	Short:        "Stockroom - inventory and sales back-office",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "SQLite database path (overrides DB_PATH)")

	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP server port (overrides PORT)")

	seedAdminCmd.Flags().StringVar(&flagEmail, "email", "", "admin email")
	seedAdminCmd.Flags().StringVar(&flagPassword, "password", "", "password for a new account")
	_ = seedAdminCmd.MarkFlagRequired("email")

	tokenCmd.Flags().StringVar(&flagEmail, "email", "", "user email")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", auth.DefaultTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("email")

	seedDemoCmd.Flags().StringVar(&flagEmail, "email", "", "email of the admin loading the demo")
	seedDemoCmd.Flags().StringVar(&flagScenario, "scenario", "corner-shop",
		"scenario id: "+strings.Join(api.ScenarioIDs(), ", "))
	_ = seedDemoCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedAdminCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(seedDemoCmd)
}

// stockroom serve: run the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagPort != 0 {
			cfg.Port = flagPort
		}

		log := logger.New(cfg.Production(), cfg.LogLevel)
		slog.SetDefault(log)

		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer store.Close()

		m := metrics.New()
		engine := retail.NewEngine(store, log)
		engine.Observer = m
		engine.LowStockThreshold = cfg.LowStockThreshold

		monitor := api.NewStockMonitor(store, m, log)
		monitor.CheckInterval = cfg.StockMonitorInterval
		monitor.Enabled = cfg.StockMonitorInterval > 0

		handler := api.NewHandler(store, engine)
		handler.Monitor = monitor
		router := api.NewRouter(handler, api.Options{
			Auth:        auth.NewVerifier(cfg.JWTSecret, store),
			Metrics:     m,
			Logger:      log,
			CORSOrigins: cfg.CORSOrigins,
			Health:      store.Ping,
			Scenarios:   cfg.DemoScenarios,
		})

		monitor.Start()
		defer monitor.Stop()

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("server starting", "addr", server.Addr, "env", cfg.AppEnv, "db", cfg.DBPath)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-quit:
		}

		log.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info("server stopped")
		return nil
	},
}

// stockroom seed-admin: bootstrap the first admin.
var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create an admin account, or elevate an existing user to admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer store.Close()

		var hash string
		if flagPassword != "" {
			if hash, err = auth.HashPassword(flagPassword); err != nil {
				return err
			}
		}
		user, err := retail.NewRoleManager(store).SeedAdmin(cmd.Context(), flagEmail, hash)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅  %s is now %s (id %s)\n", user.Email, user.Role, user.ID)
		return nil
	},
}

// stockroom token: print a bearer token for a user.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer store.Close()

		user, err := store.GetUserByEmail(cmd.Context(), flagEmail)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("no user with email %q", flagEmail)
		}
		token, err := auth.NewIssuer(cfg.JWTSecret, flagTTL).Issue(*user)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// stockroom seed-demo: load demo data through the engine.
var seedDemoCmd = &cobra.Command{
	Use:   "seed-demo",
	Short: "Wipe inventory, sales and audit, then load a demo scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.New(cfg.Production(), cfg.LogLevel)
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer store.Close()

		user, err := store.GetUserByEmail(cmd.Context(), flagEmail)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("no user with email %q; run seed-admin first", flagEmail)
		}

		engine := retail.NewEngine(store, log)
		engine.LowStockThreshold = cfg.LowStockThreshold
		caller := retail.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
		ctx := logger.InjectLogger(cmd.Context(), log)
		if err := api.NewHandler(store, engine).ApplyScenario(ctx, caller, flagScenario); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅  loaded scenario %s\n", flagScenario)
		return nil
	},
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	return cfg, nil
}
