package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dino16m/chainvote-server/internal/api"
	"github.com/dino16m/chainvote-server/internal/config"
	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/identity"
	"github.com/dino16m/chainvote-server/internal/service"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	envFile string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "chainvote",
		Short:        "Chainvote election server",
		Long:         "Backend for a single election: voter accounts, Aadhaar and wallet verification, one vote per voter and live results.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newResultsCommand(opts))
	cmd.AddCommand(newCheckSealsCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := setup(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, db)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and the admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := setup(opts)
			if err != nil {
				return err
			}
			store := data.NewStore(db)
			if err := service.NewAccountService(store, logger).EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
				return err
			}
			logger.WithField("database", cfg.DatabaseURL).Info("database migrated")
			return nil
		},
	}
}

func newResultsCommand(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print the current tally",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(format) {
				return fmt.Errorf("invalid format %q: must be one of %v", format, validFormats)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup(opts)
			if err != nil {
				return err
			}
			election := service.NewElectionService(data.NewStore(db), service.NewLiveHub(logger), logger)
			results, err := election.Results()
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	return cmd
}

func newCheckSealsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-seals",
		Short: "Confirm every stored Aadhaar seal opens with the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := setup(opts)
			if err != nil {
				return err
			}
			if cfg.SealKey == "" {
				return errors.New("IDENTITY_SEAL_KEY must be set to check seals")
			}
			seal, err := sealer(cfg, logger)
			if err != nil {
				return err
			}
			verification := service.NewVerificationService(data.NewStore(db), seal, service.VerificationConfig{}, logger)
			report, err := verification.CheckSeals()
			if err != nil {
				return err
			}
			return printSealReport(cmd.OutOrStdout(), report)
		},
	}
}

func printSealReport(w io.Writer, report *service.SealReport) error {
	fmt.Fprintf(w, "Checked: %d\nBroken: %d\n", report.Checked, report.Broken)
	for _, id := range report.BrokenUsers {
		fmt.Fprintf(w, "  %s\n", id)
	}
	if report.Broken > 0 {
		return fmt.Errorf("%d sealed aadhaar numbers do not open with the configured key", report.Broken)
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

func printResults(w io.Writer, results *service.Results, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	fmt.Fprintf(w, "Election: %s\nTotal votes: %d\n\n", results.Status, results.TotalVotes)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPARTY\tVOTES\tSHARE")
	for _, c := range results.Candidates {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.2f%%\n", c.ID, c.Name, c.Party, c.VoteCount, c.Percentage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if results.Winner != nil {
		label := "Winner"
		if results.Tied {
			label = "Winner (tie, lowest id)"
		}
		fmt.Fprintf(w, "\n%s: %s (%s)\n", label, results.Winner.Name, results.Winner.Party)
	}
	return nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func openDB(url string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(url), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	if err := data.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func setup(opts *rootOptions) (config.Config, *logrus.Logger, *gorm.DB, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger := newLogger(cfg)
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, db, nil
}

func sealer(cfg config.Config, logger *logrus.Logger) (*identity.Sealer, error) {
	if cfg.SealKey == "" {
		logger.Warn("IDENTITY_SEAL_KEY is not set, using an ephemeral key; sealed Aadhaar numbers will not survive a restart")
		key, err := identity.GenerateKey()
		if err != nil {
			return nil, err
		}
		return identity.NewSealer(key)
	}
	key, err := identity.ParseKey(cfg.SealKey)
	if err != nil {
		return nil, fmt.Errorf("invalid IDENTITY_SEAL_KEY: %w", err)
	}
	return identity.NewSealer(key)
}

func jwtSecret(cfg config.Config, logger *logrus.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	logger.Warn("AUTH_JWT_SECRET is not set, using an ephemeral secret")
	return api.GenerateSecret(32)
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger, db *gorm.DB) error {
	store := data.NewStore(db)

	accounts := service.NewAccountService(store, logger)
	if err := accounts.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return err
	}
	if cfg.AdminPassword == config.DefaultAdminPassword {
		logger.Warn("admin account uses the default password, set ADMIN_PASSWORD")
	}

	seal, err := sealer(cfg, logger)
	if err != nil {
		return err
	}
	secret, err := jwtSecret(cfg, logger)
	if err != nil {
		return err
	}

	verification := service.NewVerificationService(store, seal, service.VerificationConfig{
		MaxDocumentBytes: cfg.MaxDocumentBytes,
		RequireSignature: cfg.RequireSignature,
		ChallengeTTL:     cfg.ChallengeTTL,
	}, logger)
	election := service.NewElectionService(store, service.NewLiveHub(logger), logger)
	sessions := api.NewSessionService(secret, cfg.TokenTTL)

	ctrl := api.NewCtrl(accounts, verification, election, sessions, logger, api.Options{
		CORSOrigin:       cfg.CORSOrigin,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           ctrl.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// live feeds are hijacked and ignore Shutdown, so they follow ctx
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.WithError(err).Error("server exited")
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
