package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"ballotbox/config"
	"ballotbox/encryption"
	"ballotbox/service"
	"ballotbox/storage"
)

const programName = "ballotbox"

type globalFlags struct {
	debug      bool
	configFile string
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: debug,
		Level:     logLevel,
	}))
}

func loggerFrom(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	return newLogger(cmd.ErrOrStderr(), debug).With("component", programName)
}

func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("no config found in context")
	}
	return cfg, nil
}

// election bundles an open service with the store it must release.
type election struct {
	*service.ElectionService
	store storage.DocumentStore
}

func (e *election) Close() error { return e.store.Close() }

func openStore(cfg *config.Config, logger *slog.Logger) (storage.DocumentStore, *encryption.CryptoService, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	crypto, err := encryption.NewCryptoService(cfg.PasswordScheme, cfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(cfg.StorageBackend, cfg.DataDir, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, crypto, nil
}

func openElection(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*election, error) {
	store, crypto, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := service.NewElectionService(ctx, store, crypto, service.Options{
		MinVoterAge:           cfg.MinVoterAge,
		MinCandidateAge:       cfg.MinCandidateAge,
		ProvisionDefaultAdmin: cfg.ProvisionDefaultAdmin,
		ExportDir:             cfg.ExportDir(),
		ExportKeep:            cfg.ExportKeep,
		Logger:                logger,
		PromRegistry:          reg,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &election{ElectionService: svc, store: store}, nil
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Voter registry and ballot ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(flags.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cmd.SetContext(config.WithContext(cmd.Context(), cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&flags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&flags.configFile, "config", "", "path to config file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(registerCommand())
	rootCmd.AddCommand(voteCommand())
	rootCmd.AddCommand(resultsCommand())
	rootCmd.AddCommand(resetCommand())
	rootCmd.AddCommand(exportCommand())
	rootCmd.AddCommand(adminCommand())
	return rootCmd
}

func main() {
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		slog.Info(fmt.Sprintf(format, v...), "component", programName)
	}))
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
