package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/stagedimport/internal/adapter"
	"github.com/rpattn/stagedimport/internal/config"
	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/importer"
	"github.com/rpattn/stagedimport/internal/logging"
	"github.com/rpattn/stagedimport/internal/repository"
	"github.com/rpattn/stagedimport/internal/rollback"
	"github.com/rpattn/stagedimport/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "importer",
		Short:         "Staged, reversible bulk import of grade sheets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Format)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", ".", "Directory containing config.yaml")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newIngestCmd(opts),
		newConfirmCmd(opts),
		newExecuteCmd(opts),
		newRevertCmd(opts),
		newShowCmd(opts),
		newListCmd(opts),
		newReportCmd(opts),
	)
	return cmd
}

// app holds the wired services for one command invocation.
type app struct {
	conn     *db.Connection
	files    *storage.BlobStore
	service  *importer.Service
	rollback *rollback.Engine
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	files, err := storage.Open(ctx, cfg.Storage.BucketURL)
	if err != nil {
		conn.Close()
		return nil, err
	}

	store := repository.NewPostgresStore(conn.Pool)
	return &app{
		conn:     conn,
		files:    files,
		service:  importer.NewService(store, adapter.NewDefaultFactory(), files, cfg.Import.Options()),
		rollback: rollback.New(store),
	}, nil
}

func (a *app) Close() {
	if err := a.files.Close(); err != nil {
		logging.FromContext(context.Background()).Warn("failed to close bucket", "error", err)
	}
	a.conn.Close()
}

func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
