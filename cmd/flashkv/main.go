// Command flashkv is the process entry point: it parses CLI flags, builds
// a validated config.Config, wires the engine and the role-appropriate
// façades, and runs until signaled to shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flashkv/flashkv/internal/config"
	"github.com/flashkv/flashkv/internal/engine"
	"github.com/flashkv/flashkv/internal/httpapi"
	"github.com/flashkv/flashkv/internal/logging"
	"github.com/flashkv/flashkv/internal/replication"
	"github.com/flashkv/flashkv/internal/tcpapi"
	"github.com/flashkv/flashkv/internal/wal"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	var roleFlag, syncPolicyFlag string
	var devLog bool

	root := &cobra.Command{
		Use:   "flashkv",
		Short: "flashkv is a single-node LSM key-value store with optional primary/backup replication",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg.Role = config.Role(roleFlag)
			cfg.SyncPolicy, err = wal.ParseSyncPolicy(syncPolicyFlag)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg, devLog)
		},
	}

	flags := root.Flags()
	flags.StringVar(&roleFlag, "role", string(config.RoleStandalone), "standalone|primary|backup")
	flags.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP façade port")
	flags.IntVar(&cfg.TCPPort, "tcp-port", cfg.TCPPort, "TCP ingestion façade port")
	flags.IntVar(&cfg.ReplicationPort, "replication-port", cfg.ReplicationPort, "backup: port to listen for the primary")
	flags.StringVar(&cfg.BackupHost, "backup-host", cfg.BackupHost, "primary: backup host to replicate to")
	flags.IntVar(&cfg.BackupPort, "backup-port", cfg.BackupPort, "primary: backup port to replicate to")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "on-disk data directory")
	flags.StringVar(&syncPolicyFlag, "sync-policy", "sync", "sync|interval|none")
	flags.IntVar(&cfg.MemTableSizeLimit, "memtable-size", cfg.MemTableSizeLimit, "MemTable flush threshold in bytes")
	flags.BoolVar(&devLog, "dev-log", false, "use human-readable development logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flashkv:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

// exitError carries the exit code spec.md §6 assigns to a failure past the
// point where initialization validation alone could catch it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func serve(cfg *config.Config, devLog bool) error {
	logger, err := logging.New(devLog)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	var primaryClient *replication.PrimaryClient
	var backupServer *replication.BackupServer
	var applier *engine.Engine

	switch cfg.Role {
	case config.RolePrimary:
		primaryClient = replication.NewPrimaryClient(
			fmt.Sprintf("%s:%d", cfg.BackupHost, cfg.BackupPort),
			replication.NewPrimaryID(),
			cfg.ReplicationTimeout, cfg.ReplicationMinBackoff, cfg.ReplicationMaxBackoff,
			cfg.ReplicationWindow, logger.Named("replication.client"),
		)
	}

	eng, err := engine.Open(cfg, logger.Named("engine"), replicatorFor(primaryClient))
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("open engine: %w", err)}
	}
	applier = eng

	if cfg.Role == config.RoleBackup {
		backupServer, err = replication.NewBackupServer(
			fmt.Sprintf(":%d", cfg.ReplicationPort), applier, logger.Named("replication.server"),
		)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("start replication server: %w", err)}
		}
	}

	var status replication.StatusProvider
	switch {
	case primaryClient != nil:
		status = primaryClient
	case backupServer != nil:
		status = backupServer
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.New(eng, status, logger.Named("httpapi")).Handler(),
	}

	tcpSrv, err := tcpapi.New(fmt.Sprintf(":%d", cfg.TCPPort), eng, logger.Named("tcpapi"))
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("start tcp façade: %w", err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http façade listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	<-gctx.Done()
	logger.Info("shutting down")

	_ = tcpSrv.Close()
	if primaryClient != nil {
		_ = primaryClient.Close()
	}
	if backupServer != nil {
		_ = backupServer.Close()
	}
	if err := eng.Close(); err != nil {
		logger.Error("engine close failed", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		return &exitError{code: 2, err: err}
	}
	return nil
}

func replicatorFor(c *replication.PrimaryClient) engine.Replicator {
	if c == nil {
		return nil
	}
	return c
}
