package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abusi/clhorde/internal/config"
	"github.com/abusi/clhorde/internal/ipc"
	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/orchestrator"
	"github.com/abusi/clhorde/internal/store"
	"github.com/abusi/clhorde/internal/store/index"
	"github.com/abusi/clhorde/internal/tracing"
	"github.com/abusi/clhorde/internal/worker/ptyworker"
	"github.com/abusi/clhorde/internal/worker/streamworker"
	"github.com/abusi/clhorde/internal/worktree"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the control-plane daemon in the foreground",
	Long: `Run the daemon that queues prompts and dispatches them to a bounded
pool of claude worker processes, listening on the Unix-domain control
socket described in the on-disk layout for clients to connect to.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cleanup, err := initDebugLogging("clhorded")
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()

	promptsDir := config.PromptsDir(cfg.DataDir)
	s, err := store.New(promptsDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	idx, err := index.Open(config.IndexPath(cfg.DataDir), s.LoadAll)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer idx.Close()

	tracer, err := tracing.NewProvider(cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("starting tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	orch, err := orchestrator.New(orchestrator.Config{
		Store:             s,
		Index:             idx,
		Worktree:          worktree.New(),
		Tracer:            tracer,
		SpawnPTY:          ptyworker.Spawn,
		SpawnStream:       streamworker.Spawn,
		MaxWorkers:        cfg.MaxWorkers,
		RingCapacity:      cfg.RingBufferBytes,
		AutoCleanWorktree: cfg.Worktree.AutoClean,
		MaxTerminalKept:   cfg.Retention.MaxTerminalPrompts,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	go func() {
		if err := s.Watch(ctx, orch.AdoptExternalPrompt); err != nil {
			log.ErrorErr(log.CatStore, "prompt directory watch stopped", err)
		}
	}()

	server := ipc.New(orch, config.SocketPath(cfg.DataDir), config.PIDPath(cfg.DataDir))
	if err := server.Listen(); err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	log.Info(log.CatIPC, "clhorded ready", "socket", config.SocketPath(cfg.DataDir), "max_workers", cfg.MaxWorkers)

	select {
	case sig := <-sigCh:
		log.Info(log.CatIPC, "received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.ErrorErr(log.CatIPC, "accept loop error", err)
		}
	}

	server.Shutdown()
	return nil
}
