package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/internal/bus/storage"
	"github.com/archiflow-dev/archiflow/internal/config"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker service with durable AOL storage",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	dir := resolveWorkDir()
	env := config.LoadEnv()
	hierarchy := config.NewHierarchy(dir)
	snapshot, err := hierarchy.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	slog.Info("serve.config_loaded", "sources", len(snapshot.Sources),
		"auto_refine", env.AutoRefinePrompts)

	dataDir := settingString(snapshot.Settings, "broker", "data_dir")
	if dataDir == "" {
		dataDir = filepath.Join(dir, config.DirName, "broker")
	}
	schedule := settingString(snapshot.Settings, "broker", "compaction_schedule")

	backend := storage.NewAOLBackend(dataDir)
	b, err := broker.New(broker.WithStorage(backend))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init broker: %v\n", err)
		os.Exit(1)
	}
	janitor, err := broker.NewJanitor(backend, schedule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init janitor: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error { return hierarchy.Watch(gctx) })

	slog.Info("serve.running", "data_dir", dataDir)
	<-gctx.Done()
	b.Stop(5 * time.Second)
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Warn("serve.shutdown", "error", err)
	}
}

// settingString walks a nested settings map for a string leaf.
func settingString(settings map[string]any, path ...string) string {
	current := settings
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := value.(string)
			return s
		}
		current, ok = value.(map[string]any)
		if !ok {
			return ""
		}
	}
	return ""
}
