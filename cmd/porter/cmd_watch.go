package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"htmlporter/internal/reactor"
)

// watchCmd runs the change reactor
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Propagate template edits and deletions as they happen",
	Long: `Watches every registered template. Saving a template rewrites its block in
all targets; deleting a template strips its block from all targets and drops
it from the registry. Templates registered while watching are picked up from
the registry file.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := reactor.New(a.store, a.engine, a.cfg.GetDebounce())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	a.svc.SetArmer(r)

	if err := r.Start(ctx); err != nil {
		r.Stop()
		a.notify.Error(fmt.Sprintf("Could not start watching: %v", err))
		return err
	}
	a.notify.Info(fmt.Sprintf("Watching %d templates. Press Ctrl+C to stop.", len(r.Watched())))

	<-ctx.Done()
	r.Stop()

	stats := r.Stats()
	logger.Sugar().Infow("watch stopped",
		"modified", stats.Modified, "deleted", stats.Deleted, "errors", stats.Errors)
	return nil
}
