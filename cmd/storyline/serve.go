package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/server"
	"github.com/abelbrown/storyline/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Rebuild the index on a schedule and serve threads over HTTP",
	Long: `Open the document store, build the index immediately and then on
index.schedule, and serve the HTTP API on server.addr until interrupted.

Examples:
  storyline serve
  storyline serve --addr :9000 --schedule "@every 1m"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("schedule", "", "rebuild schedule (overrides index.schedule)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if spec, _ := cmd.Flags().GetString("schedule"); spec != "" {
		cfg.Index.Schedule = spec
	}
	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, ring, err := openEvents(cfg, cfg.Server.EventBuffer)
	if err != nil {
		return err
	}
	defer events.Close()

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	builder, err := newBuilder(cfg, st, events)
	if err != nil {
		return err
	}
	holder := &coord.Holder{}
	coordinator, err := coord.NewCoordinator(builder, holder, cfg.Index.Schedule, events)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Holder:      holder,
		Store:       st,
		Ranker:      newRanker(cfg),
		Events:      events,
		Ring:        ring,
		ThreadLimit: cfg.Ranker.ThreadLimit,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	})

	events.Info(otel.KindStartup, otel.CompMain, cfg.Server.Addr)
	logging.Info("storyline starting", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend, "schedule", cfg.Index.Schedule)

	coordinator.Start(ctx)
	runErr := srv.Run(ctx, cfg.Server.Addr, shutdownTimeout)

	// Run also returns on a listen error; stop the coordinator either way.
	stop()
	coordinator.Wait()

	events.Info(otel.KindShutdown, otel.CompMain, "")
	logging.Info("storyline stopped")
	return runErr
}

// buildOnce runs a single build and publishes it to a fresh holder.
func buildOnce(ctx context.Context, builder coord.IndexBuilder, events *otel.Logger) (*coord.Holder, error) {
	holder := &coord.Holder{}
	coordinator, err := coord.NewCoordinator(builder, holder, "", events)
	if err != nil {
		return nil, err
	}
	if err := coordinator.RunNow(ctx); err != nil {
		return nil, err
	}
	return holder, nil
}
