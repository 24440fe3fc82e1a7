package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	channelimpl "github.com/foxseedlab/disciplinecall/external/channel"
	"github.com/foxseedlab/disciplinecall/external/httpserver"
	repositoryimpl "github.com/foxseedlab/disciplinecall/external/repository"
	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/coach"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/scheduler"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, channel transports and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg := mustLoadConfig()

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	transports, err := do.Invoke[*channelimpl.Transports](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve channel transports: %w", err)
	}
	svc, err := do.Invoke[*coach.Service](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve coach service: %w", err)
	}
	runner, err := do.Invoke[*scheduler.Runner](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve scheduler runner: %w", err)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve session manager: %w", err)
	}
	server, err := do.Invoke[*httpserver.Server](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve http server: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(parent, startupTimeout)
	defer cancelStart()
	slog.Info("startup: connecting channel transports", "channels", cfg.EnabledChannels)
	if err := transports.Start(startCtx); err != nil {
		return err
	}
	defer transports.Shutdown()

	restored, err := svc.Restore(startCtx)
	if err != nil {
		return err
	}
	slog.Info("startup: plans restored", "count", restored)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if transports.Telegram != nil {
		g.Go(func() error { return transports.Telegram.Run(gctx) })
	}

	runErr := g.Wait()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown incomplete", "error", err)
	}
	if repo, err := do.Invoke[repository.Repository](injector); err == nil {
		repo.Close()
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := mustLoadConfig()
			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()
			repo, err := repositoryimpl.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			repo.Close()
			slog.Info("migration completed")
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recent call outcomes of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := mustLoadConfig()
			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()
			repo, err := repositoryimpl.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer repo.Close()

			outcomes, err := repo.ListOutcomesByUser(ctx, userID, limit)
			if err != nil {
				return err
			}
			return printHistory(call.SummarizeHistory(userID, outcomes))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of calls")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printHistory(h call.History) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENDED\tKIND\tATTEMPT\tRESULT\tREASON\tCHANNEL\tTURNS\tDURATION")
	for _, o := range h.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			o.EndedAt.Local().Format(time.DateTime),
			o.Kind,
			o.Attempt,
			o.Classification,
			o.Reason,
			o.Channel,
			o.TurnCount,
			o.Duration().Round(time.Second),
		)
	}
	fmt.Fprintf(w, "\ntotal %d\tcompleted %d\tmissed %d\tfailed %d\tsuccess %.0f%%\n",
		h.Stats.Total, h.Stats.Completed, h.Stats.Missed, h.Stats.Failed, h.Stats.SuccessRate*100)
	return w.Flush()
}
