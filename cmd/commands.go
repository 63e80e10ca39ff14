package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/config"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/handler"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/ledger"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/metrics"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/service"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			override(cmd.Flags(), "port", &cfg.Port)
			override(cmd.Flags(), "store", &cfg.StoreDriver)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringP("port", "p", "", "HTTP listen port (overrides PORT)")
	cmd.Flags().String("store", "", "Record store: postgres, sqlite or memory (overrides STORE_DRIVER)")
	return cmd
}

// override replaces *dst with the named flag's value when it was set explicitly.
func override(flags *pflag.FlagSet, name string, dst *string) {
	if !flags.Changed(name) {
		return
	}
	if v, err := flags.GetString(name); err == nil {
		*dst = v
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log, flush, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer flush()

	// ── 1. Open the record store ─────────────────────────────────────────
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	clk := clock.NewSystem()
	led := ledger.New(be.store, cfg.Admission.ReservePendingSlots, cfg.Admission.LedgerCacheTTL)
	defer led.Close()

	admission := service.NewAdmissionController(be.store, led,
		service.WithClock(clk),
		service.WithLogger(log.WithName("admission")),
		service.WithAutoConfirm(cfg.Admission.AutoConfirm),
		service.WithLockTimeout(cfg.Admission.LockTimeout),
		service.WithMaxAttempts(cfg.Admission.MaxAttempts),
		service.WithRetryBackoff(cfg.Admission.RetryBackoff),
	)
	events := service.NewEventService(be.store, admission)
	query := service.NewQueryService(be.store, led, clk)
	eventHandler := handler.NewEventHandler(admission, events, query)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// ── 3. Build the router ──────────────────────────────────────────────
	router := handler.NewRouter(eventHandler, handler.NewAuthenticator(cfg.JWTSecret), log.WithName("http"),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "store", cfg.StoreDriver,
			"reserve_pending_slots", cfg.Admission.ReservePendingSlots, "auto_confirm", cfg.Admission.AutoConfirm)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Block until SIGINT or SIGTERM.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCtx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, flush, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer flush()

			be, err := openBackend(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			be.Close()
			fmt.Println("✓ migrations applied")
			return nil
		},
	}
}

func rosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster <eventId>",
		Short: "Print an event's capacity, status counts and registrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg, logr.Discard())
			if err != nil {
				return err
			}
			defer be.Close()

			led := ledger.New(be.store, cfg.Admission.ReservePendingSlots, 0)
			query := service.NewQueryService(be.store, led, clock.NewSystem())
			return printRoster(cmd.Context(), query, args[0])
		},
	}
}

func printRoster(ctx context.Context, query *service.QueryService, eventID string) error {
	avail, err := query.Availability(ctx, eventID)
	if err != nil {
		return err
	}
	event, err := query.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	counts, err := query.CountByStatus(ctx, eventID)
	if err != nil {
		return err
	}
	regs, err := query.ListByEvent(ctx, eventID, nil)
	if err != nil {
		return err
	}

	slots := color.New(color.FgHiGreen)
	if !avail.Available {
		slots = color.New(color.FgRed)
	}
	fmt.Printf("%s  %s  [%s]\n", color.New(color.Bold).Sprint(event.Title), event.ScheduledDate.Format(time.DateOnly), event.Status)
	fmt.Printf("slots: %s\n", slots.Sprintf("%d/%d (%d remaining)", avail.ActiveCount, avail.Capacity, avail.Remaining))
	for _, s := range model.AllStatuses {
		fmt.Printf("  %-10s %d\n", s, counts[s])
	}
	if len(regs) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGISTRATION\tVOLUNTEER\tSTATUS\tREGISTERED")
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.VolunteerID, statusColor(r.Status).Sprint(r.Status), r.RegisteredAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func statusColor(s model.RegistrationStatus) *color.Color {
	switch s {
	case model.StatusConfirmed, model.StatusAttended:
		return color.New(color.FgHiGreen)
	case model.StatusPending:
		return color.New(color.FgYellow)
	case model.StatusNoShow:
		return color.New(color.FgRed)
	}
	return color.New(color.FgHiBlack)
}

func volunteerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volunteer",
		Short: "Manage the volunteer directory",
	}
	add := &cobra.Command{
		Use:   "add <volunteerId>",
		Short: "Add a volunteer to the directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg, logr.Discard())
			if err != nil {
				return err
			}
			defer be.Close()

			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			if err := be.store.CreateVolunteer(cmd.Context(), model.Volunteer{ID: args[0], Name: name, Email: email}); err != nil {
				return err
			}
			fmt.Printf("✓ added volunteer %s\n", args[0])
			return nil
		},
	}
	add.Flags().String("name", "", "Display name")
	add.Flags().String("email", "", "Contact email")
	cmd.AddCommand(add)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <volunteerId>",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			admin, _ := cmd.Flags().GetBool("admin")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			role := ""
			if admin {
				role = handler.RoleAdmin
			}
			tok, err := handler.NewAuthenticator(cfg.JWTSecret).Issue(args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Bool("admin", false, "Grant the admin role")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
