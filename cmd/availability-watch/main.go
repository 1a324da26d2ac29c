package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/client"
	"github.com/hackgods/femcare-appointments/internal/events"
	"github.com/hackgods/femcare-appointments/internal/identity"
	"github.com/hackgods/femcare-appointments/internal/logging"
	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
	"github.com/hackgods/femcare-appointments/internal/refresh"
)

type watchOptions struct {
	apiURL   string
	provider string
	date     string
	slot     string
	interval time.Duration
	token    string
	user     string
	redis    string
	logLevel string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "availability-watch",
		Short: "Follow a provider's free slots for one day",
		Long: "Prints the provider-day's morning and afternoon slots and keeps them fresh by polling.\n" +
			"With --slot the slot is held as a selection and reported when someone else books it.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.apiURL, "api", "http://localhost:8080", "Base URL of the api-server")
	f.StringVar(&opts.provider, "provider", "", "Provider ID to watch")
	f.StringVar(&opts.date, "date", time.Now().Format(appointment.DateLayout), "Day to watch (YYYY-MM-DD)")
	f.StringVar(&opts.slot, "slot", "", "Slot to select, as HH:MM-HH:MM")
	f.DurationVar(&opts.interval, "interval", refresh.DefaultInterval, "Poll interval")
	f.StringVar(&opts.token, "token", "", "Bearer token sent with every request")
	f.StringVar(&opts.user, "user", "", "Requester ID sent as X-User-ID when no token is given")
	f.StringVar(&opts.redis, "redis", "", "Redis address for push invalidation (optional)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

func watch(ctx context.Context, opts watchOptions, out io.Writer) error {
	logger := logging.New("availability-watch", "dev", opts.logLevel)

	providerID, err := uuid.Parse(opts.provider)
	if err != nil {
		return fmt.Errorf("--provider must be a UUID: %w", err)
	}
	date, err := time.Parse(appointment.DateLayout, opts.date)
	if err != nil {
		return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}

	var clientOpts []client.Option
	switch {
	case opts.token != "":
		clientOpts = append(clientOpts, client.WithBearerToken(opts.token))
	case opts.user != "":
		userID, err := uuid.Parse(opts.user)
		if err != nil {
			return fmt.Errorf("--user must be a UUID: %w", err)
		}
		clientOpts = append(clientOpts, client.WithPrincipal(identity.Principal{UserID: userID, Role: identity.RoleRequester}))
	}

	w := refresh.NewWatcher(client.New(opts.apiURL, clientOpts...), refresh.Options{
		Interval: opts.interval,
		Logger:   logger,
		OnUpdate: func(u refresh.Update) { printUpdate(out, u) },
	})
	defer w.Close()

	if _, err := w.Select(ctx, providerID, date); err != nil {
		if errors.Is(err, appointment.ErrValidation) {
			return fmt.Errorf("date not bookable: %w", err)
		}
		return err
	}

	if opts.slot != "" {
		slot, err := parseSlot(opts.slot)
		if err != nil {
			return err
		}
		if err := w.Choose(slot); err != nil {
			return fmt.Errorf("select %s: %w", opts.slot, err)
		}
		fmt.Fprintf(out, "holding %s-%s\n", slot.Start, slot.End)
	}

	if opts.redis != "" {
		go subscribe(ctx, opts.redis, providerID, date, w, logger)
	}

	<-ctx.Done()
	return nil
}

func subscribe(ctx context.Context, addr string, providerID uuid.UUID, date time.Time, w *refresh.Watcher, logger zerolog.Logger) {
	rdb, err := redisclient.Connect(ctx, redisclient.Options{Addr: addr})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, relying on polling")
		return
	}
	defer rdb.Close()

	err = events.Subscribe(ctx, rdb, providerID.String(), date.Format(appointment.DateLayout), w.Invalidate)
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("availability subscription ended, relying on polling")
	}
}

func parseSlot(raw string) (appointment.Slot, error) {
	start, end, ok := strings.Cut(raw, "-")
	if !ok {
		return appointment.Slot{}, fmt.Errorf("--slot must look like 09:00-10:00, got %q", raw)
	}
	return appointment.Slot{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}, nil
}

func printUpdate(out io.Writer, u refresh.Update) {
	fmt.Fprintf(out, "%s  %s  %s\n", time.Now().Format("15:04:05"), u.ProviderID, u.Date.Format(appointment.DateLayout))
	fmt.Fprintf(out, "  morning:   %s\n", formatSlots(u.View.Morning))
	fmt.Fprintf(out, "  afternoon: %s\n", formatSlots(u.View.Afternoon))
	if u.Deselected {
		fmt.Fprintln(out, "  selected slot is no longer available, pick another")
	}
}

func formatSlots(slots []appointment.Slot) string {
	if len(slots) == 0 {
		return "(none)"
	}
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = s.Start + "-" + s.End
	}
	return strings.Join(parts, " ")
}
