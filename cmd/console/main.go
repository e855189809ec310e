package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"resortwala/internal/config"
	"resortwala/internal/database"
	"resortwala/internal/export"
	"resortwala/internal/google"
	"resortwala/internal/logging"
	"resortwala/internal/notify"
	"resortwala/internal/service"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "console").Logger()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(&logger, "database"))
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newConsole(ctx, cfg, db, os.Stdin, os.Stdout, &logger)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return exitCode(c.dispatch(ctx, args))
}

// newConsole wires the services used by the commands. Integrations without
// configuration stay nil.
func newConsole(ctx context.Context, cfg *config.Config, db *database.DB, in io.Reader, out io.Writer, logger *zerolog.Logger) (*console, error) {
	calendar := service.NewCalendarService(db, db, nil, cfg.Booking, logging.Component(logger, "calendar"))
	bookings := service.NewBookingService(db, db, db, calendar, nil, nil, logging.Component(logger, "booking"))

	channels, err := notify.ChannelsFromConfig(cfg.Notifications, nil)
	if err != nil {
		return nil, fmt.Errorf("notification channels: %w", err)
	}
	opts := notify.OptionsFromConfig(cfg.Notifications)
	opts.Async = false

	c := &console{
		db:         db,
		backup:     database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")),
		bookings:   bookings,
		calendar:   calendar,
		ratings:    service.NewRatingService(db, db, logging.Component(logger, "rating")),
		dispatcher: notify.NewDispatcher(db, db, db, opts, logging.Component(logger, "notify"), channels...),
		exporter:   export.NewExporter(db, db, cfg.Exports.Path, logging.Component(logger, "export")),
		in:         in,
		out:        out,
		logger:     logger,
	}

	if cfg.Google.GoogleCredentialsFile != "" && cfg.Google.BookingSpreadSheetID != "" {
		sheets, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed")
		} else {
			c.sheets = sheets
		}
	}
	return c, nil
}
