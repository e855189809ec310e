package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"resortwala/internal/database"
	"resortwala/internal/domain"
	"resortwala/internal/export"
	"resortwala/internal/models"
	"resortwala/internal/notify"
	"resortwala/internal/service"
)

const sheetsCalendarDays = 60

var errUnknownCommand = errors.New("unknown command")

// SheetsMirror is the Google Sheets side of sheets-sync.
type SheetsMirror interface {
	ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error
	UpdateCalendarSheet(ctx context.Context, r models.DateRange, properties []*models.Property, bookings []*models.Booking) error
}

// console holds what the subcommands need. Fields that depend on optional
// integrations may be nil.
type console struct {
	db         *database.DB
	backup     *database.BackupService
	bookings   *service.BookingService
	calendar   *service.CalendarService
	ratings    *service.RatingService
	dispatcher *notify.Dispatcher
	exporter   *export.Exporter
	sheets     SheetsMirror

	in     io.Reader
	out    io.Writer
	logger *zerolog.Logger
}

type command struct {
	name    string
	summary string
	run     func(c *console, ctx context.Context, args []string) error
}

var commands = []command{
	{"backup", "snapshot the database into the backup directory", (*console).runBackup},
	{"rating-sync", "recompute combined property ratings", (*console).runRatingSync},
	{"notify-customers", "broadcast a message to every customer (--title --body)", (*console).runNotifyCustomers},
	{"purge-bookings", "delete all bookings, locks, payments and reviews (--force)", (*console).runPurgeBookings},
	{"expire-holds", "release expired holds and reject their bookings", (*console).runExpireHolds},
	{"complete-stays", "mark finished confirmed stays as completed", (*console).runCompleteStays},
	{"export", "write an XLSX export (--from --to)", (*console).runExport},
	{"sheets-sync", "rewrite the Google Sheets mirror", (*console).runSheetsSync},
	{"sheets-requeue", "list failed Sheets sync tasks and queue them again", (*console).runSheetsRequeue},
}

func (c *console) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.usage()
		return errUnknownCommand
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			c.logger.Info().Str("command", cmd.name).Strs("args", args[1:]).Msg("Running console command")
			return cmd.run(c, ctx, args[1:])
		}
	}
	c.usage()
	return fmt.Errorf("%w: %s", errUnknownCommand, args[0])
}

func (c *console) usage() {
	fmt.Fprintln(c.out, "Usage: console <command> [flags]")
	fmt.Fprintln(c.out)
	names := make([]string, 0, len(commands))
	byName := make(map[string]string, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.name)
		byName[cmd.name] = cmd.summary
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(c.out, "  %-18s %s\n", n, byName[n])
	}
}

func (c *console) info(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(c.out, format+"\n", args...)
}

func (c *console) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(c.out, format+"\n", args...)
}

func (c *console) fail(format string, args ...any) {
	color.New(color.FgRed).Fprintf(c.out, format+"\n", args...)
}

func (c *console) runBackup(ctx context.Context, _ []string) error {
	record, err := c.backup.PerformBackup(ctx)
	if err != nil {
		c.fail("Backup failed: %v", err)
		return err
	}
	removed := c.backup.CleanupOldBackups()
	c.info("Backup %s written (%d bytes), %d old backups removed.", record.FileName, record.SizeBytes, removed)
	return nil
}

func (c *console) runRatingSync(ctx context.Context, _ []string) error {
	res, err := c.ratings.SyncRatings(ctx)
	if res != nil {
		c.info("Updated ratings for %d properties.", res.Updated)
		if res.Failed > 0 {
			c.warn("%d properties failed.", res.Failed)
		}
	}
	if err != nil {
		c.fail("Rating sync finished with errors: %v", err)
	}
	return err
}

func (c *console) runNotifyCustomers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("notify-customers", flag.ContinueOnError)
	fs.SetOutput(c.out)
	title := fs.String("title", "", "message title")
	body := fs.String("body", "", "message body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*title) == "" || strings.TrimSpace(*body) == "" {
		c.fail("--title and --body are required")
		return domain.ValidationErrors{{Field: "title", Message: "title and body are required"}}
	}

	sent, failed, err := c.dispatcher.Broadcast(ctx, *title, *body)
	c.info("Sent %d notifications.", sent)
	if failed > 0 {
		c.warn("%d notifications failed.", failed)
	}
	return err
}

func (c *console) runPurgeBookings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge-bookings", flag.ContinueOnError)
	fs.SetOutput(c.out)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *force {
		c.info("Force mode enabled.")
	} else if !c.confirm("This will delete ALL bookings with their locks, payments and reviews. Properties and frozen dates stay. Continue?") {
		c.warn("Aborted.")
		return nil
	}

	c.info("Starting purge...")
	res, err := c.db.PurgeBookings(ctx)
	if err != nil {
		c.fail("Purge failed: %v", err)
		return err
	}
	c.info("Deleted %d bookings, %d locks, %d payments, %d reviews.", res.Bookings, res.Locks, res.Payments, res.Reviews)
	return nil
}

func (c *console) confirm(question string) bool {
	color.New(color.FgCyan).Fprintf(c.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *console) runExpireHolds(ctx context.Context, _ []string) error {
	n, err := c.bookings.ExpireHolds(ctx)
	if err != nil {
		c.fail("Expire holds failed: %v", err)
		return err
	}
	c.info("Rejected %d bookings with expired holds.", n)
	return nil
}

func (c *console) runCompleteStays(ctx context.Context, _ []string) error {
	n, err := c.bookings.CompleteFinishedStays(ctx, c.calendar.Today())
	if err != nil {
		c.fail("Complete stays failed: %v", err)
		return err
	}
	c.info("Completed %d stays.", n)
	return nil
}

func (c *console) runExport(ctx context.Context, args []string) error {
	today := c.calendar.Today()
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(c.out)
	from := fs.String("from", today.Format(models.DateLayout), "first day, YYYY-MM-DD")
	to := fs.String("to", today.AddDate(0, 1, 0).Format(models.DateLayout), "day after the last, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := service.ParseRange(*from, *to)
	if err != nil {
		c.fail("Invalid period: %v", err)
		return err
	}
	path, err := c.exporter.SaveToFile(ctx, r.Start, r.End)
	if err != nil {
		c.fail("Export failed: %v", err)
		return err
	}
	c.info("Export written to %s", path)
	return nil
}

func (c *console) runSheetsSync(ctx context.Context, _ []string) error {
	if c.sheets == nil {
		c.fail("Google Sheets is not configured.")
		return errors.New("google sheets is not configured")
	}

	all, err := c.db.SearchBookings(ctx, models.BookingFilter{})
	if err != nil {
		return err
	}
	if err := c.sheets.ReplaceBookingsSheet(ctx, all); err != nil {
		c.fail("Bookings sheet update failed: %v", err)
		return err
	}

	start := c.calendar.Today()
	r := models.DateRange{Start: start, End: start.AddDate(0, 0, sheetsCalendarDays)}
	properties, err := c.db.GetActiveProperties(ctx)
	if err != nil {
		return err
	}
	upcoming, err := c.db.GetBookingsByDateRange(ctx, r.Start, r.End)
	if err != nil {
		return err
	}
	if err := c.sheets.UpdateCalendarSheet(ctx, r, properties, upcoming); err != nil {
		c.fail("Calendar sheet update failed: %v", err)
		return err
	}

	c.info("Synced %d bookings and a %d-day calendar for %d properties.", len(all), sheetsCalendarDays, len(properties))
	return nil
}

func (c *console) runSheetsRequeue(ctx context.Context, _ []string) error {
	failed, err := c.db.GetFailedSyncTasks(ctx)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		c.info("No failed sync tasks.")
		return nil
	}
	for _, task := range failed {
		reason := ""
		if task.LastError != nil {
			reason = *task.LastError
		}
		c.warn("#%d %s booking %d after %d retries: %s", task.ID, task.TaskType, task.BookingID, task.RetryCount, reason)
	}

	n, err := c.db.RequeueFailedSyncTasks(ctx)
	if err != nil {
		return err
	}
	c.info("Requeued %d sync tasks.", n)
	return nil
}

// exitCode maps a command error to a process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUnknownCommand), errors.Is(err, flag.ErrHelp), errors.Is(err, domain.ErrValidation):
		return 2
	default:
		return 1
	}
}
