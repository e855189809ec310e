package notify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
)

// Notification names stored in templates.
const (
	NewRequestVendor     = "new_request_vendor"
	NewRequestAdmin      = "new_request_admin"
	ConfirmedCustomer    = "confirmed_customer"
	StatusUpdateCustomer = "status_update_customer"
	CustomerBroadcast    = "customer_broadcast"
)

// Result of a dispatch attempt.
type Result string

const (
	ResultSent    Result = models.NotificationSent
	ResultQueued  Result = models.NotificationQueued
	ResultFailed  Result = models.NotificationFailed
	ResultSkipped Result = "skipped"
)

// NotificationsForEvent maps a booking event to the notifications it triggers.
func NotificationsForEvent(eventType string) []string {
	switch eventType {
	case events.EventBookingCreated:
		return []string{NewRequestVendor, NewRequestAdmin}
	case events.EventBookingConfirmed:
		return []string{ConfirmedCustomer}
	default:
		return []string{StatusUpdateCustomer}
	}
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{var}} and {{ var }} placeholders. Unknown variables
// are left as is.
func Render(tpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// BookingVars exposes booking fields to templates.
func BookingVars(b *models.Booking) map[string]string {
	return map[string]string{
		"booking_id":      strconv.FormatInt(b.ID, 10),
		"property_id":     strconv.FormatInt(b.PropertyID, 10),
		"property_name":   b.PropertyName,
		"customer_name":   b.CustomerName,
		"customer_email":  b.CustomerEmail,
		"customer_mobile": b.CustomerMobile,
		"check_in":        b.CheckIn.Format(models.DateLayout),
		"check_out":       b.CheckOut.Format(models.DateLayout),
		"nights":          strconv.Itoa(b.Nights()),
		"guest_count":     strconv.Itoa(b.GuestCount),
		"status":          b.Status,
		"total_amount":    b.TotalAmount.StringFixed(2),
	}
}

// drainTimeout bounds delivery of queued jobs at shutdown.
const drainTimeout = 10 * time.Second

type job struct {
	name    string
	booking *models.Booking
}

// Dispatcher renders templates and sends them through the configured
// channels. Delivery errors are logged, recorded and never retried.
type Dispatcher struct {
	templates   domain.NotificationRepository
	bookings    domain.BookingRepository
	properties  domain.PropertyRepository
	channels    map[string]Channel
	adminEmail  string
	adminChatID int64
	async       bool
	queue       chan job
	wg          sync.WaitGroup
	logger      *zerolog.Logger
}

type Options struct {
	AdminEmail  string
	AdminChatID int64
	Async       bool
	QueueSize   int
}

func NewDispatcher(
	templates domain.NotificationRepository,
	bookings domain.BookingRepository,
	properties domain.PropertyRepository,
	opts Options,
	logger *zerolog.Logger,
	channels ...Channel,
) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = models.NotificationQueueSize
	}
	d := &Dispatcher{
		templates:   templates,
		bookings:    bookings,
		properties:  properties,
		channels:    make(map[string]Channel, len(channels)),
		adminEmail:  opts.AdminEmail,
		adminChatID: opts.AdminChatID,
		async:       opts.Async,
		queue:       make(chan job, opts.QueueSize),
		logger:      logger,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	return d
}

// Attach subscribes the dispatcher to booking lifecycle events.
func (d *Dispatcher) Attach(bus *events.EventBus) {
	bus.SubscribeMany(events.BookingEvents, d.HandleEvent)
}

// HandleEvent turns a booking event into notifications.
func (d *Dispatcher) HandleEvent(e *events.Event) error {
	var payload events.BookingEventPayload
	if err := e.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	ctx := context.Background()
	b, err := d.bookings.GetBooking(ctx, payload.BookingID)
	if err != nil {
		return err
	}

	for _, name := range NotificationsForEvent(e.Type) {
		if d.async {
			d.Enqueue(name, b)
			continue
		}
		if _, err := d.Dispatch(ctx, name, b); err != nil {
			d.logger.Warn().Err(err).Str("notification", name).Int64("booking_id", b.ID).Msg("Notification failed")
		}
	}
	return nil
}

// Enqueue hands the notification to the background worker. A full queue
// drops it.
func (d *Dispatcher) Enqueue(name string, b *models.Booking) Result {
	snapshot := *b
	select {
	case d.queue <- job{name: name, booking: &snapshot}:
		metrics.IncNotification("queue", string(ResultQueued))
		return ResultQueued
	default:
		d.logger.Warn().Str("notification", name).Int64("booking_id", b.ID).Msg("Notification queue full, dropping")
		metrics.IncNotification("queue", string(ResultFailed))
		return ResultFailed
	}
}

// Start runs the queue worker in the background. Jobs still queued when ctx
// ends are sent before the worker exits, within drainTimeout.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drain(ctx)
			return
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-d.queue:
			d.deliver(ctx, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	if _, err := d.Dispatch(ctx, j.name, j.booking); err != nil {
		d.logger.Warn().Err(err).Str("notification", j.name).Int64("booking_id", j.booking.ID).Msg("Queued notification failed")
	}
}

// Wait blocks until the worker started by Start has drained and exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch sends every active template of the notification to its
// recipients. The returned error aggregates channel failures.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, b *models.Booking) (Result, error) {
	templates, err := d.templates.GetTemplatesForEvent(ctx, name)
	if err != nil {
		return ResultFailed, err
	}
	if len(templates) == 0 {
		d.logger.Debug().Str("notification", name).Msg("No active templates")
		return ResultSkipped, nil
	}

	recipients := d.recipients(ctx, name, b)
	vars := BookingVars(b)

	var errs error
	attempts := 0
	for _, tpl := range templates {
		to := recipients[tpl.Channel]
		if to == "" {
			continue
		}
		attempts++
		msg := Message{
			Recipient: to,
			Subject:   Render(tpl.Subject, vars),
			Body:      Render(tpl.Body, vars),
		}
		errs = multierr.Append(errs, d.send(ctx, tpl.Channel, name, b.ID, msg))
	}

	switch {
	case attempts == 0:
		return ResultSkipped, nil
	case errs != nil:
		return ResultFailed, errs
	default:
		return ResultSent, nil
	}
}

// Broadcast sends a title and body to every customer contact found in
// bookings, by email and SMS.
func (d *Dispatcher) Broadcast(ctx context.Context, title, body string) (sent, failed int, err error) {
	contacts, err := d.bookings.GetCustomerContacts(ctx)
	if err != nil {
		return 0, 0, err
	}

	var errs error
	for _, c := range contacts {
		vars := map[string]string{"customer_name": c.Name}
		msg := Message{Subject: Render(title, vars), Body: Render(body, vars)}
		for channel, to := range map[string]string{models.ChannelEmail: c.Email, models.ChannelSMS: c.Mobile} {
			if to == "" {
				continue
			}
			msg.Recipient = to
			if sendErr := d.send(ctx, channel, CustomerBroadcast, 0, msg); sendErr != nil {
				failed++
				errs = multierr.Append(errs, sendErr)
				continue
			}
			sent++
		}
	}
	return sent, failed, errs
}

func (d *Dispatcher) recipients(ctx context.Context, name string, b *models.Booking) map[string]string {
	to := make(map[string]string, 3)
	switch name {
	case NewRequestVendor:
		p, err := d.properties.GetProperty(ctx, b.PropertyID)
		if err != nil {
			d.logger.Warn().Err(err).Int64("property_id", b.PropertyID).Msg("Vendor contact lookup failed")
			return to
		}
		to[models.ChannelEmail] = p.VendorEmail
		to[models.ChannelSMS] = p.VendorMobile
		if p.VendorTelegramID != 0 {
			to[models.ChannelTelegram] = strconv.FormatInt(p.VendorTelegramID, 10)
		}
	case NewRequestAdmin:
		to[models.ChannelEmail] = d.adminEmail
		if d.adminChatID != 0 {
			to[models.ChannelTelegram] = strconv.FormatInt(d.adminChatID, 10)
		}
	default:
		to[models.ChannelEmail] = b.CustomerEmail
		to[models.ChannelSMS] = b.CustomerMobile
	}
	return to
}

// send delivers one message and records the attempt.
func (d *Dispatcher) send(ctx context.Context, channel, name string, bookingID int64, msg Message) error {
	entry := &models.NotificationLog{
		Channel:   channel,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Content:   msg.Body,
		EventName: name,
		BookingID: bookingID,
		Status:    models.NotificationSent,
	}

	var sendErr error
	ch, ok := d.channels[channel]
	if !ok {
		sendErr = fmt.Errorf("%w: channel %s not configured", ErrDelivery, channel)
	} else {
		sendErr = ch.Send(ctx, msg)
	}
	if sendErr != nil {
		entry.Status = models.NotificationFailed
		entry.ErrorMessage = sendErr.Error()
		d.logger.Warn().Err(sendErr).Str("channel", channel).Str("notification", name).Int64("booking_id", bookingID).Msg("Notification not delivered")
	}
	metrics.IncNotification(channel, entry.Status)

	if err := d.templates.CreateNotificationLog(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("channel", channel).Msg("Failed to write notification log")
	}
	return sendErr
}
