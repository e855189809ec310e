package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"resortwala/internal/models"
	"resortwala/internal/service"
)

const (
	calendarDays = 14

	callbackApprove = "approve:"
	callbackReject  = "reject:"
)

const helpText = `ResortWala vendor bot

/properties - your properties
/pending - booking requests waiting for you
/booking <id> - booking details
/calendar <property_id> [YYYY-MM-DD] - next 14 nights
/freeze <property_id> <from> <to> - block nights (to is exclusive)
/unfreeze <property_id> <from> <to> - release blocked nights`

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || !msg.IsCommand() {
		if msg != nil {
			b.sendMessage(msg.Chat.ID, helpText)
		}
		return
	}

	args := strings.Fields(msg.CommandArguments())
	userID, chatID := msg.From.ID, msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.sendMessage(chatID, helpText)
	case "properties":
		b.handleProperties(ctx, userID, chatID)
	case "pending":
		b.handlePending(ctx, userID, chatID)
	case "booking":
		b.handleBooking(ctx, userID, chatID, args)
	case "calendar":
		b.handleCalendar(ctx, userID, chatID, args)
	case "freeze":
		b.handleFreeze(ctx, userID, chatID, args, msg.From.UserName, true)
	case "unfreeze":
		b.handleFreeze(ctx, userID, chatID, args, msg.From.UserName, false)
	default:
		b.sendMessage(chatID, "Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) handleProperties(ctx context.Context, userID, chatID int64) {
	props, err := b.vendorProperties(ctx, userID)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	if len(props) == 0 {
		b.sendMessage(chatID, "No properties are linked to your Telegram account.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏡 Your properties:\n")
	for _, p := range props {
		fmt.Fprintf(&sb, "\n#%d %s, INR %s/night, up to %d guests", p.ID, p.Name, p.PricePerNight.StringFixed(0), p.MaxGuests)
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handlePending(ctx context.Context, userID, chatID int64) {
	props, err := b.vendorProperties(ctx, userID)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	found := 0
	for _, p := range props {
		pending, err := b.bookings.SearchBookings(ctx, models.BookingFilter{PropertyID: p.ID, Status: models.StatusPending})
		if err != nil {
			b.sendMessage(chatID, b.getErrorMessage(err))
			return
		}
		for _, bk := range pending {
			b.sendCard(chatID, bk)
			found++
		}
	}
	if found == 0 {
		b.sendMessage(chatID, "✅ No pending requests.")
	}
}

func (b *Bot) handleBooking(ctx context.Context, userID, chatID int64, args []string) {
	if len(args) != 1 {
		b.sendMessage(chatID, "Usage: /booking <id>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		b.sendMessage(chatID, "Booking id must be a positive number.")
		return
	}
	bk, err := b.bookings.GetBooking(ctx, id)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	if _, ok := b.canManage(ctx, userID, bk.PropertyID); !ok {
		b.sendMessage(chatID, "⛔ This booking belongs to another property.")
		return
	}
	if bk.Status == models.StatusPending {
		b.sendCard(chatID, bk)
		return
	}
	b.sendMessage(chatID, bookingText(bk))
}

func (b *Bot) handleCalendar(ctx context.Context, userID, chatID int64, args []string) {
	if len(args) < 1 || len(args) > 2 {
		b.sendMessage(chatID, "Usage: /calendar <property_id> [YYYY-MM-DD]")
		return
	}
	propertyID, ok := b.propertyArg(ctx, userID, chatID, args[0])
	if !ok {
		return
	}

	start := b.calendar.Today()
	if len(args) == 2 {
		d, err := time.Parse(models.DateLayout, args[1])
		if err != nil {
			b.sendMessage(chatID, "Dates use the YYYY-MM-DD format.")
			return
		}
		start = d
	}

	r := models.DateRange{Start: start, End: start.AddDate(0, 0, calendarDays)}
	days, err := b.calendar.GetCalendar(ctx, propertyID, r)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 Property #%d, %s\n", propertyID, r.String())
	for _, d := range days {
		mark := "✅ free"
		if !d.Available {
			mark = "🔒 " + d.Reason
		}
		fmt.Fprintf(&sb, "\n%s %s", d.Date.Format(models.DateLayout), mark)
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleFreeze(ctx context.Context, userID, chatID int64, args []string, username string, freeze bool) {
	usage := "Usage: /freeze <property_id> <from> <to>"
	if !freeze {
		usage = "Usage: /unfreeze <property_id> <from> <to>"
	}
	if len(args) != 3 {
		b.sendMessage(chatID, usage)
		return
	}
	propertyID, ok := b.propertyArg(ctx, userID, chatID, args[0])
	if !ok {
		return
	}
	r, err := service.ParseRange(args[1], args[2])
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	by := changedBy(userID, username)
	if freeze {
		if err := b.calendar.Freeze(ctx, propertyID, r, by); err != nil {
			b.sendMessage(chatID, b.getErrorMessage(err))
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("🔒 Frozen %s for property #%d.", r.String(), propertyID))
		return
	}

	n, err := b.calendar.Unfreeze(ctx, propertyID, r, by)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("🔓 Released %d nights for property #%d.", n, propertyID))
}

// propertyArg parses a property id and checks the user may manage it.
func (b *Bot) propertyArg(ctx context.Context, userID, chatID int64, arg string) (int64, bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		b.sendMessage(chatID, "Property id must be a positive number.")
		return 0, false
	}
	p, ok := b.canManage(ctx, userID, id)
	if p == nil {
		b.sendMessage(chatID, "⚠️ Property not found.")
		return 0, false
	}
	if !ok {
		b.sendMessage(chatID, "⛔ You do not manage this property.")
		return 0, false
	}
	return id, true
}

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data
	var (
		action string
		raw    string
	)
	switch {
	case strings.HasPrefix(data, callbackApprove):
		action, raw = callbackApprove, strings.TrimPrefix(data, callbackApprove)
	case strings.HasPrefix(data, callbackReject):
		action, raw = callbackReject, strings.TrimPrefix(data, callbackReject)
	default:
		b.answer(callback.ID, "")
		return
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		b.answer(callback.ID, "Bad request")
		return
	}

	bk, err := b.bookings.GetBooking(ctx, id)
	if err != nil {
		b.answer(callback.ID, b.getErrorMessage(err))
		return
	}
	if _, ok := b.canManage(ctx, callback.From.ID, bk.PropertyID); !ok {
		b.answer(callback.ID, "⛔ Not your property")
		return
	}

	by := changedBy(callback.From.ID, callback.From.UserName)
	if action == callbackApprove {
		bk, err = b.bookings.Approve(ctx, id, by)
	} else {
		bk, err = b.bookings.Reject(ctx, id, by)
	}
	if err != nil {
		b.answer(callback.ID, b.getErrorMessage(err))
		return
	}

	b.answer(callback.ID, "Booking #"+raw+" is now "+bk.Status)
	if callback.Message != nil {
		edit := tgbotapi.NewEditMessageText(callback.Message.Chat.ID, callback.Message.MessageID, bookingText(bk))
		if _, err := b.tgService.Send(edit); err != nil {
			b.logger.Error().Err(err).Int64("booking_id", id).Msg("Failed to update request card")
		}
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.tgService.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to answer callback")
	}
}

// sendRequestCard delivers a new booking to the vendor's chat.
func (b *Bot) sendRequestCard(ctx context.Context, bookingID int64) {
	bk, err := b.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		b.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("Failed to load booking for request card")
		return
	}
	p, err := b.properties.GetProperty(ctx, bk.PropertyID)
	if err != nil {
		b.logger.Error().Err(err).Int64("property_id", bk.PropertyID).Msg("Failed to load property for request card")
		return
	}
	if p.VendorTelegramID == 0 || bk.Status != models.StatusPending {
		return
	}
	b.sendCard(p.VendorTelegramID, bk)
}

func (b *Bot) sendCard(chatID int64, bk *models.Booking) {
	msg := tgbotapi.NewMessage(chatID, bookingText(bk))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackApprove+strconv.FormatInt(bk.ID, 10)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", callbackReject+strconv.FormatInt(bk.ID, 10)),
		),
	)
	if _, err := b.tgService.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("booking_id", bk.ID).Int64("chat_id", chatID).Msg("Failed to send request card")
	}
}

func bookingText(bk *models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Booking #%d (%s)\n", bk.ID, bk.Status)
	if bk.PropertyName != "" {
		sb.WriteString(bk.PropertyName + "\n")
	}
	fmt.Fprintf(&sb, "%s → %s, %d nights\n", bk.CheckIn.Format(models.DateLayout), bk.CheckOut.Format(models.DateLayout), bk.Nights())
	fmt.Fprintf(&sb, "Guests: %d\n", bk.GuestCount)
	fmt.Fprintf(&sb, "Customer: %s\n", bk.CustomerName)
	fmt.Fprintf(&sb, "Total: INR %s", bk.TotalAmount.StringFixed(2))
	if bk.Comment != "" {
		sb.WriteString("\nComment: " + bk.Comment)
	}
	return sb.String()
}

func changedBy(userID int64, username string) string {
	if username != "" {
		return "telegram:@" + username
	}
	return "telegram:" + strconv.FormatInt(userID, 10)
}
