package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"resortwala/internal/config"
	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
	"resortwala/internal/service"
)

const (
	updateTimeout = 30 * time.Second
	cardQueueSize = 64
)

// API exposes the bot's own user through GetSelf, which *tgbotapi.BotAPI
// only has as a field.
type API struct {
	*tgbotapi.BotAPI
}

func (a API) GetSelf() tgbotapi.User {
	return a.Self
}

// Bot lets vendors act on booking requests and manage their calendar from
// Telegram. Vendors are matched by Property.VendorTelegramID; managers see
// every property.
type Bot struct {
	tgService  domain.TelegramService
	config     config.TelegramConfig
	properties domain.PropertyRepository
	bookings   *service.BookingService
	calendar   *service.CalendarService
	limiter    domain.RateLimitStore
	managers   map[int64]bool
	cards      chan int64
	logger     *zerolog.Logger
}

func NewBot(
	tgService domain.TelegramService,
	cfg config.TelegramConfig,
	properties domain.PropertyRepository,
	bookings *service.BookingService,
	calendar *service.CalendarService,
	limiter domain.RateLimitStore,
	logger *zerolog.Logger,
) *Bot {
	managers := make(map[int64]bool, len(cfg.ManagerIDs))
	for _, id := range cfg.ManagerIDs {
		managers[id] = true
	}
	return &Bot{
		tgService:  tgService,
		config:     cfg,
		properties: properties,
		bookings:   bookings,
		calendar:   calendar,
		limiter:    limiter,
		managers:   managers,
		cards:      make(chan int64, cardQueueSize),
		logger:     logger,
	}
}

// Attach sends a request card with approve/reject buttons to the vendor of
// every new booking.
func (b *Bot) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, b.HandleEvent)
}

// HandleEvent queues the card; delivery happens on the bot loop.
func (b *Bot) HandleEvent(e *events.Event) error {
	var payload events.BookingEventPayload
	if err := e.Decode(&payload); err != nil {
		return err
	}
	select {
	case b.cards <- payload.BookingID:
		return nil
	default:
		return fmt.Errorf("request card queue full, booking %d", payload.BookingID)
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case id := <-b.cards:
			b.withRecovery(func() { b.sendRequestCard(ctx, id) })
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.tgService == nil {
		return
	}
	b.tgService.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() { metrics.ObserveBotUpdate(time.Since(start)) }()

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	requestID := uuid.New().String()
	l := b.logger.With().Str("request_id", requestID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var userID, chatID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID, chatID = update.Message.From.ID, update.Message.Chat.ID
		case update.CallbackQuery != nil:
			userID = update.CallbackQuery.From.ID
			if update.CallbackQuery.Message != nil {
				chatID = update.CallbackQuery.Message.Chat.ID
			}
		}
		if userID == 0 {
			return
		}

		if !b.allow(updateCtx, userID) {
			l.Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
			if update.Message != nil {
				b.sendMessage(chatID, "⚠️ Too many messages. Please wait a moment.")
			}
			return
		}

		if update.CallbackQuery != nil {
			metrics.IncBotUpdate("callback")
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
			return
		}
		metrics.IncBotUpdate("message")
		b.handleMessage(updateCtx, update.Message)
	})
}

func (b *Bot) isManager(userID int64) bool {
	return b.managers[userID]
}

// vendorProperties returns the active properties the user may act on.
func (b *Bot) vendorProperties(ctx context.Context, userID int64) ([]*models.Property, error) {
	all, err := b.properties.GetActiveProperties(ctx)
	if err != nil {
		return nil, err
	}
	if b.isManager(userID) {
		return all, nil
	}
	var own []*models.Property
	for _, p := range all {
		if p.VendorTelegramID == userID {
			own = append(own, p)
		}
	}
	return own, nil
}

// canManage reports whether the user owns the property or is a manager.
func (b *Bot) canManage(ctx context.Context, userID, propertyID int64) (*models.Property, bool) {
	p, err := b.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, false
	}
	return p, b.isManager(userID) || (p.VendorTelegramID != 0 && p.VendorTelegramID == userID)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.tgService.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}
