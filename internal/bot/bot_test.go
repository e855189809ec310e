package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/config"
	"resortwala/internal/database"
	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/models"
	"resortwala/internal/repository"
	"resortwala/internal/service"
)

const (
	vendorID   int64 = 555
	strangerID int64 = 777
	managerID  int64 = 999
)

type mockTelegramService struct {
	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	sent        []tgbotapi.Chattable
	answers     []tgbotapi.CallbackConfig
}

func (m *mockTelegramService) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramService) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramService) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		m.answers = append(m.answers, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramService) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "resortwala_test_bot"}
}

func (m *mockTelegramService) StopReceivingUpdates() {}

func (m *mockTelegramService) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sent {
		switch msg := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, msg.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, msg.Text)
		}
	}
	return out
}

func (m *mockTelegramService) last() string {
	t := m.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

func (m *mockTelegramService) lastAnswer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return ""
	}
	return m.answers[len(m.answers)-1].Text
}

type testEnv struct {
	bot      *Bot
	tg       *mockTelegramService
	db       *database.DB
	bus      *events.EventBus
	bookings *service.BookingService
	calendar *service.CalendarService
}

func newTestEnv(t *testing.T, cfg config.TelegramConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncProperties(context.Background(), []*models.Property{
		{ID: 1, VendorID: 10, Name: "Sea Breeze Villa", PricePerNight: decimal.NewFromInt(5000), MaxGuests: 8, VendorTelegramID: vendorID, IsActive: true},
		{ID: 2, VendorID: 20, Name: "Palm Cottage", PricePerNight: decimal.NewFromInt(2500), MaxGuests: 2, IsActive: true},
	}))

	bus := events.NewEventBus()
	calendar := service.NewCalendarService(db, db, bus, config.BookingConfig{Timezone: "UTC"}, &logger)
	bookings := service.NewBookingService(db, db, db, calendar, bus, nil, &logger)

	if cfg.RateLimitMessages == 0 {
		cfg.RateLimitMessages = 100
		cfg.RateLimitWindow = time.Minute
	}
	cfg.ManagerIDs = append(cfg.ManagerIDs, managerID)

	tg := &mockTelegramService{updatesChan: make(chan tgbotapi.Update, 4)}
	b := NewBot(tg, cfg, db, bookings, calendar, repository.NewMemoryGuardStore(), &logger)
	return &testEnv{bot: b, tg: tg, db: db, bus: bus, bookings: bookings, calendar: calendar}
}

func (e *testEnv) createBooking(t *testing.T, propertyID int64, fromDays, toDays int) *models.Booking {
	t.Helper()
	today := e.calendar.Today()
	b, err := e.bookings.CreateBooking(context.Background(), &service.CreateBookingRequest{
		PropertyID:     propertyID,
		CustomerName:   "Asha",
		CustomerMobile: "9876543210",
		CheckIn:        today.AddDate(0, 0, fromDays).Format(models.DateLayout),
		CheckOut:       today.AddDate(0, 0, toDays).Format(models.DateLayout),
		GuestCount:     2,
	})
	require.NoError(t, err)
	return b
}

func command(userID int64, text string) tgbotapi.Update {
	length := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		length = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID, UserName: "vendor"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func callback(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: userID},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: userID}},
	}}
}

func TestBotStart_Help(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		env.bot.Start(ctx)
		close(done)
	}()

	env.tg.updatesChan <- command(vendorID, "/start")

	require.Eventually(t, func() bool { return len(env.tg.texts()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, env.tg.last(), "/pending")

	cancel()
	<-done
}

func TestProperties(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	ctx := context.Background()

	env.bot.processUpdate(ctx, command(vendorID, "/properties"))
	assert.Contains(t, env.tg.last(), "#1 Sea Breeze Villa")
	assert.NotContains(t, env.tg.last(), "Palm Cottage")

	env.bot.processUpdate(ctx, command(strangerID, "/properties"))
	assert.Contains(t, env.tg.last(), "No properties")

	env.bot.processUpdate(ctx, command(managerID, "/properties"))
	assert.Contains(t, env.tg.last(), "Palm Cottage")
}

func TestPendingAndApprove(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	ctx := context.Background()
	bk := env.createBooking(t, 1, 5, 7)

	env.bot.processUpdate(ctx, command(vendorID, "/pending"))
	card, ok := env.tg.sent[len(env.tg.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, card.Text, "Booking #")
	assert.NotNil(t, card.ReplyMarkup)

	// a stranger cannot approve
	env.bot.processUpdate(ctx, callback(strangerID, callbackApprove+itoa(bk.ID)))
	assert.Contains(t, env.tg.lastAnswer(), "Not your property")
	got, err := env.db.GetBooking(ctx, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	env.bot.processUpdate(ctx, callback(vendorID, callbackApprove+itoa(bk.ID)))
	assert.Contains(t, env.tg.lastAnswer(), "approved")
	assert.Contains(t, env.tg.last(), "(approved)")

	got, err = env.db.GetBooking(ctx, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)

	// approving twice is an invalid transition
	env.bot.processUpdate(ctx, callback(vendorID, callbackApprove+itoa(bk.ID)))
	assert.Contains(t, env.tg.lastAnswer(), "can no longer be changed")
}

func TestRejectFreesDates(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	ctx := context.Background()
	bk := env.createBooking(t, 1, 5, 7)

	env.bot.processUpdate(ctx, callback(managerID, callbackReject+itoa(bk.ID)))
	assert.Contains(t, env.tg.lastAnswer(), "rejected")

	res, err := env.calendar.CheckAvailability(ctx, 1, bk.Range())
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestFreezeAndCalendar(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	ctx := context.Background()
	today := env.calendar.Today()
	from := today.AddDate(0, 0, 2).Format(models.DateLayout)
	to := today.AddDate(0, 0, 4).Format(models.DateLayout)

	env.bot.processUpdate(ctx, command(strangerID, "/freeze 1 "+from+" "+to))
	assert.Contains(t, env.tg.last(), "do not manage")

	env.bot.processUpdate(ctx, command(vendorID, "/freeze 1 "+from+" "+to))
	assert.Contains(t, env.tg.last(), "Frozen")

	env.bot.processUpdate(ctx, command(vendorID, "/freeze 1 "+from+" "+to))
	assert.Contains(t, env.tg.last(), "already taken")

	env.bot.processUpdate(ctx, command(vendorID, "/calendar 1"))
	assert.Contains(t, env.tg.last(), from+" 🔒 "+models.LockFrozen)

	env.bot.processUpdate(ctx, command(vendorID, "/unfreeze 1 "+from+" "+to))
	assert.Contains(t, env.tg.last(), "Released 2 nights")

	env.bot.processUpdate(ctx, command(vendorID, "/calendar 1 not-a-date"))
	assert.Contains(t, env.tg.last(), "YYYY-MM-DD")

	env.bot.processUpdate(ctx, command(vendorID, "/freeze 1 "+to+" "+from))
	assert.Contains(t, env.tg.last(), "⚠️")
}

func TestBookingCommand(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	ctx := context.Background()
	bk := env.createBooking(t, 2, 3, 4)

	env.bot.processUpdate(ctx, command(vendorID, "/booking "+itoa(bk.ID)))
	assert.Contains(t, env.tg.last(), "another property")

	env.bot.processUpdate(ctx, command(managerID, "/booking "+itoa(bk.ID)))
	assert.Contains(t, env.tg.last(), "Palm Cottage")

	env.bot.processUpdate(ctx, command(managerID, "/booking 9999"))
	assert.Contains(t, env.tg.last(), "Not found")

	env.bot.processUpdate(ctx, command(managerID, "/booking"))
	assert.Contains(t, env.tg.last(), "Usage")
}

func TestRequestCardOnNewBooking(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{})
	env.bot.Attach(env.bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.bot.Start(ctx)

	env.createBooking(t, 1, 5, 6)
	// no vendor chat for property 2
	env.createBooking(t, 2, 5, 6)

	require.Eventually(t, func() bool { return len(env.tg.texts()) == 1 }, time.Second, 10*time.Millisecond)

	env.tg.mu.Lock()
	card := env.tg.sent[0].(tgbotapi.MessageConfig)
	env.tg.mu.Unlock()
	assert.Equal(t, vendorID, card.ChatID)
	assert.Contains(t, card.Text, "Sea Breeze Villa")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.TelegramConfig{RateLimitMessages: 1, RateLimitWindow: time.Minute})
	ctx := context.Background()

	env.bot.processUpdate(ctx, command(vendorID, "/help"))
	env.bot.processUpdate(ctx, command(vendorID, "/help"))
	assert.Contains(t, env.tg.last(), "Too many messages")

	// managers are not throttled
	env.bot.processUpdate(ctx, command(managerID, "/help"))
	env.bot.processUpdate(ctx, command(managerID, "/help"))
	assert.Contains(t, env.tg.last(), "/pending")
}

func TestGetErrorMessage(t *testing.T) {
	b := &Bot{}
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&domain.ConflictError{PropertyID: 1, Dates: []time.Time{time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)}}, "2026-11-02"},
		{domain.ValidationErrors{{Field: "dates", Message: "bad"}}, "bad"},
		{domain.ErrNotFound, "Not found"},
		{&domain.InvalidStateError{BookingID: 1, From: "rejected", To: "approved"}, "can no longer"},
		{domain.ErrConcurrentModification, "someone else"},
		{domain.ErrPastDate, "past"},
		{domain.ErrDateTooFar, "too far"},
		{errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		assert.Contains(t, b.getErrorMessage(tt.err), tt.want)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
