package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"resortwala/internal/config"
	"resortwala/internal/database"
	"resortwala/internal/events"
	"resortwala/internal/models"
	"resortwala/internal/payment"
	"resortwala/internal/repository"
)

const (
	testSaltKey   = "test-salt"
	testSaltIndex = "1"
)

type testEnv struct {
	db       *database.DB
	bus      *events.EventBus
	calendar *CalendarService
	bookings *BookingService
	payments *PaymentService
	ratings  *RatingService
	guard    *repository.MemoryGuardStore
	sync     *recordingSync
	events   *eventRecorder
}

type recordingSync struct {
	mu    sync.Mutex
	tasks []string
}

func (r *recordingSync) EnqueueTask(_ context.Context, taskType string, _ int64, _ *models.Booking, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, taskType)
	return nil
}

type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *eventRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncProperties(context.Background(), []*models.Property{
		{ID: 7, VendorID: 70, Name: "Lake Villa", PricePerNight: decimal.NewFromInt(4500), MaxGuests: 6, IsActive: true},
		{ID: 8, VendorID: 80, Name: "Hill Cottage", PricePerNight: decimal.NewFromInt(3000), MaxGuests: 2, IsActive: true, GoogleRating: 4.5, GoogleReviewCount: 10},
		{ID: 9, Name: "Closed Farm", PricePerNight: decimal.NewFromInt(1000), IsActive: false},
	}))

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://pay.test/checkout"}}}}`))
	}))
	t.Cleanup(gateway.Close)

	bus := events.NewEventBus()
	rec := &eventRecorder{}
	bus.SubscribeMany(events.BookingEvents, rec.handle)
	bus.SubscribeMany(events.CalendarEvents, rec.handle)

	calendar := NewCalendarService(db, db, bus, config.BookingConfig{Timezone: "Asia/Kolkata"}, &logger)
	syncer := &recordingSync{}
	bookings := NewBookingService(db, db, db, calendar, bus, syncer, &logger)
	client := payment.NewPhonePeClient(config.PhonePeConfig{
		MerchantID: "MERCHANT",
		SaltKey:    testSaltKey,
		SaltIndex:  testSaltIndex,
		BaseURL:    gateway.URL,
	}, &logger)
	guard := repository.NewMemoryGuardStore()

	return &testEnv{
		db:       db,
		bus:      bus,
		calendar: calendar,
		bookings: bookings,
		payments: NewPaymentService(client, db, bookings, guard, &logger),
		ratings:  NewRatingService(db, db, &logger),
		guard:    guard,
		sync:     syncer,
		events:   rec,
	}
}

// day returns a date n days after today in the booking timezone.
func (e *testEnv) day(n int) string {
	return e.calendar.Today().AddDate(0, 0, n).Format(models.DateLayout)
}

func (e *testEnv) request(propertyID int64, checkIn, checkOut string) *CreateBookingRequest {
	return &CreateBookingRequest{
		PropertyID:     propertyID,
		CustomerName:   "Asha Rao",
		CustomerEmail:  "asha@example.com",
		CustomerMobile: "9876543210",
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		GuestCount:     2,
	}
}

func (e *testEnv) createBooking(t *testing.T, propertyID int64, from, to int) *models.Booking {
	t.Helper()
	b, err := e.bookings.CreateBooking(context.Background(), e.request(propertyID, e.day(from), e.day(to)))
	require.NoError(t, err)
	return b
}

func (e *testEnv) initiate(t *testing.T, bookingID int64) *InitiateResult {
	t.Helper()
	res, err := e.payments.InitiatePayment(context.Background(), bookingID)
	require.NoError(t, err)
	return res
}

// callback builds a signed gateway callback body.
func callback(t *testing.T, code, merchantTxnID string) (string, string) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"success": code == payment.CodePaymentSuccess,
		"code":    code,
		"data": map[string]interface{}{
			"merchantTransactionId": merchantTxnID,
			"transactionId":         "T" + merchantTxnID,
		},
	})
	require.NoError(t, err)
	body := base64.StdEncoding.EncodeToString(raw)
	return body, payment.CallbackChecksum(body, testSaltKey, testSaltIndex)
}

func (e *testEnv) status(t *testing.T, id int64) string {
	t.Helper()
	b, err := e.bookings.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func (e *testEnv) locks(t *testing.T, id int64) []*models.CalendarLock {
	t.Helper()
	locks, err := e.db.GetBookingLocks(context.Background(), id)
	require.NoError(t, err)
	return locks
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
