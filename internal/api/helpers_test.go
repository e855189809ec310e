package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"resortwala/internal/config"
	"resortwala/internal/database"
	"resortwala/internal/events"
	"resortwala/internal/export"
	"resortwala/internal/models"
	"resortwala/internal/payment"
	"resortwala/internal/realtime"
	"resortwala/internal/repository"
	"resortwala/internal/service"
)

const (
	testSaltKey   = "api-salt"
	testSaltIndex = "2"
)

type apiEnv struct {
	db       *database.DB
	bus      *events.EventBus
	calendar *service.CalendarService
	bookings *service.BookingService
	hub      *realtime.Hub
	server   *HTTPServer
	ts       *httptest.Server
	ready    error
}

func newAPIEnv(t *testing.T, cfg config.APIConfig) *apiEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncProperties(context.Background(), []*models.Property{
		{ID: 1, VendorID: 10, Name: "Sea Breeze Villa", PricePerNight: decimal.NewFromInt(5000), MaxGuests: 8, IsActive: true},
		{ID: 2, VendorID: 20, Name: "Palm Cottage", PricePerNight: decimal.NewFromInt(2500), MaxGuests: 2, IsActive: true},
		{ID: 3, Name: "Old Barn", PricePerNight: decimal.NewFromInt(900), IsActive: false},
	}))

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://pay.test/checkout"}}}}`))
	}))
	t.Cleanup(gateway.Close)

	bus := events.NewEventBus()
	calendar := service.NewCalendarService(db, db, bus, config.BookingConfig{Timezone: "Asia/Kolkata"}, &logger)
	bookings := service.NewBookingService(db, db, db, calendar, bus, nil, &logger)
	client := payment.NewPhonePeClient(config.PhonePeConfig{
		MerchantID: "MERCHANT",
		SaltKey:    testSaltKey,
		SaltIndex:  testSaltIndex,
		BaseURL:    gateway.URL,
	}, &logger)
	guard := repository.NewMemoryGuardStore()

	hub := realtime.NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	hub.Attach(bus)

	env := &apiEnv{db: db, bus: bus, calendar: calendar, bookings: bookings, hub: hub}
	env.server = NewHTTPServer(cfg, Services{
		Properties: db,
		Calendar:   calendar,
		Bookings:   bookings,
		Payments:   service.NewPaymentService(client, db, bookings, guard, &logger),
		Exporter:   export.NewExporter(db, db, t.TempDir(), &logger),
		Hub:        hub,
		Guard:      guard,
		Readiness: map[string]ReadinessCheck{
			"database": db.PingContext,
			"stub":     func(context.Context) error { return env.ready },
		},
	}, &logger)

	env.ts = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func openConfig() config.APIConfig {
	return config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
}

func (e *apiEnv) day(n int) string {
	return e.calendar.Today().AddDate(0, 0, n).Format(models.DateLayout)
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (e *apiEnv) bookingBody(propertyID int64, from, to int) map[string]any {
	return map[string]any{
		"property_id":     propertyID,
		"customer_name":   "Ravi Kumar",
		"customer_email":  "ravi@example.com",
		"customer_mobile": "9812345678",
		"check_in":        e.day(from),
		"check_out":       e.day(to),
		"guest_count":     2,
	}
}

func (e *apiEnv) createBooking(t *testing.T, propertyID int64, from, to int) models.Booking {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/bookings", e.bookingBody(propertyID, from, to))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b models.Booking
	decodeBody(t, resp, &b)
	return b
}

func signedCallback(t *testing.T, code, merchantTxnID string) (string, string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"success": code == payment.CodePaymentSuccess,
		"code":    code,
		"data": map[string]any{
			"merchantTransactionId": merchantTxnID,
			"transactionId":         "PG" + merchantTxnID,
		},
	})
	require.NoError(t, err)
	body := base64.StdEncoding.EncodeToString(raw)
	return body, payment.CallbackChecksum(body, testSaltKey, testSaltIndex)
}

var errNotReady = errors.New("warming up")

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
