package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"resortwala/internal/models"
)

const (
	bookingsSheet = "Bookings"
	calendarSheet = "Calendar"

	// строка бронирования занимает колонки A..L
	bookingRowSpan = "A%d:L%d"
	statusCell     = "I%d"
	updatedCell    = "L%d"

	maxCalendarDays = 100
	timestampLayout = "2006-01-02 15:04:05"
)

var errRowNotFound = errors.New("booking row not found")

var bookingHeaders = []interface{}{
	"ID", "Property ID", "Property", "Customer", "Mobile", "Check-in", "Check-out",
	"Guests", "Status", "Total", "Created At", "Updated At",
}

// rowIndex remembers which sheet row (1-based) holds a booking.
type rowIndex struct {
	mu   sync.RWMutex
	rows map[int64]int
}

func (x *rowIndex) get(id int64) (int, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	row, ok := x.rows[id]
	return row, ok
}

func (x *rowIndex) put(id int64, row int) {
	x.mu.Lock()
	x.rows[id] = row
	x.mu.Unlock()
}

func (x *rowIndex) replace(rows map[int64]int) {
	x.mu.Lock()
	x.rows = rows
	x.mu.Unlock()
}

// SheetsService mirrors bookings into a Google spreadsheet. The spreadsheet
// is an output only; nothing is read back into the database.
type SheetsService struct {
	service        *sheets.Service
	spreadsheetID  string
	serviceAccount string
	index          rowIndex
	now            func() time.Time
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string) (*SheetsService, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	s := newSheetsService(srv, spreadsheetID)
	s.serviceAccount = clientEmail(raw)
	return s, nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID string) *SheetsService {
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		index:         rowIndex{rows: make(map[int64]int)},
		now:           time.Now,
	}
}

// clientEmail extracts the service account address from a credentials file.
// The spreadsheet has to be shared with it.
func clientEmail(credentialsJSON []byte) string {
	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if json.Unmarshal(credentialsJSON, &creds) != nil {
		return ""
	}
	return creds.ClientEmail
}

func (s *SheetsService) ServiceAccount() string {
	return s.serviceAccount
}

// Ping reads a single cell of the bookings sheet.
func (s *SheetsService) Ping(ctx context.Context) error {
	if _, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A1").Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets ping: %w", err)
	}
	return nil
}

// RefreshIndexEvery reloads the row index now and then on every tick until
// ctx is cancelled.
func (s *SheetsService) RefreshIndexEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c, cancel := context.WithTimeout(ctx, 30*time.Second)
		_ = s.RefreshIndex(c)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshIndex rebuilds the row index from the ID column.
func (s *SheetsService) RefreshIndex(ctx context.Context) error {
	ids, err := s.idColumn(ctx)
	if err != nil {
		return err
	}
	rows := make(map[int64]int, len(ids))
	for i, id := range ids {
		if id > 0 {
			rows[id] = i + 1
		}
	}
	s.index.replace(rows)
	return nil
}

func (s *SheetsService) idColumn(ctx context.Context) ([]int64, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read booking ids: %w", err)
	}
	ids := make([]int64, len(resp.Values))
	for i, row := range resp.Values {
		ids[i] = parseID(row)
	}
	return ids, nil
}

// parseID reads column A; the API returns numbers as float64 or strings
// depending on the render option.
func parseID(row []interface{}) int64 {
	if len(row) == 0 {
		return 0
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	default:
		return 0
	}
}

// FindBookingRow returns the 1-based row of a booking, scanning the ID
// column when the index misses.
func (s *SheetsService) FindBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID <= 0 {
		return 0, fmt.Errorf("invalid booking id %d", bookingID)
	}
	if row, ok := s.index.get(bookingID); ok {
		return row, nil
	}

	ids, err := s.idColumn(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if id == bookingID {
			s.index.put(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

var appendedRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

func (s *SheetsService) appendBooking(ctx context.Context, b *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.
		Append(s.spreadsheetID, bookingsSheet+"!A:A", &sheets.ValueRange{Values: [][]interface{}{bookingRow(b)}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append booking %d: %w", b.ID, err)
	}
	if resp.Updates == nil {
		return nil
	}
	if m := appendedRowRe.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
		if row, err := strconv.Atoi(m[1]); err == nil {
			s.index.put(b.ID, row)
		}
	}
	return nil
}

// UpsertBooking rewrites the booking's row, appending it when absent.
func (s *SheetsService) UpsertBooking(ctx context.Context, b *models.Booking) error {
	if b == nil {
		return errors.New("nil booking")
	}
	row, err := s.FindBookingRow(ctx, b.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, b)
	}
	if err != nil {
		return err
	}

	target := bookingsSheet + "!" + fmt.Sprintf(bookingRowSpan, row, row)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, target, &sheets.ValueRange{Values: [][]interface{}{bookingRow(b)}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update booking %d: %w", b.ID, err)
	}
	return nil
}

// UpdateBookingStatus writes the status and Updated At cells in one request.
func (s *SheetsService) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	row, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data: []*sheets.ValueRange{
			{Range: bookingsSheet + "!" + fmt.Sprintf(statusCell, row), Values: [][]interface{}{{status}}},
			{Range: bookingsSheet + "!" + fmt.Sprintf(updatedCell, row), Values: [][]interface{}{{s.now().UTC().Format(timestampLayout)}}},
		},
	}
	if _, err := s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update status of booking %d: %w", bookingID, err)
	}
	return nil
}

// ReplaceBookingsSheet clears the bookings sheet and writes all rows again.
func (s *SheetsService) ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, bookingsSheet+"!A1:Z", &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear bookings sheet: %w", err)
	}

	values := [][]interface{}{bookingHeaders}
	rows := make(map[int64]int, len(bookings))
	for _, b := range bookings {
		values = append(values, bookingRow(b))
		rows[b.ID] = len(values)
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, bookingsSheet+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write bookings sheet: %w", err)
	}
	s.index.replace(rows)
	return nil
}

func bookingRow(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.PropertyID,
		b.PropertyName,
		b.CustomerName,
		b.CustomerMobile,
		b.CheckIn.Format(models.DateLayout),
		b.CheckOut.Format(models.DateLayout),
		b.GuestCount,
		b.Status,
		b.TotalAmount.StringFixed(2),
		b.CreatedAt.Format(timestampLayout),
		b.UpdatedAt.Format(timestampLayout),
	}
}

// sheetID resolves a tab title to its numeric id for formatting requests.
func (s *SheetsService) sheetID(ctx context.Context, title string) (int64, error) {
	doc, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("load spreadsheet: %w", err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", title)
}
