package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

type fakeSource struct {
	bookings []*models.Booking
}

func (f *fakeSource) GetBookingsByDateRange(_ context.Context, _, _ time.Time) ([]*models.Booking, error) {
	return f.bookings, nil
}

type fakeProperties struct {
	list []*models.Property
}

func (f *fakeProperties) GetProperty(_ context.Context, id int64) (*models.Property, error) {
	for _, p := range f.list {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeProperties) GetActiveProperties(_ context.Context) ([]*models.Property, error) {
	return f.list, nil
}

func date(s string) time.Time {
	t, _ := time.Parse(models.DateLayout, s)
	return t
}

func newExporter(t *testing.T) *Exporter {
	logger := zerolog.Nop()
	src := &fakeSource{bookings: []*models.Booking{
		{ID: 1, PropertyID: 7, PropertyName: "Lake Villa", CustomerName: "Asha", CustomerMobile: "9876543210",
			CheckIn: date("2024-06-01"), CheckOut: date("2024-06-03"), GuestCount: 2,
			Status: models.StatusConfirmed, TotalAmount: decimal.NewFromInt(9000)},
		{ID: 2, PropertyID: 7, PropertyName: "Lake Villa", CustomerName: "Ravi",
			CheckIn: date("2024-06-04"), CheckOut: date("2024-06-05"), GuestCount: 1,
			Status: models.StatusCancelled, TotalAmount: decimal.NewFromInt(4500)},
	}}
	props := &fakeProperties{list: []*models.Property{{ID: 7, Name: "Lake Villa", IsActive: true}}}
	return NewExporter(src, props, t.TempDir(), &logger)
}

func TestWrite(t *testing.T) {
	e := newExporter(t)
	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, date("2024-06-01"), date("2024-06-08")))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{bookingsSheet, calendarSheet}, f.GetSheetList())

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, bookingHeaders, rows[0])
	assert.Equal(t, "Asha", rows[1][2])
	assert.Equal(t, "2024-06-01", rows[1][5])
	assert.Equal(t, "2", rows[1][7])
	assert.Equal(t, "9000", rows[1][10])

	v, err := f.GetCellValue(calendarSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "01.06", v)

	v, err = f.GetCellValue(calendarSheet, "A3")
	require.NoError(t, err)
	assert.Equal(t, "Lake Villa", v)

	v, err = f.GetCellValue(calendarSheet, "C3")
	require.NoError(t, err)
	assert.Contains(t, v, "#1 Asha")

	// check-out night and cancelled stays stay empty
	for _, cell := range []string{"D3", "E3"} {
		v, err = f.GetCellValue(calendarSheet, cell)
		require.NoError(t, err)
		assert.Empty(t, v, cell)
	}
}

func TestSaveToFile(t *testing.T) {
	e := newExporter(t)
	path, err := e.SaveToFile(context.Background(), date("2024-06-01"), date("2024-07-01"))
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "bookings_2024-06-01_to_2024-07-01.xlsx")
}

func TestWrite_InvalidRange(t *testing.T) {
	e := newExporter(t)
	err := e.Write(context.Background(), &bytes.Buffer{}, date("2024-06-05"), date("2024-06-01"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
