package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const (
	bookingsSheet = "Bookings"
	calendarSheet = "Calendar"
)

var bookingHeaders = []string{
	"ID", "Property", "Customer", "Mobile", "Email", "Check-in", "Check-out",
	"Nights", "Guests", "Status", "Total", "Payment ref", "Created",
}

// BookingSource lists bookings overlapping a period.
type BookingSource interface {
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
}

type Exporter struct {
	bookings   BookingSource
	properties domain.PropertyRepository
	path       string
	logger     *zerolog.Logger
}

func NewExporter(bookings BookingSource, properties domain.PropertyRepository, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{bookings: bookings, properties: properties, path: path, logger: logger}
}

// FileName is the default name of an export for [from, to).
func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format(models.DateLayout), to.Format(models.DateLayout))
}

// Write renders the workbook for bookings overlapping [from, to) into w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, from, to time.Time) error {
	f, err := e.build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveToFile writes the workbook under the export directory and returns
// its path.
func (e *Exporter) SaveToFile(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.path, FileName(from, to))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	r := models.DateRange{Start: models.TruncateDay(from), End: models.TruncateDay(to)}
	if !r.Valid() {
		return nil, domain.ValidationErrors{{Field: "to", Message: "must be after from"}}
	}

	bookings, err := e.bookings.GetBookingsByDateRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}
	properties, err := e.properties.GetActiveProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting properties: %w", err)
	}

	f := excelize.NewFile()
	if err := writeBookingList(f, bookings); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeCalendarGrid(f, r, properties, bookings); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeBookingList(f *excelize.File, bookings []*models.Booking) error {
	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, h)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, header)
	}

	for i, b := range bookings {
		total, _ := b.TotalAmount.Float64()
		row := []interface{}{
			b.ID, b.PropertyName, b.CustomerName, b.CustomerMobile, b.CustomerEmail,
			b.CheckIn.Format(models.DateLayout), b.CheckOut.Format(models.DateLayout),
			b.Nights(), b.GuestCount, b.Status, total, b.PaymentReference,
			b.CreatedAt.Format("2006-01-02 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(bookingsSheet, cell, &row); err != nil {
			return fmt.Errorf("error writing booking %d: %w", b.ID, err)
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "A", 8)
	_ = f.SetColWidth(bookingsSheet, "B", "E", 22)
	_ = f.SetColWidth(bookingsSheet, "F", "M", 14)
	return f.SetPanes(bookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// writeCalendarGrid puts properties in rows and nights in columns.
func writeCalendarGrid(f *excelize.File, r models.DateRange, properties []*models.Property, bookings []*models.Booking) error {
	if _, err := f.NewSheet(calendarSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	_ = f.SetCellValue(calendarSheet, "A1", fmt.Sprintf("Period: %s - %s",
		r.Start.Format("02.01.2006"), r.End.AddDate(0, 0, -1).Format("02.01.2006")))

	dateStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	propertyStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	bookedStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	pendingStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	dateCols := make(map[string]int)
	for i, day := range r.Days() {
		col := i + 2
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(calendarSheet, cell, day.Format("02.01"))
		_ = f.SetCellStyle(calendarSheet, cell, cell, dateStyle)
		dateCols[day.Format(models.DateLayout)] = col
	}

	rows := make(map[int64]int, len(properties))
	for i, p := range properties {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(calendarSheet, cell, p.Name)
		_ = f.SetCellStyle(calendarSheet, cell, cell, propertyStyle)
		rows[p.ID] = row
	}

	for _, b := range bookings {
		row, ok := rows[b.PropertyID]
		if !ok || !blocksCalendar(b.Status) {
			continue
		}
		style := pendingStyle
		if b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted {
			style = bookedStyle
		}
		for _, day := range b.Range().Days() {
			col, ok := dateCols[day.Format(models.DateLayout)]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(calendarSheet, cell, fmt.Sprintf("#%d %s\n%s", b.ID, b.CustomerName, b.Status))
			_ = f.SetCellStyle(calendarSheet, cell, cell, style)
		}
	}

	_ = f.SetColWidth(calendarSheet, "A", "A", 25)
	if len(dateCols) > 0 {
		last, _ := excelize.ColumnNumberToName(len(dateCols) + 1)
		_ = f.SetColWidth(calendarSheet, "B", last, 16)
		_ = f.MergeCell(calendarSheet, "A1", last+"1")
	}
	return nil
}

func blocksCalendar(status string) bool {
	switch status {
	case models.StatusPending, models.StatusApproved, models.StatusConfirmed, models.StatusCompleted:
		return true
	}
	return false
}
