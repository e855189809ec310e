package google

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/sheets/v4"

	"resortwala/internal/models"
)

var (
	colorFree      = &sheets.Color{Red: 1.0, Green: 1.0, Blue: 1.0}
	colorConfirmed = &sheets.Color{Red: 0.78, Green: 0.94, Blue: 0.81}
	colorPending   = &sheets.Color{Red: 1.0, Green: 0.92, Blue: 0.61}
	colorHeader    = &sheets.Color{Red: 0.86, Green: 0.92, Blue: 0.97}
)

// UpdateCalendarSheet rewrites the Calendar sheet as a property × night grid
// for r. Only bookings that still own nights are shown.
func (s *SheetsService) UpdateCalendarSheet(ctx context.Context, r models.DateRange, properties []*models.Property, bookings []*models.Booking) error {
	days := r.Days()
	if len(days) == 0 {
		return fmt.Errorf("invalid date range: %s", r)
	}
	if len(days) > maxCalendarDays {
		days = days[:maxCalendarDays]
	}

	sheetID, err := s.sheetID(ctx, calendarSheet)
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, calendarSheet+"!A:ZZ", &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}

	occupancy := nightsByProperty(bookings)

	data := [][]interface{}{
		{fmt.Sprintf("Period: %s - %s", days[0].Format("02.01.2006"), days[len(days)-1].Format("02.01.2006"))},
		{},
		prepareDateHeaders(days),
	}
	requests := []*sheets.Request{
		repeatCell(sheetID, 2, 3, 1, int64(len(days)+1), &sheets.CellFormat{
			HorizontalAlignment: "CENTER",
			TextFormat:          &sheets.TextFormat{Bold: true},
			BackgroundColor:     colorHeader,
		}, "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)"),
	}

	for rowIndex, p := range properties {
		row := []interface{}{p.Name}
		for colIndex, day := range days {
			b := occupancy[p.ID][day.Format(models.DateLayout)]
			value, color := formatCalendarCell(b)
			row = append(row, value)
			rowNum := int64(rowIndex + 3)
			requests = append(requests, repeatCell(sheetID, rowNum, rowNum+1, int64(colIndex+1), int64(colIndex+2),
				&sheets.CellFormat{VerticalAlignment: "TOP", WrapStrategy: "WRAP", BackgroundColor: color},
				"userEnteredFormat(backgroundColor,verticalAlignment,wrapStrategy)"))
		}
		data = append(data, row)
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, calendarSheet+"!A1", &sheets.ValueRange{Values: data}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to update calendar sheet: %w", err)
	}

	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to apply formatting: %w", err)
	}
	return nil
}

func prepareDateHeaders(days []time.Time) []interface{} {
	headers := []interface{}{""}
	for _, d := range days {
		headers = append(headers, d.Format("02.01"))
	}
	return headers
}

// nightsByProperty maps property -> night -> booking for bookings that still
// hold calendar locks.
func nightsByProperty(bookings []*models.Booking) map[int64]map[string]*models.Booking {
	out := make(map[int64]map[string]*models.Booking)
	for _, b := range bookings {
		switch b.Status {
		case models.StatusPending, models.StatusApproved, models.StatusConfirmed:
		default:
			continue
		}
		if out[b.PropertyID] == nil {
			out[b.PropertyID] = make(map[string]*models.Booking)
		}
		for _, d := range b.Range().Days() {
			out[b.PropertyID][d.Format(models.DateLayout)] = b
		}
	}
	return out
}

func formatCalendarCell(b *models.Booking) (string, *sheets.Color) {
	if b == nil {
		return "", colorFree
	}
	value := fmt.Sprintf("[#%d] %s (%s)", b.ID, b.CustomerName, b.CustomerMobile)
	if b.Status == models.StatusConfirmed {
		return "✅ " + value, colorConfirmed
	}
	return "⏳ " + value, colorPending
}

func repeatCell(sheetID, startRow, endRow, startCol, endCol int64, format *sheets.CellFormat, fields string) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    startRow,
				EndRowIndex:      endRow,
				StartColumnIndex: startCol,
				EndColumnIndex:   endCol,
			},
			Cell:   &sheets.CellData{UserEnteredFormat: format},
			Fields: fields,
		},
	}
}
