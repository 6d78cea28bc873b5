package export

import (
	"fmt"
	"io"
	"strings"

	"studiobook/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{
	"Booking ID", "Date", "Time", "Duration (h)", "Time zone", "Start (UTC)",
	"Customer", "Email", "Equipment", "Total", "Payment method", "Payment status",
	"Status", "Calendar sync", "Created",
}

var columnWidths = map[string]float64{
	"A": 38, "B": 12, "C": 8, "D": 12, "E": 18, "F": 18,
	"G": 22, "H": 26, "I": 30, "J": 10, "K": 15, "L": 15,
	"M": 11, "N": 14, "O": 18,
}

// FileName returns the attachment name for a date range export.
func FileName(fromDate, toDate string) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", fromDate, toDate)
}

// WriteBookings renders bookings as an XLSX workbook into w.
func WriteBookings(w io.Writer, fromDate, toDate string, bookings []*models.Booking) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	// Заголовок периода
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s", fromDate, toDate))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	cancelledStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	paidStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#C6EFCE"}, Pattern: 1},
	})

	for i, b := range bookings {
		row := i + 3
		values := []any{
			b.ID, b.Date, b.Time, b.DurationHours, b.UserTimeZone,
			b.StartAt.UTC().Format("2006-01-02 15:04"),
			b.UserName, b.UserEmail, strings.Join(b.EquipmentNames(), ", "), b.Total,
			b.PaymentMethod, b.PaymentStatus, b.Status, b.CalendarSync.Status,
			b.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(headers), row)
		switch {
		case !b.IsActive():
			_ = f.SetCellStyle(sheetName, first, last, cancelledStyle)
		case b.IsPaid():
			_ = f.SetCellStyle(sheetName, first, last, paidStyle)
		}
	}

	for col, width := range columnWidths {
		_ = f.SetColWidth(sheetName, col, col, width)
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}
