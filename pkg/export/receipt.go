package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt holds the fields rendered on a purchase or enrollment receipt.
type Receipt struct {
	Reference   string
	StudentName string
	ItemTitle   string
	Amount      int64
	Currency    string
	OrderID     string
	PaymentID   string
	PaidAt      time.Time
}

// ReceiptExporter renders payment receipts as PDF documents.
type ReceiptExporter struct{}

// NewReceiptExporter constructs a receipt exporter.
func NewReceiptExporter() *ReceiptExporter {
	return &ReceiptExporter{}
}

// Render creates a single-page receipt PDF.
func (e *ReceiptExporter) Render(r Receipt) ([]byte, error) {
	if r.Reference == "" {
		return nil, fmt.Errorf("receipt requires a reference")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 12, "PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Reference", r.Reference},
		{"Student", r.StudentName},
		{"Item", r.ItemTitle},
		{"Amount", fmt.Sprintf("%.2f %s", float64(r.Amount)/100, strings.ToUpper(r.Currency))},
		{"Order ID", r.OrderID},
		{"Payment ID", r.PaymentID},
		{"Paid At", r.PaidAt.Format(time.RFC1123)},
	}

	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(130, 8, row[1], "1", 1, "", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
