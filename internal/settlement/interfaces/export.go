package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	settlement "finsuite/internal/settlement/domain"
)

const (
	formatPDF  = "pdf"
	formatXLSX = "xlsx"
)

// batchSummary is the label/value view shared by both export formats.
func batchSummary(b *settlement.Batch) [][2]string {
	state := b.State()
	rows := [][2]string{
		{"Batch", state.ID},
		{"Tenant", state.TenantID},
		{"Provider", state.Provider},
		{"Currency", state.Currency},
		{"Status", string(state.Status)},
		{"Payments", fmt.Sprintf("%d", len(state.PaymentIDs))},
		{"Gross", b.Gross().Amount.StringFixed(2)},
		{"Fee", b.Fee().Amount.StringFixed(2)},
		{"Net", b.Net().Amount.StringFixed(2)},
	}
	if expected, ok := b.ExpectedSettlement(); ok {
		rows = append(rows, [2]string{"Expected settlement", expected.Amount.StringFixed(2)})
	}
	if actual, ok := b.ActualSettlement(); ok {
		rows = append(rows, [2]string{"Actual settlement", actual.Amount.StringFixed(2)})
	}
	if diff, ok := b.Discrepancy(); ok {
		rows = append(rows,
			[2]string{"Discrepancy", diff.Amount.StringFixed(2)},
			[2]string{"Severity", string(b.Severity())},
		)
	}
	if state.ExternalReference != "" {
		rows = append(rows, [2]string{"Payout reference", state.ExternalReference})
	}
	if state.DisputeReason != "" {
		rows = append(rows, [2]string{"Dispute reason", state.DisputeReason})
	}
	rows = append(rows, [2]string{"Created", state.CreatedAt.Format(time.RFC3339)})
	if !state.ClosedAt.IsZero() {
		rows = append(rows, [2]string{"Closed", state.ClosedAt.Format(time.RFC3339)})
	}
	if !state.ReconciledAt.IsZero() {
		rows = append(rows, [2]string{"Reconciled", state.ReconciledAt.Format(time.RFC3339)})
	}
	return rows
}

// BuildBatchPDF renders a reconciliation summary for a batch.
func BuildBatchPDF(b *settlement.Batch) ([]byte, error) {
	if b == nil {
		return nil, settlement.ErrNilBatch
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Settlement Batch Reconciliation")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, row := range batchSummary(b) {
		pdf.CellFormat(50, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row[1], "", 0, "L", false, 0, "")
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(15, 6, "#", "1", 0, "C", false, 0, "")
	pdf.CellFormat(100, 6, "Payment", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for i, id := range b.State().PaymentIDs {
		pdf.CellFormat(15, 6, fmt.Sprintf("%d", i+1), "1", 0, "R", false, 0, "")
		pdf.CellFormat(100, 6, id, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBatchXLSX renders the batch summary and its payment ids as a workbook.
func BuildBatchXLSX(b *settlement.Batch) ([]byte, error) {
	if b == nil {
		return nil, settlement.ErrNilBatch
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	summarySheet := "summary"
	paymentsSheet := "payments"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Settlement Batch Reconciliation")
	for i, row := range batchSummary(b) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	_ = f.SetCellValue(paymentsSheet, "A1", "#")
	_ = f.SetCellValue(paymentsSheet, "B1", "Payment")
	for i, id := range b.State().PaymentIDs {
		row := i + 2
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("A%d", row), i+1)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("B%d", row), id)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
