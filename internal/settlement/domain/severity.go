package settlement

import "github.com/shopspring/decimal"

// Severity grades a reconciliation discrepancy.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	criticalAbsolute = decimal.NewFromInt(500)
	highRatio        = decimal.RequireFromString("0.02")
	mediumRatio      = decimal.RequireFromString("0.005")
)

// ClassifyDiscrepancy grades diff against the expected payout.
// Above 500 in absolute terms is critical, above 2% high, above 0.5% medium, anything else low.
func ClassifyDiscrepancy(expected, diff decimal.Decimal) Severity {
	abs := diff.Abs()
	if abs.IsZero() {
		return SeverityNone
	}
	if abs.GreaterThan(criticalAbsolute) {
		return SeverityCritical
	}
	if expected.IsZero() {
		return SeverityHigh
	}
	ratio := abs.Div(expected.Abs())
	switch {
	case ratio.GreaterThan(highRatio):
		return SeverityHigh
	case ratio.GreaterThan(mediumRatio):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Severity grades the batch discrepancy. SeverityNone until reconciled.
func (b *Batch) Severity() Severity {
	d, ok := b.Discrepancy()
	if !ok {
		return SeverityNone
	}
	return ClassifyDiscrepancy(*b.state.ExpectedSettlement, d.Amount)
}
