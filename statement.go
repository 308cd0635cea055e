package atmledger

import (
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// BalanceStatement is a point-in-time balance certificate. It carries no
// history.
type BalanceStatement struct {
	AcctID      string
	Balance     decimal.Decimal
	Floor       decimal.Decimal
	GeneratedAt time.Time
}

func (b BalanceStatement) Render(w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Balance statement", false)
	pdf.SetCreationDate(b.GeneratedAt)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Balance statement", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Account", b.AcctID},
		{"Balance", b.Balance.StringFixed(2)},
		{"Overdraft floor", b.Floor.StringFixed(2)},
		{"Generated at", b.GeneratedAt.Format(time.RFC3339)},
	}
	pdf.SetFont("Helvetica", "", 12)
	for _, r := range rows {
		pdf.CellFormat(50, 8, r[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, r[1], "1", 1, "R", false, 0, "")
	}

	return pdf.Output(w)
}
