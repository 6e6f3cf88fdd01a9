package payment

import (
	"fmt"
	"time"
)

// FormatInvoiceNumber renders an invoice identifier as INV-YYYY-MM-NNNNN.
// The sequence resets per calendar month and is zero-padded to five digits;
// it overflows the padding rather than wrapping once a month passes 99999
// invoices.
func FormatInvoiceNumber(year int, month time.Month, seq int64) string {
	return fmt.Sprintf("INV-%04d-%02d-%05d", year, int(month), seq)
}
