package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord mirrors one emitted overdue alert for auditing. The flat-file
// dedup set remains the source of truth for suppression; these rows only
// feed the show/export commands.
type AlertRecord struct {
	ID          int64
	ChainID     int64
	BidID       string
	Borrower    string
	TokenSymbol string
	Principal   decimal.Decimal
	NextDueDate time.Time
	Status      string
	Endpoint    string
	CreatedAt   time.Time
}

// FailureRecord captures an endpoint query failure alert.
type FailureRecord struct {
	ID        int64
	Endpoint  string
	URL       string
	Error     string
	CreatedAt time.Time
}
