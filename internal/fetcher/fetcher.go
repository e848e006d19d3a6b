package fetcher

import (
	"context"
	"fmt"
	"time"

	"overdue-loan-alerts/internal/config"
)

// BidFetcher retrieves overdue loan bids from a single indexer endpoint.
type BidFetcher interface {
	FetchOverdueBids(ctx context.Context, ep config.Endpoint, now time.Time) ([]Bid, error)
}

// LendingToken identifies the token a bid's principal is denominated in.
type LendingToken struct {
	ID       string
	Symbol   string
	Decimals int32
}

// Bid is one loan record as returned by an indexer. Principal is the raw
// integer amount; scale by LendingToken.Decimals for display. Bids live only
// for the duration of one poll cycle.
type Bid struct {
	ID           string
	BidID        string
	Borrower     string
	Principal    string
	NextDueDate  int64
	Status       string
	LendingToken LendingToken
}

// EndpointError wraps any per-endpoint query failure with enough context to
// render an operator-facing failure alert.
type EndpointError struct {
	Name string
	URL  string
	Err  error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s (%s): %v", e.Name, e.URL, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
