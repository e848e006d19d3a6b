package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"overdue-loan-alerts/internal/config"
)

// GraphQLOptions parameterise the bids query sent to every indexer.
type GraphQLOptions struct {
	Window    time.Duration
	PageSize  int
	Status    string
	Timeout   time.Duration
	UserAgent string
}

// GraphQL polls indexer endpoints for overdue bids over plain HTTP POST.
type GraphQL struct {
	opts   GraphQLOptions
	logger zerolog.Logger
	client *http.Client
}

// NewGraphQL constructs a bid fetcher shared by all endpoints.
func NewGraphQL(opts GraphQLOptions, logger zerolog.Logger) *GraphQL {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 5
	}
	if opts.Status == "" {
		opts.Status = "Accepted"
	}

	return &GraphQL{
		opts:   opts,
		logger: logger.With().Str("component", "bid_fetcher").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// FetchOverdueBids issues one bids query against ep. The query bounds
// nextDueDate to (now - window, now), so only recently lapsed bids come
// back. An empty slice is a valid result; every failure mode returns an
// *EndpointError carrying the endpoint's name and URL.
func (g *GraphQL) FetchOverdueBids(ctx context.Context, ep config.Endpoint, now time.Time) ([]Bid, error) {
	document := g.buildQuery(now)

	body, err := json.Marshal(map[string]string{"query": document})
	if err != nil {
		return nil, g.fail(ep, fmt.Errorf("marshal query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, g.fail(ep, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	if ep.AuthKey != "" {
		if token := os.Getenv(ep.AuthKey); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			g.logger.Warn().Str("endpoint", ep.Name).Str("auth_key", ep.AuthKey).
				Msg("auth_key configured but environment variable not set")
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.fail(ep, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.fail(ep, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, g.fail(ep, httpError(resp.StatusCode, payload))
	}

	var decoded bidsResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, g.fail(ep, fmt.Errorf("decode response: %w", err))
	}

	if len(decoded.Errors) > 0 {
		return nil, g.fail(ep, fmt.Errorf("graphql errors: %s", decoded.Errors.join()))
	}

	bids := make([]Bid, 0, len(decoded.Data.Bids))
	for _, raw := range decoded.Data.Bids {
		bids = append(bids, raw.toBid())
	}

	g.logger.Debug().Str("endpoint", ep.Name).Int("bids", len(bids)).Msg("queried endpoint")
	return bids, nil
}

func (g *GraphQL) buildQuery(now time.Time) string {
	upper := now.Unix()
	lower := upper - int64(g.opts.Window.Seconds())
	return fmt.Sprintf(`{
  bids(
    where: {
      nextDueDate_lt: "%d",
      nextDueDate_gt: "%d",
      status: "%s"
    }
    first: %d
  ) {
    id
    bidId
    nextDueDate
    borrowerAddress
    status
    principal
    lendingToken {
      id
      symbol
      decimals
    }
  }
}`, upper, lower, g.opts.Status, g.opts.PageSize)
}

func (g *GraphQL) fail(ep config.Endpoint, err error) error {
	return &EndpointError{Name: ep.Name, URL: ep.URL, Err: err}
}

func httpError(status int, payload []byte) error {
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		return fmt.Errorf("indexer responded %d: %s", status, trimmed)
	}
	return fmt.Errorf("indexer responded %d", status)
}

// flexInt tolerates subgraph numeric fields that arrive either as JSON
// numbers or as quoted strings (BigInt fields serialise as strings).
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("parse integer field %q: %w", trimmed, err)
	}
	*f = flexInt(parsed)
	return nil
}

type bidPayload struct {
	ID              string  `json:"id"`
	BidID           string  `json:"bidId"`
	NextDueDate     flexInt `json:"nextDueDate"`
	BorrowerAddress string  `json:"borrowerAddress"`
	Status          string  `json:"status"`
	Principal       string  `json:"principal"`
	LendingToken    struct {
		ID       string  `json:"id"`
		Symbol   string  `json:"symbol"`
		Decimals flexInt `json:"decimals"`
	} `json:"lendingToken"`
}

func (p bidPayload) toBid() Bid {
	return Bid{
		ID:          p.ID,
		BidID:       p.BidID,
		Borrower:    p.BorrowerAddress,
		Principal:   p.Principal,
		NextDueDate: int64(p.NextDueDate),
		Status:      p.Status,
		LendingToken: LendingToken{
			ID:       p.LendingToken.ID,
			Symbol:   p.LendingToken.Symbol,
			Decimals: int32(p.LendingToken.Decimals),
		},
	}
}

type graphqlErrors []struct {
	Message string `json:"message"`
}

func (e graphqlErrors) join() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		if item.Message != "" {
			parts = append(parts, item.Message)
		}
	}
	if len(parts) == 0 {
		return "unknown error"
	}
	return strings.Join(parts, "; ")
}

type bidsResponse struct {
	Data struct {
		Bids []bidPayload `json:"bids"`
	} `json:"data"`
	Errors graphqlErrors `json:"errors"`
}

var _ BidFetcher = (*GraphQL)(nil)
