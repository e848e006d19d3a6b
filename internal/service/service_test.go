package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"overdue-loan-alerts/internal/alerting"
	"overdue-loan-alerts/internal/config"
	"overdue-loan-alerts/internal/dedup"
	"overdue-loan-alerts/internal/fetcher"
)

type fakeFetcher struct {
	bids map[string][]fetcher.Bid
	errs map[string]error
}

func (f *fakeFetcher) FetchOverdueBids(ctx context.Context, ep config.Endpoint, now time.Time) ([]fetcher.Bid, error) {
	if err, ok := f.errs[ep.Name]; ok {
		return nil, &fetcher.EndpointError{Name: ep.Name, URL: ep.URL, Err: err}
	}
	return f.bids[ep.Name], nil
}

type fakeNotifier struct {
	overdue     []alerting.OverdueAlert
	failures    []alerting.FailureAlert
	overdueErr  error
	failureErr  error
	overdueSent int
}

func (n *fakeNotifier) NotifyOverdue(ctx context.Context, alert alerting.OverdueAlert) error {
	n.overdueSent++
	if n.overdueErr != nil {
		return n.overdueErr
	}
	n.overdue = append(n.overdue, alert)
	return nil
}

func (n *fakeNotifier) NotifyFailure(ctx context.Context, alert alerting.FailureAlert) error {
	if n.failureErr != nil {
		return n.failureErr
	}
	n.failures = append(n.failures, alert)
	return nil
}

func testConfig(endpoints ...config.Endpoint) *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Endpoints: endpoints,
	}
}

func openDedup(t *testing.T) *dedup.Store {
	t.Helper()
	store, err := dedup.Open(filepath.Join(t.TempDir(), "alerted_bids.txt"))
	if err != nil {
		t.Fatalf("open dedup store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func overdueBid(bidID string) fetcher.Bid {
	return fetcher.Bid{
		BidID:       bidID,
		Borrower:    "0xabc123def456",
		Principal:   "1000000",
		NextDueDate: 1705312800,
		Status:      "Accepted",
		LendingToken: fetcher.LendingToken{
			Symbol:   "USDC",
			Decimals: 6,
		},
	}
}

func TestPassEmitsOnceThenSuppresses(t *testing.T) {
	ep := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com", ChainID: 1}
	fakeF := &fakeFetcher{bids: map[string][]fetcher.Bid{"mainnet": {overdueBid("12345")}}}
	fakeN := &fakeNotifier{}
	seen := openDedup(t)

	svc := New(testConfig(ep), nil, fakeF, seen, nil, fakeN, zerolog.Nop())

	now := time.Unix(1705313000, 0)
	if err := svc.RunPass(context.Background(), now); err != nil {
		t.Fatalf("pass should not fail: %v", err)
	}

	if len(fakeN.overdue) != 1 {
		t.Fatalf("expected one overdue alert, got %d", len(fakeN.overdue))
	}
	if fakeN.overdue[0].Bid.BidID != "12345" || fakeN.overdue[0].ChainID != 1 {
		t.Fatalf("unexpected alert %+v", fakeN.overdue[0])
	}
	if !seen.Contains(dedup.Key(1, "12345")) {
		t.Fatal("alerted bid should be recorded")
	}

	// Second pass with identical poller output yields no new alert.
	if err := svc.RunPass(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatalf("second pass should not fail: %v", err)
	}
	if len(fakeN.overdue) != 1 {
		t.Fatalf("duplicate alert emitted: got %d alerts", len(fakeN.overdue))
	}
}

func TestNotOverdueBidNeverEmits(t *testing.T) {
	now := time.Unix(1705313000, 0)
	ep := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com", ChainID: 1}

	dueLater := overdueBid("777")
	dueLater.NextDueDate = now.Unix() + 600
	dueNow := overdueBid("778")
	dueNow.NextDueDate = now.Unix()

	fakeF := &fakeFetcher{bids: map[string][]fetcher.Bid{"mainnet": {dueLater, dueNow}}}
	fakeN := &fakeNotifier{}
	svc := New(testConfig(ep), nil, fakeF, openDedup(t), nil, fakeN, zerolog.Nop())

	if err := svc.RunPass(context.Background(), now); err != nil {
		t.Fatalf("pass should not fail: %v", err)
	}
	if len(fakeN.overdue) != 0 {
		t.Fatalf("bids due now or later must not alert, got %d", len(fakeN.overdue))
	}
}

func TestEndpointFailureIsIsolated(t *testing.T) {
	broken := config.Endpoint{Name: "polygon", URL: "https://indexer.example.com/polygon", ChainID: 137}
	healthy := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com/mainnet", ChainID: 1}

	fakeF := &fakeFetcher{
		bids: map[string][]fetcher.Bid{"mainnet": {overdueBid("12345")}},
		errs: map[string]error{"polygon": errors.New("context deadline exceeded")},
	}
	fakeN := &fakeNotifier{}
	svc := New(testConfig(broken, healthy), nil, fakeF, openDedup(t), nil, fakeN, zerolog.Nop())

	if err := svc.RunPass(context.Background(), time.Unix(1705313000, 0)); err != nil {
		t.Fatalf("pass should not fail: %v", err)
	}

	if len(fakeN.failures) != 1 {
		t.Fatalf("expected one failure alert, got %d", len(fakeN.failures))
	}
	failure := fakeN.failures[0]
	if failure.Name != "polygon" || failure.URL != broken.URL {
		t.Fatalf("failure alert should carry endpoint name and url: %+v", failure)
	}
	if failure.Reason != "context deadline exceeded" {
		t.Fatalf("failure alert should carry the cause: %q", failure.Reason)
	}

	// The broken endpoint must not block the healthy one.
	if len(fakeN.overdue) != 1 {
		t.Fatalf("expected one overdue alert from healthy endpoint, got %d", len(fakeN.overdue))
	}
}

func TestNotifyFailureLeavesBidUnrecorded(t *testing.T) {
	ep := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com", ChainID: 1}
	fakeF := &fakeFetcher{bids: map[string][]fetcher.Bid{"mainnet": {overdueBid("12345")}}}
	fakeN := &fakeNotifier{overdueErr: errors.New("slack unreachable")}
	seen := openDedup(t)

	svc := New(testConfig(ep), nil, fakeF, seen, nil, fakeN, zerolog.Nop())

	now := time.Unix(1705313000, 0)
	if err := svc.RunPass(context.Background(), now); err != nil {
		t.Fatalf("pass should not fail: %v", err)
	}

	if seen.Contains(dedup.Key(1, "12345")) {
		t.Fatal("a failed send must not record the bid")
	}

	// Next tick is the retry mechanism: once delivery recovers, the same
	// bid alerts.
	fakeN.overdueErr = nil
	if err := svc.RunPass(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatalf("second pass should not fail: %v", err)
	}
	if len(fakeN.overdue) != 1 {
		t.Fatalf("expected the alert to be retried, got %d", len(fakeN.overdue))
	}
	if !seen.Contains(dedup.Key(1, "12345")) {
		t.Fatal("successful retry should record the bid")
	}
}

func TestDedupSurvivesRestart(t *testing.T) {
	ep := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com", ChainID: 1}
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")
	now := time.Unix(1705313000, 0)

	fakeF := &fakeFetcher{bids: map[string][]fetcher.Bid{"mainnet": {overdueBid("12345")}}}

	first, err := dedup.Open(path)
	if err != nil {
		t.Fatalf("open dedup: %v", err)
	}
	fakeN := &fakeNotifier{}
	svc := New(testConfig(ep), nil, fakeF, first, nil, fakeN, zerolog.Nop())
	if err := svc.RunPass(context.Background(), now); err != nil {
		t.Fatalf("pass: %v", err)
	}
	first.Close()
	if len(fakeN.overdue) != 1 {
		t.Fatalf("expected one alert before restart, got %d", len(fakeN.overdue))
	}

	second, err := dedup.Open(path)
	if err != nil {
		t.Fatalf("reopen dedup: %v", err)
	}
	defer second.Close()
	restartedN := &fakeNotifier{}
	restarted := New(testConfig(ep), nil, fakeF, second, nil, restartedN, zerolog.Nop())
	if err := restarted.RunPass(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatalf("pass after restart: %v", err)
	}
	if len(restartedN.overdue) != 0 {
		t.Fatalf("restart must not re-alert recorded bids, got %d", len(restartedN.overdue))
	}
}

func TestSameBidOnTwoChainsAlertsTwice(t *testing.T) {
	mainnet := config.Endpoint{Name: "mainnet", URL: "https://indexer.example.com/mainnet", ChainID: 1}
	polygon := config.Endpoint{Name: "polygon", URL: "https://indexer.example.com/polygon", ChainID: 137}

	fakeF := &fakeFetcher{bids: map[string][]fetcher.Bid{
		"mainnet": {overdueBid("555")},
		"polygon": {overdueBid("555")},
	}}
	fakeN := &fakeNotifier{}
	svc := New(testConfig(mainnet, polygon), nil, fakeF, openDedup(t), nil, fakeN, zerolog.Nop())

	if err := svc.RunPass(context.Background(), time.Unix(1705313000, 0)); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(fakeN.overdue) != 2 {
		t.Fatalf("dedup keys are chain-qualified; expected 2 alerts, got %d", len(fakeN.overdue))
	}
}
