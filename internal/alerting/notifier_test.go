package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"overdue-loan-alerts/internal/fetcher"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert() OverdueAlert {
	return OverdueAlert{
		When:    time.Date(2024, 1, 15, 10, 3, 20, 0, time.UTC),
		ChainID: 1,
		Bid: fetcher.Bid{
			BidID:       "12345",
			Borrower:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			Principal:   "1000000",
			NextDueDate: 1705312800,
			Status:      "Accepted",
			LendingToken: fetcher.LendingToken{
				Symbol:   "USDC",
				Decimals: 6,
			},
		},
	}
}

func TestSlackNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "chat.postMessage") {
			t.Fatalf("路径应包含 chat.postMessage, 实际 %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewSlackNotifier("xoxb-token", "#webserver-alerts", srv.URL, time.UTC, time.Second, testLogger())

	if err := notifier.NotifyOverdue(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Slack NotifyOverdue 应成功: %v", err)
	}

	if auth != "Bearer xoxb-token" {
		t.Fatalf("authorization header 不正确: %q", auth)
	}
	if received["channel"] != "#webserver-alerts" {
		t.Fatalf("channel 不正确: %#v", received)
	}
	if received["text"] == "" {
		t.Fatalf("text 应非空")
	}
}

func TestSlackNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	notifier := NewSlackNotifier("xoxb-token", "#nope", srv.URL, time.UTC, time.Second, testLogger())

	err := notifier.NotifyOverdue(context.Background(), sampleAlert())
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("error should carry slack reason: %v", err)
	}
}

func TestSlackNotifierFailureAlert(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewSlackNotifier("xoxb-token", "#webserver-alerts", srv.URL, time.UTC, time.Second, testLogger())

	alert := FailureAlert{
		When:   time.Date(2024, 1, 15, 10, 3, 20, 0, time.UTC),
		Name:   "polygon",
		URL:    "https://indexer.example.com/polygon",
		Reason: "context deadline exceeded",
	}
	if err := notifier.NotifyFailure(context.Background(), alert); err != nil {
		t.Fatalf("NotifyFailure 应成功: %v", err)
	}

	text := received["text"]
	for _, want := range []string{"⚠️ GraphQL Endpoint Failed!", "polygon", "https://indexer.example.com/polygon", "context deadline exceeded"} {
		if !strings.Contains(text, want) {
			t.Fatalf("failure alert missing %q:\n%s", want, text)
		}
	}
}

func TestRenderOverdue(t *testing.T) {
	message := renderOverdue(sampleAlert(), time.UTC)

	for _, want := range []string{
		"🚨 Overdue Loan Alert!",
		"Timestamp: 2024-01-15 10:03:20 UTC",
		"Chain ID: 1",
		"Bid ID: 12345",
		"Borrower: 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"Principal Token: USDC",
		"Principal Amount: 1.00",
		"Next Due Date: 1705312800",
		"Status: Accepted",
	} {
		if !strings.Contains(message, want) {
			t.Fatalf("message missing %q:\n%s", want, message)
		}
	}
}

func TestRenderOverdueMissingFields(t *testing.T) {
	alert := OverdueAlert{When: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), ChainID: 1}

	message := renderOverdue(alert, time.UTC)

	for _, want := range []string{
		"Bid ID: unknown",
		"Borrower: unknown",
		"Principal Token: unknown",
		"Principal Amount: 0.00",
	} {
		if !strings.Contains(message, want) {
			t.Fatalf("message missing %q:\n%s", want, message)
		}
	}
}

func TestScalePrincipalEighteenDecimals(t *testing.T) {
	if got := scalePrincipal("5000000000000000000", 18); got != "5.00" {
		t.Fatalf("expected 5.00, got %s", got)
	}
}
