package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"overdue-loan-alerts/internal/fetcher"
)

const displayTimeFormat = "2006-01-02 15:04:05 MST"

// OverdueAlert 封装一次逾期贷款告警的上下文。
type OverdueAlert struct {
	When    time.Time
	ChainID int64
	Bid     fetcher.Bid
}

// FailureAlert reports an endpoint that could not be queried.
type FailureAlert struct {
	When   time.Time
	Name   string
	URL    string
	Reason string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	NotifyOverdue(ctx context.Context, alert OverdueAlert) error
	NotifyFailure(ctx context.Context, alert FailureAlert) error
}

// SlackNotifier 通过 Slack chat.postMessage API 推送消息。
type SlackNotifier struct {
	token   string
	channel string
	baseURL string
	loc     *time.Location
	client  *http.Client
	logger  zerolog.Logger
}

// NewSlackNotifier 构造 Slack 告警器。
func NewSlackNotifier(token, channel, baseURL string, loc *time.Location, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	if loc == nil {
		loc = time.UTC
	}

	return &SlackNotifier{
		token:   token,
		channel: channel,
		baseURL: strings.TrimRight(baseURL, "/"),
		loc:     loc,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_slack").Logger(),
	}
}

// NotifyOverdue 推送一条逾期贷款告警。
func (n *SlackNotifier) NotifyOverdue(ctx context.Context, alert OverdueAlert) error {
	if err := n.postMessage(ctx, renderOverdue(alert, n.loc)); err != nil {
		return err
	}
	n.logger.Info().Int64("chain_id", alert.ChainID).
		Str("bid_id", alert.Bid.BidID).
		Msg("告警已发送 (Slack)")
	return nil
}

// NotifyFailure 推送一条端点查询失败告警。
func (n *SlackNotifier) NotifyFailure(ctx context.Context, alert FailureAlert) error {
	if err := n.postMessage(ctx, renderFailure(alert, n.loc)); err != nil {
		return err
	}
	n.logger.Info().Str("endpoint", alert.Name).Msg("端点失败告警已发送 (Slack)")
	return nil
}

func (n *SlackNotifier) postMessage(ctx context.Context, text string) error {
	payload := map[string]string{
		"channel": n.channel,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	url := n.baseURL + "/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			if result.Error != "" {
				return fmt.Errorf("slack 返回 ok=false: %s", result.Error)
			}
			return fmt.Errorf("slack 返回 ok=false")
		}
	}

	return nil
}

func renderOverdue(alert OverdueAlert, loc *time.Location) string {
	bid := alert.Bid

	builder := strings.Builder{}
	builder.WriteString("🚨 Overdue Loan Alert!\n")
	builder.WriteString(fmt.Sprintf("Timestamp: %s\n", alert.When.In(loc).Format(displayTimeFormat)))
	builder.WriteString(fmt.Sprintf("Chain ID: %d\n", alert.ChainID))
	builder.WriteString(fmt.Sprintf("Bid ID: %s\n", orUnknown(bid.BidID)))
	builder.WriteString(fmt.Sprintf("Borrower: %s\n", formatBorrower(bid.Borrower)))
	builder.WriteString(fmt.Sprintf("Principal Token: %s\n", orUnknown(bid.LendingToken.Symbol)))
	builder.WriteString(fmt.Sprintf("Principal Amount: %s\n", scalePrincipal(bid.Principal, bid.LendingToken.Decimals)))
	builder.WriteString(fmt.Sprintf("Next Due Date: %d\n", bid.NextDueDate))
	builder.WriteString(fmt.Sprintf("Status: %s", orUnknown(bid.Status)))
	return builder.String()
}

func renderFailure(alert FailureAlert, loc *time.Location) string {
	return fmt.Sprintf(
		"⚠️ GraphQL Endpoint Failed!\nTimestamp: %s\nEndpoint: %s %s\nError: %s",
		alert.When.In(loc).Format(displayTimeFormat),
		alert.Name,
		alert.URL,
		alert.Reason,
	)
}

// scalePrincipal renders a raw integer principal scaled down by the lending
// token's decimals, with two fixed places.
func scalePrincipal(raw string, decimals int32) string {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		amount = decimal.Zero
	}
	return amount.Shift(-decimals).StringFixed(2)
}

// formatBorrower checksums hex borrower addresses (EIP-55); anything that is
// not a hex address passes through untouched.
func formatBorrower(borrower string) string {
	if borrower == "" {
		return "unknown"
	}
	if common.IsHexAddress(borrower) {
		return common.HexToAddress(borrower).Hex()
	}
	return borrower
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

var _ Notifier = (*SlackNotifier)(nil)
