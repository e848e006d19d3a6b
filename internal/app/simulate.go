package app

import (
	"context"
	"errors"
	"time"

	"overdue-loan-alerts/internal/alerting"
	"overdue-loan-alerts/internal/fetcher"
)

// SimulateOptions describe the synthetic bid used to test alert delivery.
type SimulateOptions struct {
	ChainID  int64
	BidID    string
	Borrower string
	Raw      string
	Symbol   string
	Decimals int32
	Status   string
}

// SimulateAlert 通过给定的贷款参数模拟一次告警投递，用于验证 Slack 配置。
// Nothing is written to the dedup file or the alert history.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("slack 未配置，无法模拟告警")
	}

	now := time.Now().UTC()
	alert := alerting.OverdueAlert{
		When:    now,
		ChainID: opts.ChainID,
		Bid: fetcher.Bid{
			BidID:       opts.BidID,
			Borrower:    opts.Borrower,
			Principal:   opts.Raw,
			NextDueDate: now.Add(-time.Hour).Unix(),
			Status:      opts.Status,
			LendingToken: fetcher.LendingToken{
				Symbol:   opts.Symbol,
				Decimals: opts.Decimals,
			},
		},
	}

	return notifier.NotifyOverdue(ctx, alert)
}
