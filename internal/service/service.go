package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"overdue-loan-alerts/internal/alerting"
	"overdue-loan-alerts/internal/config"
	"overdue-loan-alerts/internal/dedup"
	"overdue-loan-alerts/internal/fetcher"
	"overdue-loan-alerts/internal/scheduler"
	"overdue-loan-alerts/internal/storage"
)

// Service orchestrates polling, overdue filtering, alert delivery, and
// dedup bookkeeping.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    fetcher.BidFetcher
	seen       *dedup.Store
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	endpoints  []config.Endpoint
	logger     zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, f fetcher.BidFetcher, seen *dedup.Store, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		fetcher:    f,
		seen:       seen,
		alertStore: alertStore,
		notifier:   notifier,
		endpoints:  cfg.Endpoints,
		logger:     logger.With().Str("component", "service").Logger(),
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunPass)
}

// RunPass 执行一轮完整的端点巡检。Per-endpoint failures are contained here;
// the scheduler only ever observes a completed pass.
func (s *Service) RunPass(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("advisory lock check failed; skipping pass")
		return nil
	}
	if !proceed {
		s.logger.Debug().Time("tick", now).Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, ep := range s.endpoints {
		s.pollEndpoint(ctx, ep, now)
	}
	return nil
}

func (s *Service) pollEndpoint(ctx context.Context, ep config.Endpoint, now time.Time) {
	bids, err := s.fetcher.FetchOverdueBids(ctx, ep, now)
	if err != nil {
		s.reportFailure(ctx, ep, err, now)
		return
	}

	if len(bids) == 0 {
		s.logger.Debug().Str("endpoint", ep.Name).Msg("no overdue bids found")
		return
	}

	s.logger.Info().Str("endpoint", ep.Name).Int("bids", len(bids)).Msg("checking bids for new alerts")

	for _, bid := range bids {
		s.handleBid(ctx, ep, bid, now)
	}
}

// handleBid applies the overdue filter and, for a new alert, sends before
// recording. A failed send leaves the bid unrecorded so the next pass tries
// again: at-least-once delivery, never silent suppression.
func (s *Service) handleBid(ctx context.Context, ep config.Endpoint, bid fetcher.Bid, now time.Time) {
	if bid.NextDueDate >= now.Unix() {
		return
	}

	key := dedup.Key(ep.ChainID, bid.BidID)
	if s.seen.Contains(key) {
		s.logger.Debug().Str("bid_id", bid.BidID).Int64("chain_id", ep.ChainID).Msg("bid already alerted, skipping")
		return
	}

	if s.notifier == nil {
		s.logger.Warn().Str("bid_id", bid.BidID).Int64("chain_id", ep.ChainID).
			Msg("no notifier configured; overdue bid left unrecorded")
		return
	}

	alert := alerting.OverdueAlert{When: now, ChainID: ep.ChainID, Bid: bid}
	if err := s.notifier.NotifyOverdue(ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("bid_id", bid.BidID).Int64("chain_id", ep.ChainID).
			Msg("failed to dispatch overdue alert")
		return
	}

	if err := s.seen.Record(key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to record alerted bid")
	}

	s.mirrorAlert(ctx, ep, bid)
}

func (s *Service) reportFailure(ctx context.Context, ep config.Endpoint, cause error, now time.Time) {
	s.logger.Error().Err(cause).Str("endpoint", ep.Name).Msg("failed to query endpoint")

	reason := cause.Error()
	var epErr *fetcher.EndpointError
	if errors.As(cause, &epErr) && epErr.Err != nil {
		reason = epErr.Err.Error()
	}

	if s.notifier != nil {
		alert := alerting.FailureAlert{When: now, Name: ep.Name, URL: ep.URL, Reason: reason}
		if err := s.notifier.NotifyFailure(ctx, alert); err != nil {
			s.logger.Error().Err(err).Str("endpoint", ep.Name).Msg("failed to dispatch failure alert")
		}
	}

	if s.alertStore != nil {
		record := storage.FailureRecord{Endpoint: ep.Name, URL: ep.URL, Error: reason}
		if _, err := s.alertStore.InsertFailure(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("endpoint", ep.Name).Msg("failed to persist failure record")
		}
	}
}

func (s *Service) mirrorAlert(ctx context.Context, ep config.Endpoint, bid fetcher.Bid) {
	if s.alertStore == nil {
		return
	}

	principal, err := decimal.NewFromString(bid.Principal)
	if err != nil {
		principal = decimal.Zero
	}

	record := storage.AlertRecord{
		ChainID:     ep.ChainID,
		BidID:       bid.BidID,
		Borrower:    bid.Borrower,
		TokenSymbol: bid.LendingToken.Symbol,
		Principal:   principal.Shift(-bid.LendingToken.Decimals),
		NextDueDate: time.Unix(bid.NextDueDate, 0).UTC(),
		Status:      bid.Status,
		Endpoint:    ep.Name,
	}
	if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("bid_id", bid.BidID).Msg("failed to persist alert record")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
