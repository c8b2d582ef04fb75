package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

// PriceService resolves reference prices for opening and settling rounds. It
// prefers the live quote feed and falls back to the last operator-pushed
// price held in the price cache.
type PriceService struct {
	symbol   string
	supplier domain.QuoteSupplier
	pushed   domain.PriceCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewPriceService creates a PriceService. supplier may be nil, in which case
// only pushed prices are available.
func NewPriceService(symbol string, supplier domain.QuoteSupplier, pushed domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		symbol:   symbol,
		supplier: supplier,
		pushed:   pushed,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock used for freshness checks.
func (s *PriceService) WithClock(now func() time.Time) *PriceService {
	s.now = now
	return s
}

// Symbol returns the underlying tracked by the service.
func (s *PriceService) Symbol() string { return s.symbol }

// Quote fetches a live quote from the supplier.
func (s *PriceService) Quote(ctx context.Context) (domain.Quote, error) {
	if s.supplier == nil {
		return domain.Quote{}, domain.ErrNoPrice
	}
	q, err := s.supplier.GetQuote(ctx, s.symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("price_service: quote %s: %w", s.symbol, err)
	}
	return q, nil
}

// OpeningPrice returns the session open from the feed, or the last traded
// price when the feed does not report an open yet.
func (s *PriceService) OpeningPrice(ctx context.Context) (domain.Price, error) {
	q, err := s.Quote(ctx)
	if err != nil {
		return 0, err
	}
	if q.Open > 0 {
		return q.Open, nil
	}
	if q.Price > 0 {
		return q.Price, nil
	}
	return 0, domain.ErrNoPrice
}

// ClosingPrice returns the live price, falling back to the pushed price. It
// fails with ErrNoPrice when neither source has a value.
func (s *PriceService) ClosingPrice(ctx context.Context) (domain.Price, time.Time, error) {
	q, err := s.Quote(ctx)
	if err == nil && q.Price > 0 {
		return q.Price, q.Timestamp, nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "price_service: quote failed, trying pushed price",
			slog.String("symbol", s.symbol),
			slog.String("error", err.Error()),
		)
	}
	return s.Pushed(ctx)
}

// Pushed returns the last operator-pushed price.
func (s *PriceService) Pushed(ctx context.Context) (domain.Price, time.Time, error) {
	if s.pushed == nil {
		return 0, time.Time{}, domain.ErrNoPrice
	}
	p, ts, err := s.pushed.GetPrice(ctx, s.symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, time.Time{}, domain.ErrNoPrice
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("price_service: pushed price %s: %w", s.symbol, err)
	}
	return p, ts, nil
}

// PushPrice records an operator-supplied price. A zero at means now.
func (s *PriceService) PushPrice(ctx context.Context, p domain.Price, at time.Time) error {
	if p <= 0 {
		return domain.ErrInvalidPrice
	}
	if s.pushed == nil {
		return fmt.Errorf("price_service: no price cache configured")
	}
	if at.IsZero() {
		at = s.now()
	}
	if err := s.pushed.SetPrice(ctx, s.symbol, p, at); err != nil {
		return fmt.Errorf("price_service: push price %s: %w", s.symbol, err)
	}
	return nil
}

// FreshPushed returns the pushed price when it is younger than maxAge and
// ErrStalePrice otherwise.
func (s *PriceService) FreshPushed(ctx context.Context, maxAge time.Duration) (domain.Price, error) {
	p, ts, err := s.Pushed(ctx)
	if err != nil {
		return 0, err
	}
	if age := s.now().Sub(ts); age > maxAge {
		return 0, fmt.Errorf("price_service: pushed price is %s old: %w", age.Truncate(time.Second), domain.ErrStalePrice)
	}
	return p, nil
}
